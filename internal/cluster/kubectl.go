// Package cluster drives kubectl for the deployment strategies.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/imyashkale/deployer/internal/shell"
)

const (
	// DefaultTimeout bounds rollout and job waits that have no configured value
	DefaultTimeout = 300 * time.Second
	// waits get some slack so kubectl reports the timeout rather than being killed
	waitSlack      = 30 * time.Second
	commandTimeout = 2 * time.Minute
)

var (
	ErrJobFailed  = errors.New("job failed")
	ErrNoPods     = errors.New("no running pods")
	ErrNoNodePort = errors.New("service has no node port")
)

// Pod is the name and phase of one pod
type Pod struct {
	Name  string
	Phase string
}

// PodList is the result of a pod query
type PodList []Pod

// Running counts pods in the Running phase
func (l PodList) Running() int {
	n := 0
	for _, p := range l {
		if p.Phase == "Running" {
			n++
		}
	}
	return n
}

// Status summarises the list as "running/total Running"
func (l PodList) Status() string {
	return fmt.Sprintf("%d/%d Running", l.Running(), len(l))
}

// Kubectl runs kubectl against the current kubeconfig context
type Kubectl struct {
	runner shell.Runner
}

// NewKubectl creates a kubectl client
func NewKubectl(runner shell.Runner) *Kubectl {
	return &Kubectl{runner: runner}
}

// ApplyManifest applies a manifest file or directory
func (k *Kubectl) ApplyManifest(ctx context.Context, namespace, path string) error {
	if _, err := k.run(ctx, commandTimeout, namespace, "apply", "-f", path); err != nil {
		return fmt.Errorf("kubectl apply %s: %w", path, err)
	}
	return nil
}

// SetImage points a deployment container at image
func (k *Kubectl) SetImage(ctx context.Context, namespace, deployment, container, image string) error {
	_, err := k.run(ctx, commandTimeout, namespace, "set", "image", "deployment/"+deployment, container+"="+image)
	if err != nil {
		return fmt.Errorf("kubectl set image: %w", err)
	}
	return nil
}

// RolloutRestart triggers a rolling restart of a deployment
func (k *Kubectl) RolloutRestart(ctx context.Context, namespace, deployment string) error {
	if _, err := k.run(ctx, commandTimeout, namespace, "rollout", "restart", "deployment/"+deployment); err != nil {
		return fmt.Errorf("kubectl rollout restart: %w", err)
	}
	return nil
}

// RolloutStatus waits until the rollout of a deployment completes
func (k *Kubectl) RolloutStatus(ctx context.Context, namespace, deployment string, timeout time.Duration) error {
	timeout = orDefault(timeout)
	_, err := k.run(ctx, timeout+waitSlack, namespace,
		"rollout", "status", "deployment/"+deployment, "--timeout="+seconds(timeout))
	if err != nil {
		return fmt.Errorf("rollout of %s did not complete: %w", deployment, err)
	}
	return nil
}

// RolloutUndo reverts a deployment to its previous revision
func (k *Kubectl) RolloutUndo(ctx context.Context, namespace, deployment string) error {
	if _, err := k.run(ctx, commandTimeout, namespace, "rollout", "undo", "deployment/"+deployment); err != nil {
		return fmt.Errorf("kubectl rollout undo: %w", err)
	}
	return nil
}

// GetPods lists the pods matching selector
func (k *Kubectl) GetPods(ctx context.Context, namespace, selector string) (PodList, error) {
	res, err := k.run(ctx, commandTimeout, namespace, "get", "pods", "-l", selector,
		`-o=jsonpath={range .items[*]}{.metadata.name}{" "}{.status.phase}{"\n"}{end}`)
	if err != nil {
		return nil, fmt.Errorf("kubectl get pods: %w", err)
	}

	var pods PodList
	for _, line := range strings.Split(res.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		p := Pod{Name: fields[0]}
		if len(fields) > 1 {
			p.Phase = fields[1]
		}
		pods = append(pods, p)
	}
	return pods, nil
}

// RunningPod returns the name of one running pod matching selector
func (k *Kubectl) RunningPod(ctx context.Context, namespace, selector string) (string, error) {
	pods, err := k.GetPods(ctx, namespace, selector)
	if err != nil {
		return "", err
	}
	for _, p := range pods {
		if p.Phase == "Running" {
			return p.Name, nil
		}
	}
	return "", fmt.Errorf("%w for %s in %s", ErrNoPods, selector, namespace)
}

// ServiceNodePort returns the first node port of a service
func (k *Kubectl) ServiceNodePort(ctx context.Context, namespace, service string) (int, error) {
	res, err := k.run(ctx, commandTimeout, namespace, "get", "service", service,
		"-o=jsonpath={.spec.ports[0].nodePort}")
	if err != nil {
		return 0, fmt.Errorf("kubectl get service %s: %w", service, err)
	}
	port, err := strconv.Atoi(strings.TrimSpace(res.Stdout))
	if err != nil || port <= 0 {
		return 0, fmt.Errorf("%w: %s/%s", ErrNoNodePort, namespace, service)
	}
	return port, nil
}

// RunJob replaces any previous job called name and applies manifest
func (k *Kubectl) RunJob(ctx context.Context, namespace, name, manifest string) error {
	if err := k.DeleteJob(ctx, namespace, name); err != nil {
		return err
	}
	if _, err := k.run(ctx, commandTimeout, namespace, "apply", "-f", manifest); err != nil {
		return fmt.Errorf("failed to start job %s: %w", name, err)
	}
	return nil
}

// WaitJob waits for a job to complete. A job that reports the Failed
// condition returns ErrJobFailed.
func (k *Kubectl) WaitJob(ctx context.Context, namespace, name string, timeout time.Duration) error {
	timeout = orDefault(timeout)
	_, err := k.run(ctx, timeout+waitSlack, namespace,
		"wait", "--for=condition=complete", "job/"+name, "--timeout="+seconds(timeout))
	if err == nil {
		return nil
	}

	res, condErr := k.run(ctx, commandTimeout, namespace, "get", "job", name,
		`-o=jsonpath={.status.conditions[?(@.type=="Failed")].status}`)
	if condErr == nil && strings.TrimSpace(res.Stdout) == "True" {
		return fmt.Errorf("%w: %s", ErrJobFailed, name)
	}
	return fmt.Errorf("job %s did not complete within %s: %w", name, timeout, err)
}

// JobLogs returns the tail of a job's logs
func (k *Kubectl) JobLogs(ctx context.Context, namespace, name string) (string, error) {
	res, err := k.run(ctx, commandTimeout, namespace, "logs", "job/"+name, "--tail=200")
	if err != nil {
		return "", fmt.Errorf("kubectl logs job/%s: %w", name, err)
	}
	return res.Stdout, nil
}

// DeleteJob deletes a job and its pods; a missing job is not an error
func (k *Kubectl) DeleteJob(ctx context.Context, namespace, name string) error {
	_, err := k.run(ctx, commandTimeout, namespace, "delete", "job", name, "--ignore-not-found")
	if err != nil {
		return fmt.Errorf("kubectl delete job %s: %w", name, err)
	}
	return nil
}

// Exec runs a command inside pod and returns its stdout
func (k *Kubectl) Exec(ctx context.Context, namespace, pod string, command ...string) (string, error) {
	args := []string{"exec", pod}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}
	args = append(append(args, "--"), command...)
	res, err := k.run(ctx, commandTimeout, "", args...)
	if err != nil {
		return "", fmt.Errorf("kubectl exec %s: %w", pod, err)
	}
	return res.Stdout, nil
}

func (k *Kubectl) run(ctx context.Context, timeout time.Duration, namespace string, args ...string) (*shell.Result, error) {
	if namespace != "" {
		args = append(args, "-n", namespace)
	}
	return k.runner.Run(ctx, shell.Command{Name: "kubectl", Args: args, Timeout: timeout})
}

func orDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}

func seconds(d time.Duration) string {
	return strconv.Itoa(int(d/time.Second)) + "s"
}
