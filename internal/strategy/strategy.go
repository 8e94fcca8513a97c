// Package strategy applies a built artifact to its target system. There is one
// strategy per deployment type; Dispatcher selects it from the target settings.
package strategy

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/imyashkale/deployer/internal/cleanup"
	"github.com/imyashkale/deployer/internal/cluster"
	"github.com/imyashkale/deployer/internal/container"
	"github.com/imyashkale/deployer/internal/deployerr"
	"github.com/imyashkale/deployer/internal/hooks"
	"github.com/imyashkale/deployer/internal/logger"
	"github.com/imyashkale/deployer/internal/models"
	"github.com/imyashkale/deployer/internal/npm"
	"github.com/imyashkale/deployer/internal/shell"
	"github.com/imyashkale/deployer/internal/storage"
	"github.com/imyashkale/deployer/internal/vcs"
)

var errNoTarget = errors.New("no deployment target selected")

// Request carries everything a strategy needs for one run
type Request struct {
	Service  models.ServiceDescriptor
	Target   *models.DeploymentTarget
	Artifact *models.BuildArtifact
	Revision string
	DryRun   bool
	Hooks    *hooks.Phases
	Scope    *cleanup.Scope
}

// Strategy deploys one request
type Strategy interface {
	Deploy(ctx context.Context, req Request) (*models.DeploymentResult, error)
}

// ContainerEngine builds and moves images
type ContainerEngine interface {
	Build(ctx context.Context, opts container.BuildOptions) error
	Tag(ctx context.Context, source, target string) error
	Push(ctx context.Context, ref string) error
	RemoveImage(ctx context.Context, ref string) error
}

// ImagePublisher builds and pushes multi-platform images
type ImagePublisher interface {
	Login(ctx context.Context, registry, username, password string) error
	BuildxPush(ctx context.Context, opts container.BuildOptions, platforms []string) error
}

// Cluster is the cluster control surface used by the strategies
type Cluster interface {
	ApplyManifest(ctx context.Context, namespace, path string) error
	SetImage(ctx context.Context, namespace, deployment, container, image string) error
	RolloutRestart(ctx context.Context, namespace, deployment string) error
	RolloutStatus(ctx context.Context, namespace, deployment string, timeout time.Duration) error
	RolloutUndo(ctx context.Context, namespace, deployment string) error
	GetPods(ctx context.Context, namespace, selector string) (cluster.PodList, error)
	RunningPod(ctx context.Context, namespace, selector string) (string, error)
	ServiceNodePort(ctx context.Context, namespace, service string) (int, error)
	RunJob(ctx context.Context, namespace, name, manifest string) error
	WaitJob(ctx context.Context, namespace, name string, timeout time.Duration) error
	JobLogs(ctx context.Context, namespace, name string) (string, error)
	DeleteJob(ctx context.Context, namespace, name string) error
	Exec(ctx context.Context, namespace, pod string, command ...string) (string, error)
}

// VCS commits manifest changes
type VCS interface {
	CommitAndPush(ctx context.Context, req vcs.CommitRequest) error
}

// ObjectStore receives static site files
type ObjectStore interface {
	EnsureBucket(ctx context.Context, bucket string) error
	PutObject(ctx context.Context, obj storage.Object) error
}

// CDN invalidates cached paths
type CDN interface {
	CreateInvalidation(ctx context.Context, distributionID string, paths []string) (string, error)
}

// PackageRegistry publishes npm packages
type PackageRegistry interface {
	Version(ctx context.Context, dir string) (string, error)
	Publish(ctx context.Context, req npm.PublishRequest) error
}

// Credentials for the public registries
type Credentials struct {
	NpmToken       string
	DockerHubUser  string
	DockerHubToken string
}

// Dependencies wires the collaborators into the strategies
type Dependencies struct {
	Root        string
	Shell       shell.Runner
	Engine      ContainerEngine
	Images      ImagePublisher
	Cluster     Cluster
	VCS         VCS
	Registry    container.RegistryAuth
	Store       ObjectStore
	CDN         CDN
	Packages    PackageRegistry
	Health      HealthProber
	Credentials Credentials
}

// Dispatcher selects the strategy for a target's settings variant
type Dispatcher struct {
	container  *Container
	runtime    *Runtime
	web        *Web
	npm        *Npm
	dockerhub  *DockerHub
	podRestart *PodRestart
}

// NewDispatcher creates every strategy from deps
func NewDispatcher(deps Dependencies) *Dispatcher {
	if deps.Registry == nil {
		deps.Registry = container.NoAuth{}
	}
	return &Dispatcher{
		container:  NewContainer(deps),
		runtime:    NewRuntime(deps),
		web:        NewWeb(deps),
		npm:        NewNpm(deps),
		dockerhub:  NewDockerHub(deps),
		podRestart: NewPodRestart(deps),
	}
}

// Deploy runs the strategy matching the target settings. A target whose
// type is unknown yields a skipped result rather than an error.
func (d *Dispatcher) Deploy(ctx context.Context, req Request) (*models.DeploymentResult, error) {
	if req.Target == nil {
		return nil, deployerr.Configuration("dispatch", errNoTarget)
	}

	switch s := req.Target.Settings.(type) {
	case *models.LambdaZipSettings:
		return d.podRestart.Deploy(ctx, req, s)
	case *models.ContainerSettings:
		return d.container.Deploy(ctx, req, s)
	case *models.WebSettings:
		return d.web.Deploy(ctx, req, s)
	case *models.NpmSettings:
		return d.npm.Deploy(ctx, req, s)
	case *models.DockerHubSettings:
		return d.dockerhub.Deploy(ctx, req, s)
	case *models.ServiceSettings:
		return d.runtime.Deploy(ctx, req, s)
	}

	logger.WithFields(map[string]interface{}{
		"service":         req.Service.Name,
		"deployment_type": string(req.Target.Type),
	}).Warn("Unknown deployment type, skipping deployment")
	return models.SkippedResult(req.Target.Type, "unsupported deployment type "+string(req.Target.Type)), nil
}

// runCommand runs a user build command through the shell
func runCommand(ctx context.Context, runner shell.Runner, dir, command string, timeout time.Duration) error {
	_, err := runner.Run(ctx, shell.Command{
		Name:    "sh",
		Args:    []string{"-c", command},
		Dir:     dir,
		Timeout: timeout,
	})
	return err
}

// resolve makes p relative to root unless it is absolute
func resolve(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func entry(req Request) *logrus.Entry {
	return logger.WithFields(map[string]interface{}{
		"service":         req.Service.Name,
		"environment":     string(req.Target.Environment),
		"deployment_type": string(req.Target.Type),
		"revision":        req.Revision,
	})
}

// namespaceFor falls back to the product, then to the default namespace
func namespaceFor(configured string, svc models.ServiceDescriptor) string {
	return orDefault(orDefault(configured, svc.Product), "default")
}
