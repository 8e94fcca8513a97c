package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/imyashkale/deployer/internal/models"
)

const (
	DefaultHealthAttempts = 30
	DefaultHealthInterval = 10 * time.Second
	defaultHealthPort     = 8080
	defaultHealthPath     = "/health"
)

// ErrUnhealthy is returned when a probe got an answer that is not healthy
var ErrUnhealthy = errors.New("service reported unhealthy")

// HealthTarget is what a single probe checks
type HealthTarget struct {
	Namespace string
	Selector  string
	Revision  string
	Settings  models.HealthSettings
}

// HealthProber checks a deployed service once
type HealthProber interface {
	Probe(ctx context.Context, target HealthTarget) error
}

// podExec runs commands inside pods
type podExec interface {
	RunningPod(ctx context.Context, namespace, selector string) (string, error)
	Exec(ctx context.Context, namespace, pod string, command ...string) (string, error)
}

// Prober probes a health endpoint over HTTP, or from inside a running pod
// when no URL is configured.
type Prober struct {
	client  *resty.Client
	cluster podExec
}

// NewProber creates a health prober
func NewProber(cluster podExec) *Prober {
	return &Prober{
		client: resty.New().
			SetTimeout(5 * time.Second).
			SetRetryCount(0),
		cluster: cluster,
	}
}

// healthReport is the body served by health endpoints
type healthReport struct {
	Status       string                 `json:"status"`
	Revision     string                 `json:"revision"`
	Dependencies map[string]interface{} `json:"dependencies"`
}

// Probe fetches the health endpoint once and evaluates the report
func (p *Prober) Probe(ctx context.Context, target HealthTarget) error {
	body, err := p.fetch(ctx, target)
	if err != nil {
		return err
	}
	return evaluate(body, target)
}

func (p *Prober) fetch(ctx context.Context, target HealthTarget) ([]byte, error) {
	hs := target.Settings
	if hs.URL != "" {
		resp, err := p.client.R().SetContext(ctx).Get(hs.URL)
		if err != nil {
			return nil, fmt.Errorf("health request failed: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("%w: HTTP %d", ErrUnhealthy, resp.StatusCode())
		}
		return resp.Body(), nil
	}

	if p.cluster == nil {
		return nil, errors.New("no health URL configured and no cluster access")
	}
	pod, err := p.cluster.RunningPod(ctx, target.Namespace, target.Selector)
	if err != nil {
		return nil, err
	}
	port := hs.Port
	if port <= 0 {
		port = defaultHealthPort
	}
	url := fmt.Sprintf("http://localhost:%d%s", port, orDefault(hs.Path, defaultHealthPath))
	out, err := p.cluster.Exec(ctx, target.Namespace, pod, "curl", "-fsS", "--max-time", "5", url)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// evaluate accepts a report whose status is healthy and, when configured,
// whose revision and dependencies match. A report without a status passes
// only when the target opts into StatusOptional.
func evaluate(body []byte, target HealthTarget) error {
	hs := target.Settings
	var report healthReport
	if err := json.Unmarshal(body, &report); err != nil {
		if hs.StatusOptional && !hs.CheckRevision && !hs.CheckDependencies {
			return nil
		}
		return fmt.Errorf("%w: unreadable health report", ErrUnhealthy)
	}

	switch {
	case report.Status == "" && !hs.StatusOptional:
		return fmt.Errorf("%w: no status in health report", ErrUnhealthy)
	case report.Status != "" && !healthyStatus(report.Status):
		return fmt.Errorf("%w: status %q", ErrUnhealthy, report.Status)
	}
	if hs.CheckRevision && target.Revision != "" && report.Revision != target.Revision {
		return fmt.Errorf("%w: serving revision %q, want %q", ErrUnhealthy, report.Revision, target.Revision)
	}
	if hs.CheckDependencies {
		for name, dep := range report.Dependencies {
			if !dependencyHealthy(dep) {
				return fmt.Errorf("%w: dependency %s is down", ErrUnhealthy, name)
			}
		}
	}
	return nil
}

func healthyStatus(s string) bool {
	switch strings.ToLower(s) {
	case "ok", "healthy", "up", "pass":
		return true
	}
	return false
}

func dependencyHealthy(dep interface{}) bool {
	switch v := dep.(type) {
	case string:
		return healthyStatus(v)
	case bool:
		return v
	case map[string]interface{}:
		if s, ok := v["status"].(string); ok {
			return healthyStatus(s)
		}
		if h, ok := v["healthy"].(bool); ok {
			return h
		}
	}
	return false
}
