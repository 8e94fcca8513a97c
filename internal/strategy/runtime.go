package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/imyashkale/deployer/internal/cluster"
	"github.com/imyashkale/deployer/internal/container"
	"github.com/imyashkale/deployer/internal/deployerr"
	"github.com/imyashkale/deployer/internal/logger"
	"github.com/imyashkale/deployer/internal/models"
)

// Runtime deploys a long-running service: image, migration job, rolling
// update and health checks. It is the only strategy that compensates for a
// failure by rolling the deployment back.
type Runtime struct {
	root     string
	engine   ContainerEngine
	cluster  Cluster
	registry container.RegistryAuth
	health   HealthProber
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewRuntime creates the managed runtime strategy
func NewRuntime(deps Dependencies) *Runtime {
	health := deps.Health
	if health == nil && deps.Cluster != nil {
		health = NewProber(deps.Cluster)
	}
	return &Runtime{
		root:     deps.Root,
		engine:   deps.Engine,
		cluster:  deps.Cluster,
		registry: deps.Registry,
		health:   health,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// run tracks the state machine of one deployment
type run struct {
	res *models.DeploymentResult
	log func(state string)
}

func (r *run) enter(state string) {
	r.res.States = append(r.res.States, state)
	r.log(state)
}

// Deploy runs Building, Pushing, Migrating, RolloutRestarting and
// HealthChecking in order. Any failure once the push has started rolls the
// deployment back once; the original failure is returned either way.
func (rt *Runtime) Deploy(ctx context.Context, req Request, s *models.ServiceSettings) (*models.DeploymentResult, error) {
	img := newImage(s.ImageBuild, s.Registry, req.Service, req.Revision, rt.now())
	res := &models.DeploymentResult{
		Type:     models.TypeService,
		Revision: req.Revision,
		ImageRef: img.published + ":" + img.tag,
		ImageTag: img.tag,
	}
	log := entry(req).WithField("image", res.ImageRef)
	r := &run{res: res, log: func(state string) { log.WithField("state", state).Info("Runtime deployment state") }}

	namespace := namespaceFor(s.Namespace, req.Service)
	deployment := orDefault(s.Deployment, req.Service.Name)

	r.enter(models.StateBuilding)
	if err := req.Hooks.Run(ctx, models.PreBuild); err != nil {
		return res, err
	}
	if !req.DryRun {
		local, err := buildImage(ctx, rt.engine, rt.root, s.ImageBuild, img, req.Scope)
		if err != nil {
			return res, err
		}
		defer local.Release()
	}
	if err := req.Hooks.Run(ctx, models.PostBuild); err != nil {
		return res, err
	}

	if req.DryRun {
		for _, state := range []string{models.StatePushing, models.StateMigrating, models.StateRolloutRestarting, models.StateHealthChecking} {
			r.enter(state)
		}
		log.Info("Dry run: skipping push, migration, rollout and health checks")
		if err := req.Hooks.Run(ctx, models.PreDeploy); err != nil {
			return res, err
		}
		if err := req.Hooks.Run(ctx, models.PostDeploy); err != nil {
			return res, err
		}
		r.enter(models.StateHealthy)
		return res, nil
	}

	if err := rt.rollout(ctx, req, s, img, r, namespace, deployment); err != nil {
		r.enter(models.StateFailed)
		if ctx.Err() != nil {
			// an interrupted run leaves the rollout as it is
			log.WithField("error", err.Error()).Warn("Rollout interrupted; not rolling back")
			return res, err
		}
		rt.rollback(ctx, r, namespace, deployment, err)
		return res, err
	}

	r.enter(models.StateHealthy)
	res.Healthy = true
	return res, nil
}

// rollout covers every step after which a failure must be rolled back
func (rt *Runtime) rollout(ctx context.Context, req Request, s *models.ServiceSettings, img image, r *run, namespace, deployment string) error {
	r.enter(models.StatePushing)
	if err := pushImage(ctx, rt.engine, rt.registry, rt.cluster, s.Registry, img); err != nil {
		return err
	}
	if err := req.Hooks.Run(ctx, models.PreDeploy); err != nil {
		return err
	}

	r.enter(models.StateMigrating)
	if s.Migration.JobManifest != "" {
		if err := rt.migrate(ctx, s.Migration, namespace, req.Service.Name); err != nil {
			return err
		}
		r.res.MigrationRan = true
	}

	r.enter(models.StateRolloutRestarting)
	containerName := orDefault(s.Container, req.Service.Name)
	if err := rt.cluster.SetImage(ctx, namespace, deployment, containerName, r.res.ImageRef); err != nil {
		return deployerr.Deployment("set image", err)
	}
	if err := rt.cluster.RolloutStatus(ctx, namespace, deployment, s.RolloutTimeout); err != nil {
		return deployerr.Deployment("rollout", err)
	}

	selector := orDefault(s.Selector, "app="+req.Service.Name)
	if pods, err := rt.cluster.GetPods(ctx, namespace, selector); err == nil {
		r.res.PodCount = pods.Running()
		r.res.PodStatus = pods.Status()
	}

	r.enter(models.StateHealthChecking)
	if err := rt.waitHealthy(ctx, HealthTarget{
		Namespace: namespace,
		Selector:  selector,
		Revision:  req.Revision,
		Settings:  s.Health,
	}); err != nil {
		return deployerr.Verification("health check", err)
	}

	return req.Hooks.Run(ctx, models.PostDeploy)
}

// migrate runs the migration job to completion and removes it. Logs of a
// failed job are attached to the error.
func (rt *Runtime) migrate(ctx context.Context, m models.MigrationSettings, namespace, service string) error {
	name := orDefault(m.JobName, service+"-migrate")
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = cluster.DefaultTimeout
	}

	if err := rt.cluster.RunJob(ctx, namespace, name, resolve(rt.root, m.JobManifest)); err != nil {
		return deployerr.Deployment("start migration", err)
	}
	if err := rt.cluster.WaitJob(ctx, namespace, name, timeout); err != nil {
		logs, logErr := rt.cluster.JobLogs(ctx, namespace, name)
		if logErr == nil && logs != "" {
			logger.WithFields(map[string]interface{}{
				"job":  name,
				"logs": logs,
			}).Error("Migration job failed")
			return deployerr.Deployment("migration", fmt.Errorf("%w\n%s", err, logs))
		}
		return deployerr.Deployment("migration", err)
	}
	if err := rt.cluster.DeleteJob(ctx, namespace, name); err != nil {
		logger.WithField("job", name).Warn("Failed to delete completed migration job")
	}
	return nil
}

// waitHealthy probes until healthy or the attempt budget is spent
func (rt *Runtime) waitHealthy(ctx context.Context, target HealthTarget) error {
	attempts := target.Settings.Attempts
	if attempts <= 0 {
		attempts = DefaultHealthAttempts
	}
	interval := target.Settings.Interval
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	if rt.health == nil {
		return fmt.Errorf("no health prober configured")
	}

	var last error
	for i := 1; i <= attempts; i++ {
		last = rt.health.Probe(ctx, target)
		if last == nil {
			return nil
		}
		logger.WithFields(map[string]interface{}{
			"attempt":  i,
			"attempts": attempts,
			"error":    last.Error(),
		}).Debug("Health check not passing yet")
		if i < attempts {
			if err := rt.sleep(ctx, interval); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("not healthy after %d attempts: %w", attempts, last)
}

// rollback reverts the deployment to its previous revision. Its own failure
// is logged and never replaces cause.
func (rt *Runtime) rollback(ctx context.Context, r *run, namespace, deployment string, cause error) {
	r.enter(models.StateRollingBack)
	log := logger.WithFields(map[string]interface{}{
		"namespace":  namespace,
		"deployment": deployment,
		"cause":      cause.Error(),
	})

	rbCtx, cancel := context.WithTimeout(ctx, cluster.DefaultTimeout)
	defer cancel()
	if err := rt.cluster.RolloutUndo(rbCtx, namespace, deployment); err != nil {
		log.WithField("error", err.Error()).Error("Rollback failed")
		return
	}
	r.enter(models.StateRolledBack)
	r.res.RolledBack = true
	log.Warn("Deployment rolled back")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
