// Package pipeline sequences one deployment run: target selection, revision,
// build, upload, strategy dispatch, notifications and cleanup.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/imyashkale/deployer/internal/build"
	"github.com/imyashkale/deployer/internal/cleanup"
	"github.com/imyashkale/deployer/internal/deployerr"
	"github.com/imyashkale/deployer/internal/hooks"
	"github.com/imyashkale/deployer/internal/logger"
	"github.com/imyashkale/deployer/internal/models"
	"github.com/imyashkale/deployer/internal/notify"
	"github.com/imyashkale/deployer/internal/publish"
	"github.com/imyashkale/deployer/internal/shell"
	"github.com/imyashkale/deployer/internal/strategy"
)

// Stage names of the pipeline report
const (
	StageBuild  = "build"
	StageUpload = "upload"
	StageDeploy = "deploy"
)

// Stage statuses
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusSkipped    = "skipped"
	StatusFailed     = "failed"
)

// RevisionSource resolves the revision being deployed
type RevisionSource interface {
	ShortRevision(ctx context.Context) (string, error)
}

// ArtifactBuilder builds binary packages. Package reuses the output of an
// earlier build.
type ArtifactBuilder interface {
	Build(ctx context.Context, req build.Request) (*models.BuildArtifact, error)
	Package(ctx context.Context, req build.Request) (*models.BuildArtifact, error)
}

// ArtifactPublisher uploads binary packages
type ArtifactPublisher interface {
	Publish(ctx context.Context, req publish.Request) ([]string, error)
}

// Deployer dispatches to the deployment strategy of a target
type Deployer interface {
	Deploy(ctx context.Context, req strategy.Request) (*models.DeploymentResult, error)
}

// NotifierFactory returns the notifier of a target
type NotifierFactory func(settings models.NotificationSettings) notify.Notifier

// Options control a single run
type Options struct {
	DryRun          bool
	SkipBuild       bool
	SkipUpload      bool
	ProductOverride string
	// BuildOnly stops after the upload phase
	BuildOnly bool
}

// Config wires an Orchestrator
type Config struct {
	Service   models.ServiceDescriptor
	Targets   []models.DeploymentTarget
	Root      string
	Shell     shell.Runner
	Revisions RevisionSource
	Builder   ArtifactBuilder
	Publisher ArtifactPublisher
	Deployer  Deployer
	Notifiers NotifierFactory
	// Scope may be shared with a signal handler; it is released by Run
	Scope *cleanup.Scope
}

// Orchestrator runs deployments of one service
type Orchestrator struct {
	service   models.ServiceDescriptor
	targets   []models.DeploymentTarget
	root      string
	shell     shell.Runner
	revisions RevisionSource
	builder   ArtifactBuilder
	publisher ArtifactPublisher
	deployer  Deployer
	notifiers NotifierFactory
	scope     *cleanup.Scope
	now       func() time.Time
}

// New creates an orchestrator
func New(cfg Config) *Orchestrator {
	notifiers := cfg.Notifiers
	if notifiers == nil {
		notifiers = notify.New
	}
	scope := cfg.Scope
	if scope == nil {
		scope = cleanup.NewScope()
	}
	return &Orchestrator{
		service:   cfg.Service,
		targets:   cfg.Targets,
		root:      cfg.Root,
		shell:     cfg.Shell,
		revisions: cfg.Revisions,
		builder:   cfg.Builder,
		publisher: cfg.Publisher,
		deployer:  cfg.Deployer,
		notifiers: notifiers,
		scope:     scope,
		now:       time.Now,
	}
}

// run is the state of one pipeline execution
type run struct {
	report   *models.PipelineReport
	target   *models.DeploymentTarget
	opts     Options
	notifier notify.Notifier
	hooks    *hooks.Phases
	log      *StageLog
}

// emit delivers an event even once ctx is cancelled, so an interrupted run
// still reports its outcome
func (r *run) emit(ctx context.Context, t models.EventType, details map[string]interface{}) {
	r.notifier.Notify(context.WithoutCancel(ctx), models.NewEvent(t, r.report.Service, r.report.Environment, details))
}

func (r *run) stage(name, status string, at time.Time, err error) {
	s, ok := r.report.Stages[name]
	if !ok {
		s = &models.BuildStageStatus{}
		r.report.Stages[name] = s
	}
	s.Status = status
	switch status {
	case StatusInProgress:
		s.StartedAt = &at
	case StatusCompleted, StatusFailed, StatusSkipped:
		s.CompletedAt = &at
	}
	if err != nil {
		s.Error = err.Error()
	}
}

// Run deploys the service to environment. Exactly one of deploySuccess and
// deployError is emitted once the target is known, and the cleanup scope is
// released before Run returns.
func (o *Orchestrator) Run(ctx context.Context, environment models.Environment, opts Options) (*models.PipelineReport, error) {
	start := o.now()

	target, ok := models.SelectTarget(o.targets, environment)
	if !ok {
		o.scope.Release()
		err := deployerr.Configuration("select target",
			fmt.Errorf("no deployment target for environment %s", environment))
		return nil, &deployerr.PipelineError{Environment: string(environment), Elapsed: o.now().Sub(start), Err: err}
	}

	svc := o.service
	if opts.ProductOverride != "" {
		svc.Product = opts.ProductOverride
	}

	r := &run{
		report: &models.PipelineReport{
			Service:     svc,
			Environment: environment,
			TargetName:  target.Name,
			Type:        target.Type,
			DryRun:      opts.DryRun,
			StartedAt:   start,
			Stages: map[string]*models.BuildStageStatus{
				StageBuild:  {Status: StatusPending},
				StageUpload: {Status: StatusPending},
				StageDeploy: {Status: StatusPending},
			},
		},
		target:   target,
		opts:     opts,
		notifier: o.notifiers(target.Notifications),
		hooks:    hooks.NewPhases(hooks.NewRunner(o.shell, o.root, opts.DryRun), target.Hooks),
		log:      NewStageLog(),
	}
	log := logger.WithFields(map[string]interface{}{
		"service":         svc.Name,
		"environment":     string(environment),
		"deployment_type": string(target.Type),
	})

	r.report.Revision = o.revision(ctx)
	r.report.BuildID = build.BuildID(start, r.report.Revision)
	log = log.WithField("revision", r.report.Revision)

	r.emit(ctx, models.EventDeployStart, map[string]interface{}{
		"revision": r.report.Revision,
		"target":   target.Name,
		"type":     string(target.Type),
	})
	if opts.DryRun {
		r.emit(ctx, models.EventDryRun, map[string]interface{}{"revision": r.report.Revision})
		log.Info("Dry run: no side effects will be performed")
	}

	err := o.execute(ctx, r)

	elapsed := o.now().Sub(start)
	r.report.Duration = elapsed
	if err != nil {
		r.report.Status = models.StatusFailed
		r.report.Error = err.Error()
		r.log.Error("pipeline", err.Error())
		log.WithFields(map[string]interface{}{
			"error":       err.Error(),
			"kind":        deployerr.KindOf(err).String(),
			"duration_ms": elapsed.Milliseconds(),
		}).Error("Deployment failed")
		r.emit(ctx, models.EventDeployError, map[string]interface{}{
			"error":       err.Error(),
			"kind":        deployerr.KindOf(err).String(),
			"duration_ms": elapsed.Milliseconds(),
			"revision":    r.report.Revision,
		})
	} else {
		r.report.Status = models.StatusSucceeded
		details := map[string]interface{}{
			"duration_ms": elapsed.Milliseconds(),
			"revision":    r.report.Revision,
		}
		if res := r.report.Result; res != nil {
			if res.ImageRef != "" {
				details["image"] = res.ImageRef
			}
			if res.Skipped {
				details["skipped"] = res.SkipReason
			}
		}
		log.WithField("duration_ms", elapsed.Milliseconds()).Info("Deployment succeeded")
		r.emit(ctx, models.EventDeploySuccess, details)
	}

	o.cleanup(ctx, r)
	r.report.Logs = r.log.Limited()

	if err != nil {
		return r.report, &deployerr.PipelineError{Environment: string(environment), Elapsed: elapsed, Err: err}
	}
	return r.report, nil
}

// revision asks version control for the revision. Failure is never fatal:
// a base-36 millisecond timestamp is used instead.
func (o *Orchestrator) revision(ctx context.Context) string {
	if o.revisions != nil {
		rev, err := o.revisions.ShortRevision(ctx)
		if err == nil {
			return rev
		}
		logger.WithField("error", err.Error()).Warn("Could not resolve revision from version control, using timestamp")
	}
	return strconv.FormatInt(o.now().UnixMilli(), 36)
}

func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	if err := o.buildPhase(ctx, r); err != nil {
		return err
	}
	if err := o.uploadPhase(ctx, r); err != nil {
		return err
	}
	if r.opts.BuildOnly {
		r.report.Result = models.SkippedResult(r.target.Type, "build only")
		r.stage(StageDeploy, StatusSkipped, o.now(), nil)
		return nil
	}
	return o.deployPhase(ctx, r)
}

// packaged reports whether the pipeline builds and uploads for the target.
// Every other type builds inside its strategy.
func packaged(t *models.DeploymentTarget) (*models.LambdaZipSettings, bool) {
	s, ok := t.Settings.(*models.LambdaZipSettings)
	return s, ok && !t.Type.EmbedsBuild()
}

func (o *Orchestrator) buildPhase(ctx context.Context, r *run) error {
	settings, ok := packaged(r.target)
	reason := ""
	switch {
	case r.opts.SkipBuild:
		reason = "skip-build flag"
	case !ok:
		reason = "not applicable to " + string(r.target.Type)
	}
	if reason != "" {
		if err := o.skipBuild(ctx, r, reason); err != nil {
			return err
		}
		if ok && r.opts.SkipBuild {
			return o.reuseOutput(ctx, r, settings)
		}
		return nil
	}

	if err := r.hooks.Run(ctx, models.PreBuild); err != nil {
		r.stage(StageBuild, StatusFailed, o.now(), err)
		return err
	}
	if r.opts.DryRun {
		if err := o.skipBuild(ctx, r, "dry run"); err != nil {
			return err
		}
		return r.hooks.Run(ctx, models.PostBuild)
	}

	start := o.now()
	r.stage(StageBuild, StatusInProgress, start, nil)
	r.log.Info(StageBuild, "Starting build")
	r.emit(ctx, models.EventBuildStart, map[string]interface{}{"revision": r.report.Revision})

	artifact, err := o.builder.Build(ctx, build.Request{
		Service:   r.report.Service,
		Settings:  settings.Build,
		Revision:  r.report.Revision,
		BuildID:   r.report.BuildID,
		Timestamp: start,
		Scope:     o.scope,
	})
	if err != nil {
		r.stage(StageBuild, StatusFailed, o.now(), err)
		r.log.Error(StageBuild, err.Error())
		return err
	}
	r.report.Artifact = artifact
	r.stage(StageBuild, StatusCompleted, o.now(), nil)
	r.log.Info(StageBuild, fmt.Sprintf("Built %s (%d bytes)", artifact.Location, artifact.SizeBytes))
	r.emit(ctx, models.EventBuildSuccess, map[string]interface{}{
		"duration_ms": o.now().Sub(start).Milliseconds(),
		"revision":    r.report.Revision,
		"size_bytes":  artifact.SizeBytes,
	})

	return r.hooks.Run(ctx, models.PostBuild)
}

// reuseOutput packages the output of an earlier build so that the upload
// phase still runs when only the build was skipped
func (o *Orchestrator) reuseOutput(ctx context.Context, r *run, settings *models.LambdaZipSettings) error {
	if r.opts.DryRun || r.opts.SkipUpload {
		return nil
	}
	artifact, err := o.builder.Package(ctx, build.Request{
		Service:   r.report.Service,
		Settings:  settings.Build,
		Revision:  r.report.Revision,
		BuildID:   r.report.BuildID,
		Timestamp: o.now(),
		Scope:     o.scope,
	})
	if err != nil {
		r.stage(StageBuild, StatusFailed, o.now(), err)
		r.log.Error(StageBuild, err.Error())
		return err
	}
	r.report.Artifact = artifact
	r.log.Info(StageBuild, fmt.Sprintf("Reusing existing output %s (%d bytes)", artifact.Location, artifact.SizeBytes))
	return nil
}

func (o *Orchestrator) skipBuild(ctx context.Context, r *run, reason string) error {
	r.report.BuildSkipped = true
	r.stage(StageBuild, StatusSkipped, o.now(), nil)
	r.log.Info(StageBuild, "Build skipped: "+reason)
	r.emit(ctx, models.EventBuildSkipped, map[string]interface{}{"reason": reason})
	return nil
}

func (o *Orchestrator) uploadPhase(ctx context.Context, r *run) error {
	_, ok := packaged(r.target)
	reason := ""
	switch {
	case r.opts.SkipUpload:
		reason = "skip-upload flag"
	case !ok:
		reason = "not applicable to " + string(r.target.Type)
	case r.opts.DryRun:
		reason = "dry run"
	case r.report.Artifact == nil:
		reason = "no artifact was built"
	}
	if reason != "" {
		r.report.UploadSkipped = true
		r.stage(StageUpload, StatusSkipped, o.now(), nil)
		r.log.Info(StageUpload, "Upload skipped: "+reason)
		r.emit(ctx, models.EventUploadSkipped, map[string]interface{}{"reason": reason})
		return nil
	}

	start := o.now()
	r.stage(StageUpload, StatusInProgress, start, nil)
	r.emit(ctx, models.EventUploadStart, map[string]interface{}{"bucket": r.target.Storage.Bucket})

	keys, err := o.publisher.Publish(ctx, publish.Request{
		Service:     r.report.Service,
		Environment: r.report.Environment,
		Destination: r.target.Storage,
		Artifact:    r.report.Artifact,
	})
	if err != nil {
		r.stage(StageUpload, StatusFailed, o.now(), err)
		r.log.Error(StageUpload, err.Error())
		return err
	}
	r.report.UploadedKeys = keys
	r.stage(StageUpload, StatusCompleted, o.now(), nil)
	r.log.Info(StageUpload, fmt.Sprintf("Uploaded %d objects to %s", len(keys), r.target.Storage.Bucket))
	r.emit(ctx, models.EventUploadSuccess, map[string]interface{}{
		"bucket":      r.target.Storage.Bucket,
		"keys":        keys,
		"duration_ms": o.now().Sub(start).Milliseconds(),
	})
	return nil
}

func (o *Orchestrator) deployPhase(ctx context.Context, r *run) error {
	_, pipelineHooks := packaged(r.target)
	if pipelineHooks {
		if err := r.hooks.Run(ctx, models.PreDeploy); err != nil {
			r.stage(StageDeploy, StatusFailed, o.now(), err)
			return err
		}
	}

	switch r.target.Type {
	case models.TypeLambdaZip, models.TypeService:
		r.emit(ctx, models.EventPodsRestarting, map[string]interface{}{"revision": r.report.Revision})
	case models.TypeWeb:
		r.emit(ctx, models.EventWebDeploying, map[string]interface{}{"revision": r.report.Revision})
	}

	r.stage(StageDeploy, StatusInProgress, o.now(), nil)
	res, err := o.deployer.Deploy(ctx, strategy.Request{
		Service:  r.report.Service,
		Target:   r.target,
		Artifact: r.report.Artifact,
		Revision: r.report.Revision,
		DryRun:   r.opts.DryRun,
		Hooks:    r.hooks,
		Scope:    o.scope,
	})
	r.report.Result = res
	if err != nil {
		r.stage(StageDeploy, StatusFailed, o.now(), err)
		r.log.Error(StageDeploy, err.Error())
		return err
	}

	if pipelineHooks {
		if err := r.hooks.Run(ctx, models.PostDeploy); err != nil {
			r.stage(StageDeploy, StatusFailed, o.now(), err)
			return err
		}
	}

	if res == nil {
		res = models.SkippedResult(r.target.Type, "no result")
		r.report.Result = res
	}
	status := StatusCompleted
	if res.Skipped {
		status = StatusSkipped
		r.log.Warning(StageDeploy, "Deployment skipped: "+res.SkipReason)
	}
	r.stage(StageDeploy, status, o.now(), nil)

	if res.PodCount > 0 {
		r.emit(ctx, models.EventPodsReady, map[string]interface{}{
			"pods":   res.PodCount,
			"status": res.PodStatus,
		})
	}
	if res.DeployedFiles > 0 {
		details := map[string]interface{}{"files": res.DeployedFiles}
		if res.InvalidationID != "" {
			details["invalidation_id"] = res.InvalidationID
		}
		r.emit(ctx, models.EventWebDeployed, details)
	}
	return nil
}

// cleanup releases everything acquired during the run exactly once
func (o *Orchestrator) cleanup(ctx context.Context, r *run) {
	n := o.scope.Release()
	if n == 0 {
		return
	}
	r.log.Info("cleanup", fmt.Sprintf("Released %d resources", n))
	r.emit(ctx, models.EventCleanup, map[string]interface{}{"resources": n})
}
