package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/google/uuid"

	"github.com/imyashkale/deployer/internal/build"
	"github.com/imyashkale/deployer/internal/cleanup"
	"github.com/imyashkale/deployer/internal/cluster"
	"github.com/imyashkale/deployer/internal/config"
	"github.com/imyashkale/deployer/internal/container"
	"github.com/imyashkale/deployer/internal/database"
	"github.com/imyashkale/deployer/internal/deployerr"
	"github.com/imyashkale/deployer/internal/logger"
	"github.com/imyashkale/deployer/internal/models"
	"github.com/imyashkale/deployer/internal/npm"
	"github.com/imyashkale/deployer/internal/pipeline"
	"github.com/imyashkale/deployer/internal/publish"
	"github.com/imyashkale/deployer/internal/repository"
	"github.com/imyashkale/deployer/internal/shell"
	"github.com/imyashkale/deployer/internal/storage"
	"github.com/imyashkale/deployer/internal/strategy"
	"github.com/imyashkale/deployer/internal/vcs"
)

// historyTimeout bounds the history write after a run
const historyTimeout = 10 * time.Second

// app holds the collaborators shared by every pipeline run of the process
type app struct {
	cfg        *config.Config
	descriptor *config.Descriptor
	root       string
	shell      shell.Runner
	git        *vcs.Git
	builder    *build.Builder
	publisher  *publish.Publisher
	dispatcher *strategy.Dispatcher
	history    repository.DeploymentRepository
}

// newApp loads the descriptor and wires the clients
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	descriptor, err := config.LoadDescriptor(cfg.DescriptorPath)
	if err != nil {
		return nil, err
	}

	path := cfg.DescriptorPath
	if path == "" {
		path = config.DefaultDescriptorPath
	}
	root, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, deployerr.Configuration("resolve workspace", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, deployerr.Configuration("load AWS config", err)
	}

	runner := shell.NewExec()
	docker := container.NewDocker(runner)
	kubectl := cluster.NewKubectl(runner)
	git := vcs.NewGit(runner, root, cfg.GitAuthorName, cfg.GitAuthorEmail)
	store := storage.NewS3Store(awsCfg, storage.S3Config{
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		UsePathStyle:    cfg.S3UsePathStyle,
	})

	a := &app{
		cfg:        cfg,
		descriptor: descriptor,
		root:       root,
		shell:      runner,
		git:        git,
		builder:    build.NewBuilder(runner, root),
		publisher:  publish.NewPublisher(store),
		dispatcher: strategy.NewDispatcher(strategy.Dependencies{
			Root:     root,
			Shell:    runner,
			Engine:   docker,
			Images:   docker,
			Cluster:  kubectl,
			VCS:      git,
			Registry: container.NewECRAuth(awsCfg, docker),
			Store:    store,
			CDN:      storage.NewCloudFront(awsCfg),
			Packages: npm.NewClient(runner),
			Health:   strategy.NewProber(kubectl),
			Credentials: strategy.Credentials{
				NpmToken:       cfg.NpmToken,
				DockerHubUser:  cfg.DockerHubUser,
				DockerHubToken: cfg.DockerHubToken,
			},
		}),
	}

	if cfg.HistoryEnabled() {
		a.history, err = newHistory(ctx, cfg)
		if err != nil {
			logger.WithField("error", err.Error()).Warn("Deployment history disabled")
		}
	}

	logger.WithFields(map[string]interface{}{
		"service": descriptor.Service.Name,
		"targets": len(descriptor.Targets),
		"root":    root,
		"region":  awsCfg.Region,
		"history": a.history != nil,
	}).Info("Deployer initialized")

	return a, nil
}

func newHistory(ctx context.Context, cfg *config.Config) (repository.DeploymentRepository, error) {
	dbConfig := database.NewConfig(cfg)
	client, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize DynamoDB client: %w", err)
	}
	return repository.NewDeploymentRepository(database.NewDeploymentOperations(client, dbConfig.TableName)), nil
}

// orchestrator returns a pipeline bound to scope. Each run gets its own scope.
func (a *app) orchestrator(scope *cleanup.Scope) *pipeline.Orchestrator {
	return pipeline.New(pipeline.Config{
		Service:   a.descriptor.Service,
		Targets:   a.descriptor.Targets,
		Root:      a.root,
		Shell:     a.shell,
		Revisions: a.git,
		Builder:   a.builder,
		Publisher: a.publisher,
		Deployer:  a.dispatcher,
		Scope:     scope,
	})
}

// record writes the run to the history table. Failures are logged only.
func (a *app) record(id string, report *models.PipelineReport) {
	if a.history == nil || report == nil {
		return
	}
	if id == "" {
		u, err := uuid.NewV7()
		if err != nil {
			logger.WithField("error", err.Error()).Warn("Failed to allocate deployment id")
			return
		}
		id = u.String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	if err := a.history.Record(ctx, models.NewDeploymentRecord(id, report)); err != nil {
		logger.WithFields(map[string]interface{}{
			"deployment_id": id,
			"error":         err.Error(),
		}).Warn("Failed to record deployment")
	}
}
