package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/imyashkale/deployer/internal/cleanup"
	"github.com/imyashkale/deployer/internal/config"
	"github.com/imyashkale/deployer/internal/deployerr"
	"github.com/imyashkale/deployer/internal/handlers"
	"github.com/imyashkale/deployer/internal/logger"
	"github.com/imyashkale/deployer/internal/models"
	"github.com/imyashkale/deployer/internal/pipeline"
	"github.com/imyashkale/deployer/internal/queue"
	"github.com/imyashkale/deployer/internal/router"
)

const (
	exitFailure   = 1
	exitInterrupt = 130
	exitTerminate = 143

	queueSize       = 100
	shutdownTimeout = 30 * time.Second
)

// exitError carries a process exit code out of a command
type exitError struct {
	code int
	sig  os.Signal
}

func (e *exitError) Error() string {
	return fmt.Sprintf("interrupted by %s", e.sig)
}

type globalFlags struct {
	configPath string
	logLevel   string
}

type runFlags struct {
	product    string
	skipBuild  bool
	skipUpload bool
	dryRun     bool
}

func main() {
	os.Exit(execute())
}

func execute() int {
	cmd := newRootCmd()
	err := cmd.Execute()
	if err == nil {
		return 0
	}

	var ee *exitError
	if errors.As(err, &ee) {
		logger.WithField("signal", ee.sig.String()).Warn("Deployment interrupted")
		return ee.code
	}
	logger.WithField("kind", deployerr.KindOf(err).String()).Error(err.Error())
	return exitFailure
}

func newRootCmd() *cobra.Command {
	var (
		flags globalFlags
		cfg   *config.Config
	)

	root := &cobra.Command{
		Use:           "deployer",
		Short:         "Build and deploy a service to the environment described in deploy.yaml",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cfg, err = config.New()
			if err != nil {
				return deployerr.Configuration("load settings", err)
			}
			if flags.configPath != "" {
				cfg.DescriptorPath = flags.configPath
			}
			if flags.logLevel != "" {
				cfg.LogLevel = flags.logLevel
			}

			// serve logs JSON unless LOG_FORMAT says otherwise
			format := cfg.LogFormat
			if _, set := os.LookupEnv("LOG_FORMAT"); !set && cmd.Name() == "serve" {
				format = logger.FormatJSON
			}
			logger.Init(cfg.LogLevel, format)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to the deployment descriptor (default deploy.yaml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR")

	settings := func() *config.Config { return cfg }
	root.AddCommand(
		newDeployCmd(settings),
		newBuildCmd(settings),
		newServeCmd(settings),
	)
	return root
}

func newDeployCmd(settings func() *config.Config) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "deploy <environment>",
		Short: "Build, upload and deploy to an environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), settings(), args[0], pipeline.Options{
				DryRun:          f.dryRun,
				SkipBuild:       f.skipBuild,
				SkipUpload:      f.skipUpload,
				ProductOverride: f.product,
			})
		},
	}
	cmd.Flags().StringVar(&f.product, "product", "", "override the product of the service")
	cmd.Flags().BoolVar(&f.skipBuild, "skip-build", false, "reuse the existing build output")
	cmd.Flags().BoolVar(&f.skipUpload, "skip-upload", false, "do not upload the artifact")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "log every action without performing it")
	return cmd
}

func newBuildCmd(settings func() *config.Config) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "build <environment>",
		Short: "Build and upload the artifact without deploying",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), settings(), args[0], pipeline.Options{
				DryRun:          f.dryRun,
				ProductOverride: f.product,
				BuildOnly:       true,
			})
		},
	}
	cmd.Flags().StringVar(&f.product, "product", "", "override the product of the service")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "log every action without performing it")
	return cmd
}

// runPipeline runs one pipeline in the foreground. SIGINT and SIGTERM
// release the run's resources, cancel it and exit with 130 or 143.
func runPipeline(parent context.Context, cfg *config.Config, environment string, opts pipeline.Options) error {
	env, err := models.ParseEnvironment(environment)
	if err != nil {
		return deployerr.Configuration("parse environment", err)
	}

	if parent == nil {
		parent = context.Background()
	}
	a, err := newApp(parent, cfg)
	if err != nil {
		return err
	}

	scope := cleanup.NewScope()
	ctx, stop := trapSignals(parent, scope)
	report, runErr := a.orchestrator(scope).Run(ctx, env, opts)
	sig := stop()

	a.record("", report)
	logReport(report)

	if sig != nil {
		return &exitError{code: signalCode(sig), sig: sig}
	}
	return runErr
}

// trapSignals cancels the returned context on SIGINT or SIGTERM after
// releasing scope. A second signal exits at once. stop returns the signal
// received, if any.
func trapSignals(parent context.Context, scope *cleanup.Scope) (context.Context, func() os.Signal) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	var (
		mu       sync.Mutex
		received os.Signal
	)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-ch:
			mu.Lock()
			received = sig
			mu.Unlock()

			logger.WithField("signal", sig.String()).Warn("Signal received, releasing resources")
			scope.Release()
			cancel()

			select {
			case <-ch:
				os.Exit(signalCode(sig))
			case <-done:
			}
		case <-done:
		}
	}()

	var once sync.Once
	return ctx, func() os.Signal {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
			cancel()
		})
		mu.Lock()
		defer mu.Unlock()
		return received
	}
}

func signalCode(sig os.Signal) int {
	if sig == syscall.SIGTERM {
		return exitTerminate
	}
	return exitInterrupt
}

func logReport(report *models.PipelineReport) {
	if report == nil {
		return
	}
	fields := map[string]interface{}{
		"service":     report.Service.Name,
		"environment": report.Environment,
		"type":        report.Type,
		"revision":    report.Revision,
		"status":      report.Status,
		"dry_run":     report.DryRun,
		"duration":    report.Duration.String(),
	}
	if len(report.UploadedKeys) > 0 {
		fields["uploaded"] = report.UploadedKeys
	}
	if r := report.Result; r != nil {
		if r.ImageRef != "" {
			fields["image"] = r.ImageRef
		}
		if r.Skipped {
			fields["skipped"] = r.SkipReason
		}
	}
	if report.Error != "" {
		logger.WithFields(fields).WithField("error", report.Error).Error("Deployment failed")
		return
	}
	logger.WithFields(fields).Info("Deployment finished")
}

func newServeCmd(settings func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Accept deployment requests over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), settings())
		},
	}
}

// serve runs the trigger API. Jobs run one at a time; shutdown stops the
// listener, closes the queue and waits for queued jobs to finish.
func serve(parent context.Context, cfg *config.Config) error {
	if err := cfg.ValidateServe(); err != nil {
		return deployerr.Configuration("serve", err)
	}
	if parent == nil {
		parent = context.Background()
	}

	a, err := newApp(parent, cfg)
	if err != nil {
		return err
	}

	jobQueue := queue.NewJobQueue(queueSize)
	workerPool := queue.NewWorkerPool(jobQueue, 1)
	workerPool.Start(func(job *queue.DeployJob) error {
		env, err := models.ParseEnvironment(job.Environment)
		if err != nil {
			return err
		}
		report, runErr := a.orchestrator(cleanup.NewScope()).Run(parent, env, pipeline.Options{
			DryRun:          job.DryRun,
			SkipBuild:       job.SkipBuild,
			SkipUpload:      job.SkipUpload,
			ProductOverride: job.Product,
		})
		a.record(job.ID, report)
		logReport(report)
		return runErr
	})

	r := router.Setup(
		handlers.NewHealthHandler(a.descriptor.Service.Name, jobQueue),
		handlers.NewDeployHandler(a.descriptor.Service, a.descriptor.Targets, jobQueue, a.history),
		[]byte(cfg.APISecret),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Port).Info("Starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		jobQueue.Close()
		workerPool.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down server gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err.Error()).Warn("Server shutdown incomplete")
	}

	// Close job queue to stop accepting new jobs
	jobQueue.Close()
	logger.Info("Job queue closed, waiting for workers to finish...")
	workerPool.Wait()
	logger.Info("All workers stopped")
	return nil
}
