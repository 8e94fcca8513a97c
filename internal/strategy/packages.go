package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/imyashkale/deployer/internal/container"
	"github.com/imyashkale/deployer/internal/deployerr"
	"github.com/imyashkale/deployer/internal/models"
	"github.com/imyashkale/deployer/internal/npm"
	"github.com/imyashkale/deployer/internal/shell"
)

const (
	dockerHubRegistry   = "docker.io"
	packageBuildTimeout = 15 * time.Minute
)

// DefaultPlatforms are built when a dockerhub target names none
var DefaultPlatforms = []string{"linux/amd64", "linux/arm64"}

// Npm builds and publishes an npm package
type Npm struct {
	root     string
	shell    shell.Runner
	packages PackageRegistry
	token    string
}

// NewNpm creates the npm strategy
func NewNpm(deps Dependencies) *Npm {
	return &Npm{root: deps.Root, shell: deps.Shell, packages: deps.Packages, token: deps.Credentials.NpmToken}
}

// Deploy builds and publishes the package
func (n *Npm) Deploy(ctx context.Context, req Request, s *models.NpmSettings) (*models.DeploymentResult, error) {
	res := &models.DeploymentResult{Type: models.TypeNpm, Revision: req.Revision}
	dir := resolve(n.root, s.PackageDir)
	log := entry(req).WithField("package_dir", dir)

	if err := req.Hooks.Run(ctx, models.PreBuild); err != nil {
		return res, err
	}
	if s.BuildCommand != "" {
		if req.DryRun {
			log.WithField("command", s.BuildCommand).Info("Dry run: skipping package build")
		} else if err := runCommand(ctx, n.shell, dir, s.BuildCommand, packageBuildTimeout); err != nil {
			return res, deployerr.Build("build package", err)
		}
	}
	if err := req.Hooks.Run(ctx, models.PostBuild); err != nil {
		return res, err
	}

	if err := req.Hooks.Run(ctx, models.PreDeploy); err != nil {
		return res, err
	}
	if req.DryRun {
		log.Info("Dry run: skipping npm publish")
		return res, req.Hooks.Run(ctx, models.PostDeploy)
	}

	version, err := n.packages.Version(ctx, dir)
	if err != nil {
		return res, deployerr.Configuration("read package version", err)
	}
	res.PackageVersion = version

	if n.token == "" {
		log.Warn("NPM_TOKEN is not set, relying on existing npm credentials")
	}
	err = n.packages.Publish(ctx, npm.PublishRequest{
		Dir:      dir,
		Registry: s.Registry,
		Access:   s.Access,
		Tag:      s.Tag,
		Token:    n.token,
	})
	if err != nil {
		return res, deployerr.Deployment("publish package", err)
	}
	log.WithField("version", version).Info("Package published")

	return res, req.Hooks.Run(ctx, models.PostDeploy)
}

// DockerHub builds a multi-platform image and pushes it to a public registry
type DockerHub struct {
	root   string
	images ImagePublisher
	user   string
	token  string
}

// NewDockerHub creates the dockerhub strategy
func NewDockerHub(deps Dependencies) *DockerHub {
	return &DockerHub{
		root:   deps.Root,
		images: deps.Images,
		user:   deps.Credentials.DockerHubUser,
		token:  deps.Credentials.DockerHubToken,
	}
}

// Deploy logs in and runs one buildx build that pushes every platform
func (d *DockerHub) Deploy(ctx context.Context, req Request, s *models.DockerHubSettings) (*models.DeploymentResult, error) {
	repo := orDefault(s.Image, req.Service.Name)
	if !strings.Contains(repo, "/") && d.user != "" {
		repo = d.user + "/" + repo
	}
	version := orDefault(s.Version, req.Revision)
	platforms := s.Platforms
	if len(platforms) == 0 {
		platforms = DefaultPlatforms
	}

	res := &models.DeploymentResult{
		Type:           models.TypeDockerHub,
		Revision:       req.Revision,
		ImageRef:       repo + ":" + version,
		ImageTag:       version,
		PackageVersion: version,
		Platforms:      platforms,
	}
	log := entry(req).WithFields(map[string]interface{}{
		"image":     res.ImageRef,
		"platforms": strings.Join(platforms, ","),
	})

	// building and pushing is a single step, so both pre hooks run before it
	if err := req.Hooks.Run(ctx, models.PreBuild); err != nil {
		return res, err
	}
	if err := req.Hooks.Run(ctx, models.PreDeploy); err != nil {
		return res, err
	}

	if req.DryRun {
		log.Info("Dry run: skipping multi-platform build and push")
	} else {
		if d.token != "" {
			if err := d.images.Login(ctx, dockerHubRegistry, d.user, d.token); err != nil {
				return res, deployerr.Deployment("registry login", err)
			}
		} else {
			log.Warn("DOCKERHUB_TOKEN is not set, relying on existing docker credentials")
		}

		opts := container.BuildOptions{
			Context:   resolve(d.root, orDefault(s.Context, ".")),
			Tags:      []string{repo + ":" + version, repo + ":latest"},
			BuildArgs: s.BuildArgs,
		}
		if s.Dockerfile != "" {
			opts.Dockerfile = resolve(d.root, s.Dockerfile)
		}
		if err := d.images.BuildxPush(ctx, opts, platforms); err != nil {
			return res, deployerr.Build("build and push image", err)
		}
		log.Info("Image published")
	}

	if err := req.Hooks.Run(ctx, models.PostBuild); err != nil {
		return res, err
	}
	return res, req.Hooks.Run(ctx, models.PostDeploy)
}

// PodRestart restarts the pods of a runtime that loads its package from
// object storage, so they pick up the artifact that was just uploaded
type PodRestart struct {
	cluster Cluster
}

// NewPodRestart creates the lambda-zip strategy
func NewPodRestart(deps Dependencies) *PodRestart {
	return &PodRestart{cluster: deps.Cluster}
}

// Deploy restarts the runtime deployment and reports its pods. Hooks of
// lambda-zip targets run around the pipeline's own build and deploy phases.
func (p *PodRestart) Deploy(ctx context.Context, req Request, s *models.LambdaZipSettings) (*models.DeploymentResult, error) {
	res := &models.DeploymentResult{Type: models.TypeLambdaZip, Revision: req.Revision}
	namespace := namespaceFor(s.Namespace, req.Service)
	deployment := orDefault(s.Deployment, req.Service.Name)
	selector := orDefault(s.Selector, "app="+req.Service.Name)
	log := entry(req).WithFields(map[string]interface{}{
		"namespace":  namespace,
		"deployment": deployment,
	})

	if req.DryRun {
		log.Info("Dry run: skipping pod restart")
		return res, nil
	}
	if p.cluster == nil {
		return res, deployerr.Configuration("restart pods", fmt.Errorf("no cluster access configured"))
	}

	if err := p.cluster.RolloutRestart(ctx, namespace, deployment); err != nil {
		return res, deployerr.Deployment("restart pods", err)
	}
	if err := p.cluster.RolloutStatus(ctx, namespace, deployment, s.RolloutTimeout); err != nil {
		return res, deployerr.Deployment("rollout", err)
	}
	pods, err := p.cluster.GetPods(ctx, namespace, selector)
	if err != nil {
		return res, deployerr.Deployment("list pods", err)
	}
	res.PodCount = pods.Running()
	res.PodStatus = pods.Status()
	log.WithField("pods", res.PodStatus).Info("Pods restarted")
	return res, nil
}
