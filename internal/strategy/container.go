package strategy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/imyashkale/deployer/internal/cleanup"
	"github.com/imyashkale/deployer/internal/container"
	"github.com/imyashkale/deployer/internal/deployerr"
	"github.com/imyashkale/deployer/internal/kustomize"
	"github.com/imyashkale/deployer/internal/models"
	"github.com/imyashkale/deployer/internal/vcs"
)

// Container builds an image, pushes it and rolls it out, either by patching
// the service's kustomization in a GitOps repository or by applying directly.
type Container struct {
	root     string
	engine   ContainerEngine
	cluster  Cluster
	vcs      VCS
	registry container.RegistryAuth
	now      func() time.Time
}

// NewContainer creates the container strategy
func NewContainer(deps Dependencies) *Container {
	return &Container{
		root:     deps.Root,
		engine:   deps.Engine,
		cluster:  deps.Cluster,
		vcs:      deps.VCS,
		registry: deps.Registry,
		now:      time.Now,
	}
}

// image describes the names one build is known by
type image struct {
	repository string // repository path, e.g. shop/api
	tag        string // {revision}-{unix time}
	local      string // local build name
	latest     string
	published  string // name referenced by manifests
}

func newImage(s models.ImageBuild, registry models.RegistrySettings, svc models.ServiceDescriptor, revision string, now time.Time) image {
	repo := orDefault(s.Image, svc.Name)
	tag := fmt.Sprintf("%s-%d", revision, now.Unix())
	return image{
		repository: repo,
		tag:        tag,
		local:      repo + ":" + tag,
		latest:     repo + ":latest",
		published:  imageName(registry.Host, repo),
	}
}

// UseGitOps reports whether s rolls out through a GitOps repository
func UseGitOps(s *models.ContainerSettings) bool {
	return s.GitOps.Enabled
}

// Deploy runs the container pipeline
func (c *Container) Deploy(ctx context.Context, req Request, s *models.ContainerSettings) (*models.DeploymentResult, error) {
	img := newImage(s.ImageBuild, s.Registry, req.Service, req.Revision, c.now())
	res := &models.DeploymentResult{
		Type:     models.TypeContainer,
		Revision: req.Revision,
		ImageRef: img.published + ":" + img.tag,
		ImageTag: img.tag,
	}
	log := entry(req).WithFields(map[string]interface{}{
		"image":  res.ImageRef,
		"gitops": UseGitOps(s),
	})

	if err := req.Hooks.Run(ctx, models.PreBuild); err != nil {
		return res, err
	}
	var local *cleanup.Handle
	if req.DryRun {
		log.Info("Dry run: skipping image build")
	} else {
		var err error
		if local, err = buildImage(ctx, c.engine, c.root, s.ImageBuild, img, req.Scope); err != nil {
			return res, err
		}
	}
	if err := req.Hooks.Run(ctx, models.PostBuild); err != nil {
		return res, err
	}

	if !req.DryRun {
		if err := pushImage(ctx, c.engine, c.registry, c.cluster, s.Registry, img); err != nil {
			return res, err
		}
	}

	if err := req.Hooks.Run(ctx, models.PreDeploy); err != nil {
		return res, err
	}

	var err error
	if UseGitOps(s) {
		err = c.updateManifest(ctx, req, s, img, res)
	} else {
		err = c.applyDirect(ctx, req, s, img, res)
	}
	if err != nil {
		return res, err
	}

	if err := req.Hooks.Run(ctx, models.PostDeploy); err != nil {
		return res, err
	}

	_ = local.Release()
	log.Info("Container deployment completed")
	return res, nil
}

// updateManifest points the service's kustomization at the new tag and
// commits it. Commit failures are reported but do not fail the deployment:
// the image is already in the registry.
func (c *Container) updateManifest(ctx context.Context, req Request, s *models.ContainerSettings, img image, res *models.DeploymentResult) error {
	namespace := namespaceFor(s.Namespace, req.Service)
	base := resolve(c.root, s.GitOps.BasePath)
	override := ""
	if s.GitOps.KustomizationPath != "" {
		override = resolve(c.root, s.GitOps.KustomizationPath)
	}
	candidates := kustomize.Candidates(override, base, namespace, req.Service.Name)

	path, data, found, err := kustomize.Locate(candidates)
	if err != nil {
		return deployerr.Deployment("locate kustomization", err)
	}

	var out []byte
	changed := true
	if found {
		out, changed, err = kustomize.PatchImageTag(data, img.published, img.tag)
	} else {
		path = candidates[0]
		out, err = kustomize.Synthesize(namespace, s.GitOps.Resources, img.published, img.tag)
	}
	if err != nil {
		return deployerr.Deployment("patch kustomization", err)
	}
	res.ManifestPath = path

	log := entry(req).WithFields(map[string]interface{}{
		"manifest":    path,
		"synthesized": !found,
	})
	if req.DryRun {
		log.Info("Dry run: skipping manifest update")
		return nil
	}
	if !changed {
		log.Info("Manifest already references image tag")
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return deployerr.Deployment("write kustomization", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return deployerr.Deployment("write kustomization", err)
	}
	res.ManifestUpdated = true

	rel, err := filepath.Rel(base, path)
	if err != nil {
		rel = path
	}
	err = c.vcs.CommitAndPush(ctx, vcs.CommitRequest{
		Dir:     base,
		Paths:   []string{rel},
		Message: fmt.Sprintf("chore(k8s): update %s image to %s", req.Service.Name, img.tag),
		Remote:  s.GitOps.Remote,
		Branch:  s.GitOps.Branch,
	})
	switch {
	case errors.Is(err, vcs.ErrNothingToCommit):
		log.Info("Manifest change already committed")
	case err != nil:
		log.WithField("error", err.Error()).
			Warn("Failed to commit manifest update; commit and push it manually to roll out the new image")
	default:
		log.Info("Manifest update committed and pushed")
	}
	return nil
}

// applyDirect applies the manifests and sets the deployment image
func (c *Container) applyDirect(ctx context.Context, req Request, s *models.ContainerSettings, img image, res *models.DeploymentResult) error {
	namespace := namespaceFor(s.Namespace, req.Service)
	deployment := orDefault(s.Deployment, req.Service.Name)
	containerName := orDefault(s.Container, req.Service.Name)

	if req.DryRun {
		entry(req).WithField("manifests", s.Manifests).Info("Dry run: skipping apply")
		return nil
	}

	for _, m := range s.Manifests {
		if err := c.cluster.ApplyManifest(ctx, namespace, resolve(c.root, m)); err != nil {
			return deployerr.Deployment("apply manifest", err)
		}
	}
	if err := c.cluster.SetImage(ctx, namespace, deployment, containerName, res.ImageRef); err != nil {
		return deployerr.Deployment("set image", err)
	}
	if err := c.cluster.RolloutStatus(ctx, namespace, deployment, s.RolloutTimeout); err != nil {
		return deployerr.Deployment("rollout", err)
	}

	pods, err := c.cluster.GetPods(ctx, namespace, "app="+req.Service.Name)
	if err != nil {
		return deployerr.Deployment("list pods", err)
	}
	res.PodCount = pods.Running()
	res.PodStatus = pods.Status()
	return nil
}

// buildImage builds img and registers removal of the local tags with scope
func buildImage(ctx context.Context, engine ContainerEngine, root string, s models.ImageBuild, img image, scope *cleanup.Scope) (*cleanup.Handle, error) {
	opts := container.BuildOptions{
		Context:   resolve(root, orDefault(s.Context, ".")),
		Tags:      []string{img.local, img.latest},
		BuildArgs: s.BuildArgs,
	}
	if s.Dockerfile != "" {
		opts.Dockerfile = resolve(root, s.Dockerfile)
	}
	if err := engine.Build(ctx, opts); err != nil {
		return nil, deployerr.Build("build image", err)
	}

	release := func() error {
		return engine.RemoveImage(context.Background(), img.local)
	}
	if scope == nil {
		scope = cleanup.NewScope()
	}
	return scope.Acquire("image "+img.local, release), nil
}

// pushImage pushes both tags of img through the resolved push target
func pushImage(ctx context.Context, engine ContainerEngine, auth container.RegistryAuth, resolver NodePortResolver, reg models.RegistrySettings, img image) error {
	host := ResolvePushTarget(ctx, reg, resolver)
	if err := auth.Authenticate(ctx, host, img.repository); err != nil {
		return deployerr.Deployment("registry login", err)
	}
	for _, tag := range []string{img.tag, "latest"} {
		ref := imageRef(host, img.repository, tag)
		if err := engine.Tag(ctx, img.local, ref); err != nil {
			return deployerr.Deployment("tag image", err)
		}
		if err := engine.Push(ctx, ref); err != nil {
			return deployerr.Deployment("push image", err)
		}
	}
	return nil
}
