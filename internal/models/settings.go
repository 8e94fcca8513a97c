package models

import "time"

// TargetSettings is implemented only by the settings variants in this file.
// Dispatch over it is an exhaustive type switch.
type TargetSettings interface {
	Type() DeploymentType
	targetSettings()
}

// BuildSettings describes how a binary package is produced
type BuildSettings struct {
	Command string
	WorkDir string
	Output  string
	Env     map[string]string
}

// LambdaZipSettings deploys a zip package that a managed runtime loads from
// object storage; the runtime pods are restarted to pick it up.
type LambdaZipSettings struct {
	Build          BuildSettings
	Namespace      string
	Deployment     string
	Selector       string
	RolloutTimeout time.Duration
}

// RegistrySettings locates the registry images are pushed to
type RegistrySettings struct {
	Host string
	// NodePort overrides discovery when Host is an in-cluster service address
	NodePort         int
	Service          string
	ServiceNamespace string
}

// ImageBuild describes a container image build
type ImageBuild struct {
	Dockerfile string
	Context    string
	Image      string
	BuildArgs  map[string]string
}

// GitOpsSettings controls the manifest repository update
type GitOpsSettings struct {
	Enabled           bool
	BasePath          string
	KustomizationPath string
	Remote            string
	Branch            string
	Resources         []string
}

// ContainerSettings deploys an image to Kubernetes, either by patching a
// GitOps kustomization or by applying directly.
type ContainerSettings struct {
	ImageBuild
	Registry       RegistrySettings
	Namespace      string
	Deployment     string
	Container      string
	Manifests      []string
	RolloutTimeout time.Duration
	GitOps         GitOpsSettings
}

// WebSettings publishes a static site to object storage behind a CDN
type WebSettings struct {
	BuildCommand      string
	WorkDir           string
	BuildDir          string
	Bucket            string
	Prefix            string
	CacheControl      string
	DistributionID    string
	InvalidationPaths []string
	// MinFiles fails the deployment when fewer objects were written
	MinFiles int
}

// NpmSettings publishes a package to an npm registry
type NpmSettings struct {
	PackageDir   string
	BuildCommand string
	Registry     string
	Access       string
	Tag          string
}

// DockerHubSettings publishes a multi-platform image to a public registry
type DockerHubSettings struct {
	ImageBuild
	Version   string
	Platforms []string
}

// MigrationSettings describes the one-shot job run before a restart
type MigrationSettings struct {
	JobManifest string
	JobName     string
	Timeout     time.Duration
}

// HealthSettings describes the post-rollout health probe
type HealthSettings struct {
	// URL probes over HTTP; when empty the probe runs inside a live pod
	URL               string
	Port              int
	Path              string
	CheckRevision     bool
	CheckDependencies bool
	// StatusOptional accepts any 2xx answer without a readable status
	StatusOptional bool
	Attempts       int
	Interval       time.Duration
}

// ServiceSettings deploys a long-running service with migrations, health
// checks and rollback.
type ServiceSettings struct {
	ImageBuild
	Registry       RegistrySettings
	Namespace      string
	Deployment     string
	Container      string
	Selector       string
	RolloutTimeout time.Duration
	Migration      MigrationSettings
	Health         HealthSettings
}

func (*LambdaZipSettings) Type() DeploymentType { return TypeLambdaZip }
func (*ContainerSettings) Type() DeploymentType { return TypeContainer }
func (*WebSettings) Type() DeploymentType       { return TypeWeb }
func (*NpmSettings) Type() DeploymentType       { return TypeNpm }
func (*DockerHubSettings) Type() DeploymentType { return TypeDockerHub }
func (*ServiceSettings) Type() DeploymentType   { return TypeService }

func (*LambdaZipSettings) targetSettings() {}
func (*ContainerSettings) targetSettings() {}
func (*WebSettings) targetSettings()       {}
func (*NpmSettings) targetSettings()       {}
func (*DockerHubSettings) targetSettings() {}
func (*ServiceSettings) targetSettings()   {}
