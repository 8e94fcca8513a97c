package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/imyashkale/deployer/internal/deployerr"
	"github.com/imyashkale/deployer/internal/logger"
	"github.com/imyashkale/deployer/internal/models"
)

// DefaultDescriptorPath is read when no descriptor path is configured
const DefaultDescriptorPath = "deploy.yaml"

// Descriptor is a parsed deployment descriptor
type Descriptor struct {
	Service models.ServiceDescriptor
	Targets []models.DeploymentTarget
}

type rawDescriptor struct {
	Service struct {
		Name     string `yaml:"name"`
		Product  string `yaml:"product"`
		Category string `yaml:"category"`
	} `yaml:"service"`
	Deployments []rawTarget `yaml:"deployments"`
}

type rawTarget struct {
	Name          string                    `yaml:"name"`
	Environment   string                    `yaml:"environment"`
	Type          string                    `yaml:"type"`
	Storage       models.StorageDestination `yaml:"storage"`
	Hooks         models.HookSet            `yaml:"hooks"`
	Notifications rawNotifications          `yaml:"notifications"`

	Build      rawBuild      `yaml:"build"`
	Docker     rawDocker     `yaml:"docker"`
	Registry   rawRegistry   `yaml:"registry"`
	Kubernetes rawKubernetes `yaml:"kubernetes"`
	GitOps     rawGitOps     `yaml:"gitops"`
	Web        rawWeb        `yaml:"web"`
	Npm        rawNpm        `yaml:"npm"`
	DockerHub  rawDockerHub  `yaml:"dockerhub"`
	Migration  rawMigration  `yaml:"migration"`
	Health     rawHealth     `yaml:"health"`

	Verification struct {
		MinioCheck struct {
			MinFiles int `yaml:"minFiles"`
		} `yaml:"minioCheck"`
	} `yaml:"verification"`
}

type rawNotifications struct {
	WebhookURL       string   `yaml:"webhookUrl"`
	RateLimitDelayMs int      `yaml:"rateLimitDelayMs"`
	Events           []string `yaml:"events"`
	Username         string   `yaml:"username"`
}

type rawBuild struct {
	Command string            `yaml:"command"`
	WorkDir string            `yaml:"workDir"`
	Output  string            `yaml:"output"`
	Env     map[string]string `yaml:"env"`
}

type rawDocker struct {
	Dockerfile string            `yaml:"dockerfile"`
	Context    string            `yaml:"context"`
	Image      string            `yaml:"image"`
	BuildArgs  map[string]string `yaml:"buildArgs"`
}

type rawRegistry struct {
	Host             string `yaml:"host"`
	NodePort         int    `yaml:"nodePort"`
	Service          string `yaml:"service"`
	ServiceNamespace string `yaml:"namespace"`
}

type rawKubernetes struct {
	Namespace             string   `yaml:"namespace"`
	Deployment            string   `yaml:"deployment"`
	Container             string   `yaml:"container"`
	Selector              string   `yaml:"selector"`
	Manifests             []string `yaml:"manifests"`
	RolloutTimeoutSeconds int      `yaml:"rolloutTimeoutSeconds"`
}

type rawGitOps struct {
	Enabled           bool     `yaml:"enabled"`
	BasePath          string   `yaml:"basePath"`
	KustomizationPath string   `yaml:"kustomizationPath"`
	Remote            string   `yaml:"remote"`
	Branch            string   `yaml:"branch"`
	Resources         []string `yaml:"resources"`
}

type rawWeb struct {
	BuildCommand      string   `yaml:"buildCommand"`
	WorkDir           string   `yaml:"workDir"`
	BuildDir          string   `yaml:"buildDir"`
	Bucket            string   `yaml:"bucket"`
	Prefix            string   `yaml:"prefix"`
	CacheControl      string   `yaml:"cacheControl"`
	DistributionID    string   `yaml:"distributionId"`
	InvalidationPaths []string `yaml:"invalidationPaths"`
}

type rawNpm struct {
	PackageDir   string `yaml:"packageDir"`
	BuildCommand string `yaml:"buildCommand"`
	Registry     string `yaml:"registry"`
	Access       string `yaml:"access"`
	Tag          string `yaml:"tag"`
}

type rawDockerHub struct {
	Version   string   `yaml:"version"`
	Platforms []string `yaml:"platforms"`
}

type rawMigration struct {
	JobManifest    string `yaml:"jobManifest"`
	JobName        string `yaml:"jobName"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

type rawHealth struct {
	URL               string `yaml:"url"`
	Port              int    `yaml:"port"`
	Path              string `yaml:"path"`
	CheckRevision     bool   `yaml:"checkRevision"`
	CheckDependencies bool   `yaml:"checkDependencies"`
	StatusOptional    bool   `yaml:"statusOptional"`
	Attempts          int    `yaml:"attempts"`
	IntervalSeconds   int    `yaml:"intervalSeconds"`
}

// LoadDescriptor reads and parses the descriptor at path. Every failure is a
// configuration error.
func LoadDescriptor(path string) (*Descriptor, error) {
	if path == "" {
		path = DefaultDescriptorPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, deployerr.Configuration("load descriptor", err)
	}
	d, err := ParseDescriptor(data)
	if err != nil {
		return nil, deployerr.Configuration("load descriptor", fmt.Errorf("%s: %w", path, err))
	}
	return d, nil
}

// ParseDescriptor parses descriptor YAML. A target whose type is unknown is
// kept with nil settings so that dispatch can skip it.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var raw rawDescriptor
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid descriptor: %w", err)
	}
	if raw.Service.Name == "" {
		return nil, fmt.Errorf("service.name is required")
	}
	if len(raw.Deployments) == 0 {
		return nil, fmt.Errorf("no deployments configured")
	}

	d := &Descriptor{
		Service: models.ServiceDescriptor{
			Name:     raw.Service.Name,
			Product:  raw.Service.Product,
			Category: raw.Service.Category,
		},
	}
	for i, rt := range raw.Deployments {
		target, err := rt.target()
		if err != nil {
			return nil, fmt.Errorf("deployments[%d]: %w", i, err)
		}
		if target.Name == "" {
			target.Name = fmt.Sprintf("%s-%s", d.Service.Name, target.Environment)
		}
		d.Targets = append(d.Targets, target)
	}
	return d, nil
}

func (rt rawTarget) target() (models.DeploymentTarget, error) {
	env, err := models.ParseEnvironment(rt.Environment)
	if err != nil {
		return models.DeploymentTarget{}, err
	}
	if rt.Type == "" {
		return models.DeploymentTarget{}, fmt.Errorf("type is required")
	}

	t := models.DeploymentTarget{
		Name:        rt.Name,
		Environment: env,
		Type:        models.DeploymentType(rt.Type),
		Storage:     rt.Storage,
		Hooks:       rt.Hooks,
		Notifications: models.NotificationSettings{
			WebhookURL:       rt.Notifications.WebhookURL,
			RateLimitDelayMs: rt.Notifications.RateLimitDelayMs,
			Events:           rt.Notifications.Events,
			Username:         rt.Notifications.Username,
		},
	}
	t.Settings = rt.settings(t.Type)
	if t.Settings == nil {
		logger.WithFields(map[string]interface{}{
			"target": rt.Name,
			"type":   rt.Type,
		}).Warn("Unknown deployment type; the target will be skipped")
	}
	return t, nil
}

// settings maps the type tag to its settings variant
func (rt rawTarget) settings(t models.DeploymentType) models.TargetSettings {
	image := models.ImageBuild{
		Dockerfile: rt.Docker.Dockerfile,
		Context:    rt.Docker.Context,
		Image:      rt.Docker.Image,
		BuildArgs:  rt.Docker.BuildArgs,
	}
	registry := models.RegistrySettings{
		Host:             rt.Registry.Host,
		NodePort:         rt.Registry.NodePort,
		Service:          rt.Registry.Service,
		ServiceNamespace: rt.Registry.ServiceNamespace,
	}
	k8s := rt.Kubernetes
	rollout := seconds(k8s.RolloutTimeoutSeconds)

	switch t {
	case models.TypeLambdaZip:
		return &models.LambdaZipSettings{
			Build: models.BuildSettings{
				Command: rt.Build.Command,
				WorkDir: rt.Build.WorkDir,
				Output:  rt.Build.Output,
				Env:     rt.Build.Env,
			},
			Namespace:      k8s.Namespace,
			Deployment:     k8s.Deployment,
			Selector:       k8s.Selector,
			RolloutTimeout: rollout,
		}
	case models.TypeContainer:
		return &models.ContainerSettings{
			ImageBuild:     image,
			Registry:       registry,
			Namespace:      k8s.Namespace,
			Deployment:     k8s.Deployment,
			Container:      k8s.Container,
			Manifests:      k8s.Manifests,
			RolloutTimeout: rollout,
			GitOps: models.GitOpsSettings{
				Enabled:           rt.GitOps.Enabled,
				BasePath:          rt.GitOps.BasePath,
				KustomizationPath: rt.GitOps.KustomizationPath,
				Remote:            rt.GitOps.Remote,
				Branch:            rt.GitOps.Branch,
				Resources:         rt.GitOps.Resources,
			},
		}
	case models.TypeWeb:
		return &models.WebSettings{
			BuildCommand:      rt.Web.BuildCommand,
			WorkDir:           rt.Web.WorkDir,
			BuildDir:          rt.Web.BuildDir,
			Bucket:            rt.Web.Bucket,
			Prefix:            rt.Web.Prefix,
			CacheControl:      rt.Web.CacheControl,
			DistributionID:    rt.Web.DistributionID,
			InvalidationPaths: rt.Web.InvalidationPaths,
			MinFiles:          rt.Verification.MinioCheck.MinFiles,
		}
	case models.TypeNpm:
		return &models.NpmSettings{
			PackageDir:   rt.Npm.PackageDir,
			BuildCommand: rt.Npm.BuildCommand,
			Registry:     rt.Npm.Registry,
			Access:       rt.Npm.Access,
			Tag:          rt.Npm.Tag,
		}
	case models.TypeDockerHub:
		return &models.DockerHubSettings{
			ImageBuild: image,
			Version:    rt.DockerHub.Version,
			Platforms:  rt.DockerHub.Platforms,
		}
	case models.TypeService:
		return &models.ServiceSettings{
			ImageBuild:     image,
			Registry:       registry,
			Namespace:      k8s.Namespace,
			Deployment:     k8s.Deployment,
			Container:      k8s.Container,
			Selector:       k8s.Selector,
			RolloutTimeout: rollout,
			Migration: models.MigrationSettings{
				JobManifest: rt.Migration.JobManifest,
				JobName:     rt.Migration.JobName,
				Timeout:     seconds(rt.Migration.TimeoutSeconds),
			},
			Health: models.HealthSettings{
				URL:               rt.Health.URL,
				Port:              rt.Health.Port,
				Path:              rt.Health.Path,
				CheckRevision:     rt.Health.CheckRevision,
				CheckDependencies: rt.Health.CheckDependencies,
				StatusOptional:    rt.Health.StatusOptional,
				Attempts:          rt.Health.Attempts,
				Interval:          seconds(rt.Health.IntervalSeconds),
			},
		}
	}
	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
