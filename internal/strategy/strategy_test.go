package strategy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imyashkale/deployer/internal/deployerr"
	"github.com/imyashkale/deployer/internal/models"
)

func allTargets() []*models.DeploymentTarget {
	hooks := models.HookSet{
		PreBuild:   []models.HookSpec{{Name: "lint", Command: "make lint"}},
		PostDeploy: []models.HookSpec{{Name: "smoke", Command: "make smoke"}},
	}
	return []*models.DeploymentTarget{
		{Name: "lambda", Environment: models.Staging, Type: models.TypeLambdaZip, Hooks: hooks,
			Settings: &models.LambdaZipSettings{Build: models.BuildSettings{Command: "make zip"}}},
		{Name: "container", Environment: models.Staging, Type: models.TypeContainer, Hooks: hooks,
			Settings: &models.ContainerSettings{
				Registry:  models.RegistrySettings{Host: "registry.registry.svc.cluster.local:5000"},
				Manifests: []string{"k8s/deployment.yaml"},
			}},
		{Name: "gitops", Environment: models.Staging, Type: models.TypeContainer, Hooks: hooks,
			Settings: &models.ContainerSettings{
				Registry: models.RegistrySettings{Host: "registry.registry.svc.cluster.local:5000"},
				GitOps:   models.GitOpsSettings{Enabled: true, BasePath: "gitops"},
			}},
		{Name: "web", Environment: models.Staging, Type: models.TypeWeb, Hooks: hooks,
			Storage:  models.StorageDestination{Bucket: "site"},
			Settings: &models.WebSettings{BuildCommand: "npm run build", DistributionID: "E123", MinFiles: 5}},
		{Name: "npm", Environment: models.Staging, Type: models.TypeNpm, Hooks: hooks,
			Settings: &models.NpmSettings{BuildCommand: "npm run build"}},
		{Name: "dockerhub", Environment: models.Staging, Type: models.TypeDockerHub, Hooks: hooks,
			Settings: &models.DockerHubSettings{}},
		{Name: "service", Environment: models.Staging, Type: models.TypeService, Hooks: hooks,
			Settings: &models.ServiceSettings{
				Registry:  models.RegistrySettings{Host: "registry.registry.svc.cluster.local:5000"},
				Migration: models.MigrationSettings{JobManifest: "k8s/migrate.yaml"},
			}},
	}
}

func TestDispatcher_DryRunTouchesNothing(t *testing.T) {
	for _, target := range allTargets() {
		t.Run(target.Name, func(t *testing.T) {
			f := newFixture(t.TempDir())
			d := NewDispatcher(f.deps)

			res, err := d.Deploy(context.Background(), request(target, f.shell, true))

			require.NoError(t, err)
			require.NotNil(t, res)
			assert.Equal(t, target.Type, res.Type)
			assert.False(t, res.Skipped)
			assert.Empty(t, f.j.Calls(), "collaborators must not be called in dry run")
			assert.Empty(t, f.shell.Calls(), "no command may run in dry run")
			assert.Zero(t, res.PodCount)
			assert.Zero(t, res.DeployedFiles)
			assert.False(t, res.ManifestUpdated)
		})
	}
}

func TestDispatcher_DryRunGitOpsWritesNoFile(t *testing.T) {
	root := t.TempDir()
	f := newFixture(root)
	target := allTargets()[2]

	res, err := NewDispatcher(f.deps).Deploy(context.Background(), request(target, f.shell, true))

	require.NoError(t, err)
	assert.NotEmpty(t, res.ManifestPath)
	_, statErr := os.Stat(filepath.Join(root, "gitops"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDispatcher_UnknownTypeIsSkipped(t *testing.T) {
	f := newFixture(t.TempDir())
	target := &models.DeploymentTarget{Name: "lambda-v2", Environment: models.Production, Type: "lambda-v2"}

	res, err := NewDispatcher(f.deps).Deploy(context.Background(), request(target, f.shell, false))

	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, models.DeploymentType("lambda-v2"), res.Type)
	assert.Contains(t, res.SkipReason, "lambda-v2")
	assert.Empty(t, f.j.Calls())
}

func TestDispatcher_NoTarget(t *testing.T) {
	f := newFixture(t.TempDir())

	_, err := NewDispatcher(f.deps).Deploy(context.Background(), Request{})

	assert.Equal(t, deployerr.KindConfiguration, deployerr.KindOf(err))
}

func TestNamespaceFor(t *testing.T) {
	assert.Equal(t, "payments", namespaceFor("payments", models.ServiceDescriptor{Product: "shop"}))
	assert.Equal(t, "shop", namespaceFor("", models.ServiceDescriptor{Product: "shop"}))
	assert.Equal(t, "default", namespaceFor("", models.ServiceDescriptor{}))
}

func TestPodRestart(t *testing.T) {
	f := newFixture(t.TempDir())
	target := allTargets()[0]

	res, err := NewDispatcher(f.deps).Deploy(context.Background(), request(target, f.shell, false))

	require.NoError(t, err)
	assert.Equal(t, []string{
		"kubectl rollout restart shop api",
		"kubectl rollout status shop api",
		"kubectl get pods shop app=api",
	}, f.j.Calls())
	assert.Equal(t, 2, res.PodCount)
	assert.Equal(t, "2/2 Running", res.PodStatus)
	assert.Empty(t, f.shell.Calls(), "lambda-zip hooks run in the pipeline")
}

func TestPodRestart_RolloutFailure(t *testing.T) {
	f := newFixture(t.TempDir())
	f.j.failOn("kubectl rollout status", assert.AnError)

	_, err := NewDispatcher(f.deps).Deploy(context.Background(), request(allTargets()[0], f.shell, false))

	assert.Equal(t, deployerr.KindDeployment, deployerr.KindOf(err))
	assert.Zero(t, f.j.count("kubectl get pods"))
}
