package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imyashkale/deployer/internal/deployerr"
	"github.com/imyashkale/deployer/internal/models"
)

func TestNpm_Publish(t *testing.T) {
	f := newFixture("/repo")
	target := &models.DeploymentTarget{
		Name:        "npm",
		Environment: models.Production,
		Type:        models.TypeNpm,
		Settings:    &models.NpmSettings{PackageDir: "packages/sdk", BuildCommand: "npm run build", Access: "public", Tag: "next"},
	}

	res, err := NewNpm(f.deps).Deploy(context.Background(), request(target, f.shell, false), target.Settings.(*models.NpmSettings))

	require.NoError(t, err)
	assert.Equal(t, "1.4.2", res.PackageVersion)
	assert.Equal(t, []string{"sh -c npm run build"}, f.shell.Lines())
	assert.Equal(t, "/repo/packages/sdk", f.shell.Calls()[0].Dir)
	assert.Equal(t, []string{"npm version /repo/packages/sdk", "npm publish public next"}, f.j.Calls())
}

func TestNpm_PublishFailure(t *testing.T) {
	f := newFixture("/repo")
	f.j.failOn("npm publish", assert.AnError)
	target := &models.DeploymentTarget{Type: models.TypeNpm, Settings: &models.NpmSettings{}}

	_, err := NewNpm(f.deps).Deploy(context.Background(), request(target, f.shell, false), target.Settings.(*models.NpmSettings))

	assert.Equal(t, deployerr.KindDeployment, deployerr.KindOf(err))
}

func TestDockerHub_BuildsAllPlatformsAtOnce(t *testing.T) {
	f := newFixture("/repo")
	target := &models.DeploymentTarget{
		Name:        "hub",
		Environment: models.Production,
		Type:        models.TypeDockerHub,
		Settings:    &models.DockerHubSettings{Version: "2.0.0"},
	}

	res, err := NewDockerHub(f.deps).Deploy(context.Background(), request(target, f.shell, false), target.Settings.(*models.DockerHubSettings))

	require.NoError(t, err)
	assert.Equal(t, "acme/api:2.0.0", res.ImageRef)
	assert.Equal(t, DefaultPlatforms, res.Platforms)
	assert.Equal(t, []string{
		"docker login docker.io acme",
		"docker buildx acme/api:2.0.0,acme/api:latest linux/amd64,linux/arm64",
	}, f.j.Calls())
}

func TestDockerHub_VersionDefaultsToRevision(t *testing.T) {
	f := newFixture("/repo")
	f.deps.Credentials.DockerHubToken = ""
	target := &models.DeploymentTarget{
		Type:     models.TypeDockerHub,
		Settings: &models.DockerHubSettings{ImageBuild: models.ImageBuild{Image: "acme-io/tool"}, Platforms: []string{"linux/amd64"}},
	}

	res, err := NewDockerHub(f.deps).Deploy(context.Background(), request(target, f.shell, false), target.Settings.(*models.DockerHubSettings))

	require.NoError(t, err)
	assert.Equal(t, "acme-io/tool:abc1234", res.ImageRef)
	assert.Equal(t, []string{"docker buildx acme-io/tool:abc1234,acme-io/tool:latest linux/amd64"}, f.j.Calls())
}

func TestDockerHub_HookOrder(t *testing.T) {
	f := newFixture("/repo")
	target := &models.DeploymentTarget{
		Type: models.TypeDockerHub,
		Hooks: models.HookSet{
			PreBuild:   []models.HookSpec{{Command: "echo pre-build"}},
			PostBuild:  []models.HookSpec{{Command: "echo post-build"}},
			PreDeploy:  []models.HookSpec{{Command: "echo pre-deploy"}},
			PostDeploy: []models.HookSpec{{Command: "echo post-deploy"}},
		},
		Settings: &models.DockerHubSettings{},
	}

	_, err := NewDockerHub(f.deps).Deploy(context.Background(), request(target, f.shell, false), target.Settings.(*models.DockerHubSettings))

	require.NoError(t, err)
	assert.Equal(t, []string{
		"sh -c echo pre-build",
		"sh -c echo pre-deploy",
		"sh -c echo post-build",
		"sh -c echo post-deploy",
	}, f.shell.Lines())
}
