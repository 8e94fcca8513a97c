package container

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imyashkale/deployer/internal/shell/shelltest"
)

func TestBuildFlags(t *testing.T) {
	rec := shelltest.NewRecorder()
	d := NewDocker(rec)

	err := d.Build(context.Background(), BuildOptions{
		Dockerfile: "build/Dockerfile",
		Context:    "services/api",
		Tags:       []string{"api:abc-1", "api:latest"},
		BuildArgs:  map[string]string{"VERSION": "abc", "APP": "api"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"docker build -f build/Dockerfile -t api:abc-1 -t api:latest --build-arg APP=api --build-arg VERSION=abc services/api",
	}, rec.Lines())
}

func TestBuildDefaultsContext(t *testing.T) {
	rec := shelltest.NewRecorder()
	require.NoError(t, NewDocker(rec).Build(context.Background(), BuildOptions{Tags: []string{"x"}}))
	assert.Equal(t, []string{"docker build -t x ."}, rec.Lines())
}

func TestBuildxPush(t *testing.T) {
	rec := shelltest.NewRecorder()
	err := NewDocker(rec).BuildxPush(context.Background(), BuildOptions{
		Tags: []string{"acme/cli:1.2.0", "acme/cli:latest"},
	}, []string{"linux/amd64", "linux/arm64"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"docker buildx build --platform linux/amd64,linux/arm64 -t acme/cli:1.2.0 -t acme/cli:latest --push .",
	}, rec.Lines())
}

func TestLoginUsesStdin(t *testing.T) {
	rec := shelltest.NewRecorder()
	require.NoError(t, NewDocker(rec).Login(context.Background(), "docker.io", "acme", "s3cret"))

	calls := rec.Calls()
	require.Len(t, calls, 1)
	assert.NotContains(t, calls[0].String(), "s3cret")
	pw, err := io.ReadAll(calls[0].Stdin)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", string(pw))
}

func TestPushFailureWrapsOutput(t *testing.T) {
	rec := shelltest.NewRecorder().Fail("docker push", "denied: requested access to the resource is denied")
	err := NewDocker(rec).Push(context.Background(), "api:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to push Docker image api:1")
}
