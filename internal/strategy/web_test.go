package strategy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imyashkale/deployer/internal/deployerr"
	"github.com/imyashkale/deployer/internal/models"
)

func writeSite(t *testing.T, root string, files int) {
	t.Helper()
	dir := filepath.Join(root, "dist")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html></html>"), 0o644))
	for i := 1; i < files; i++ {
		name := filepath.Join(dir, "assets", fmt.Sprintf("chunk-%d.js", i))
		require.NoError(t, os.WriteFile(name, []byte("console.log(1)"), 0o644))
	}
}

func webTarget(minFiles int) *models.DeploymentTarget {
	return &models.DeploymentTarget{
		Name:        "web",
		Environment: models.Production,
		Type:        models.TypeWeb,
		Storage:     models.StorageDestination{Bucket: "site-prod"},
		Settings: &models.WebSettings{
			BuildCommand:   "npm run build",
			Prefix:         "app",
			CacheControl:   "max-age=60",
			DistributionID: "E2ABC",
			MinFiles:       minFiles,
		},
	}
}

func TestWeb_DeploysSite(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root, 6)
	f := newFixture(root)
	target := webTarget(5)

	res, err := NewWeb(f.deps).Deploy(context.Background(), request(target, f.shell, false), target.Settings.(*models.WebSettings))

	require.NoError(t, err)
	assert.Equal(t, 6, res.DeployedFiles)
	assert.Equal(t, "INV123", res.InvalidationID)
	assert.Equal(t, []string{"sh -c npm run build"}, f.shell.Lines())
	assert.Equal(t, root, f.shell.Calls()[0].Dir)
	assert.Equal(t, 1, f.j.count("s3 ensure site-prod"))
	assert.Equal(t, 1, f.j.count("cloudfront invalidate E2ABC"))

	keys := make([]string, 0, len(f.store.objects))
	for _, obj := range f.store.objects {
		keys = append(keys, obj.Key)
		assert.Equal(t, "max-age=60", obj.CacheControl)
	}
	sort.Strings(keys)
	assert.Equal(t, "app/assets/chunk-1.js", keys[0])
	assert.Contains(t, keys, "app/index.html")
}

func TestWeb_TooFewFiles(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root, 3)
	f := newFixture(root)
	target := webTarget(5)

	res, err := NewWeb(f.deps).Deploy(context.Background(), request(target, f.shell, false), target.Settings.(*models.WebSettings))

	require.Error(t, err)
	assert.Equal(t, deployerr.KindVerification, deployerr.KindOf(err))
	assert.Contains(t, err.Error(), "3 files")
	assert.Equal(t, 3, res.DeployedFiles)
	assert.Len(t, f.store.objects, 3, "uploaded files are not removed")
}

func TestWeb_BuildFailure(t *testing.T) {
	root := t.TempDir()
	f := newFixture(root)
	f.shell.Fail("sh -c npm run build", "ERR! missing script: build")
	target := webTarget(0)

	_, err := NewWeb(f.deps).Deploy(context.Background(), request(target, f.shell, false), target.Settings.(*models.WebSettings))

	assert.Equal(t, deployerr.KindBuild, deployerr.KindOf(err))
	assert.Empty(t, f.j.Calls())
}

func TestWeb_NoBucket(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root, 1)
	f := newFixture(root)
	target := webTarget(0)
	target.Storage = models.StorageDestination{}

	_, err := NewWeb(f.deps).Deploy(context.Background(), request(target, f.shell, false), target.Settings.(*models.WebSettings))

	assert.Equal(t, deployerr.KindConfiguration, deployerr.KindOf(err))
}

func TestWeb_UploadFailure(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root, 2)
	f := newFixture(root)
	f.j.failOn("s3 put", assert.AnError)
	target := webTarget(0)

	_, err := NewWeb(f.deps).Deploy(context.Background(), request(target, f.shell, false), target.Settings.(*models.WebSettings))

	assert.Equal(t, deployerr.KindDeployment, deployerr.KindOf(err))
	assert.Zero(t, f.j.count("cloudfront"))
}
