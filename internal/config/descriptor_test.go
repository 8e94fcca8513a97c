package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imyashkale/deployer/internal/deployerr"
	"github.com/imyashkale/deployer/internal/models"
)

const sample = `
service:
  name: api
  product: shop
  category: backend
deployments:
  - name: api-staging
    environment: staging
    type: lambda-zip
    storage:
      bucket: artifacts
      prefix: functions
    build:
      command: make package
      output: dist
    kubernetes:
      namespace: runtime
      rolloutTimeoutSeconds: 120
    hooks:
      pre_build:
        - name: deps
          command: npm ci
    notifications:
      webhookUrl: https://discord.example/hook
      events: [deployStart, deployError]
  - environment: prod
    type: service
    docker:
      dockerfile: Dockerfile
      buildArgs:
        NODE_ENV: production
    registry:
      host: registry.registry.svc.cluster.local:5000
      nodePort: 30600
    migration:
      jobManifest: k8s/migrate.yaml
      timeoutSeconds: 600
    health:
      checkRevision: true
      statusOptional: true
      intervalSeconds: 5
  - environment: development
    type: web
    web:
      buildCommand: npm run build
      bucket: site-dev
      distributionId: E2ABC
    verification:
      minioCheck:
        minFiles: 5
  - environment: dev
    type: edge-function
    edge:
      region: eu
`

func TestParseDescriptor(t *testing.T) {
	d, err := ParseDescriptor([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, models.ServiceDescriptor{Name: "api", Product: "shop", Category: "backend"}, d.Service)
	require.Len(t, d.Targets, 4)

	lambda := d.Targets[0]
	assert.Equal(t, models.Staging, lambda.Environment)
	assert.Equal(t, "artifacts", lambda.Storage.Bucket)
	assert.Equal(t, "npm ci", lambda.Hooks.PreBuild[0].Command)
	assert.Equal(t, []string{"deployStart", "deployError"}, lambda.Notifications.Events)
	ls, ok := lambda.Settings.(*models.LambdaZipSettings)
	require.True(t, ok)
	assert.Equal(t, "make package", ls.Build.Command)
	assert.Equal(t, "runtime", ls.Namespace)
	assert.Equal(t, 120*time.Second, ls.RolloutTimeout)

	svc := d.Targets[1]
	assert.Equal(t, "api-production", svc.Name)
	assert.Equal(t, models.Production, svc.Environment)
	ss, ok := svc.Settings.(*models.ServiceSettings)
	require.True(t, ok)
	assert.Equal(t, 30600, ss.Registry.NodePort)
	assert.Equal(t, "production", ss.BuildArgs["NODE_ENV"])
	assert.Equal(t, 600*time.Second, ss.Migration.Timeout)
	assert.True(t, ss.Health.CheckRevision)
	assert.True(t, ss.Health.StatusOptional)
	assert.Equal(t, 5*time.Second, ss.Health.Interval)

	ws, ok := d.Targets[2].Settings.(*models.WebSettings)
	require.True(t, ok)
	assert.Equal(t, 5, ws.MinFiles)
	assert.Equal(t, "E2ABC", ws.DistributionID)

	unknown := d.Targets[3]
	assert.Equal(t, models.DeploymentType("edge-function"), unknown.Type)
	assert.Nil(t, unknown.Settings)
}

func TestParseDescriptorErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{name: "malformed yaml", doc: "service: [", want: "invalid descriptor"},
		{name: "no service name", doc: "deployments:\n  - environment: staging\n    type: web\n", want: "service.name"},
		{name: "no deployments", doc: "service:\n  name: api\n", want: "no deployments"},
		{name: "bad environment", doc: "service:\n  name: api\ndeployments:\n  - environment: qa\n    type: web\n", want: "unknown environment"},
		{name: "missing type", doc: "service:\n  name: api\ndeployments:\n  - environment: staging\n", want: "type is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDescriptor([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadDescriptorIsConfigurationError(t *testing.T) {
	_, err := LoadDescriptor(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, deployerr.KindConfiguration, deployerr.KindOf(err))

	path := filepath.Join(t.TempDir(), "deploy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service: {}"), 0o644))
	_, err = LoadDescriptor(path)
	assert.Equal(t, deployerr.KindConfiguration, deployerr.KindOf(err))

	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	d, err := LoadDescriptor(path)
	require.NoError(t, err)
	assert.Len(t, d.Targets, 4)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults", cfg: Config{Port: "3001"}},
		{name: "half static credentials", cfg: Config{Port: "3001", S3AccessKeyID: "key"}, wantErr: true},
		{name: "short account id", cfg: Config{Port: "3001", AWSAccountID: "1234"}, wantErr: true},
		{name: "account id", cfg: Config{Port: "3001", AWSAccountID: "123456789012"}},
		{name: "port not numeric", cfg: Config{Port: "http"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("DEPLOYMENTS_TABLE", "deployments")
	t.Setenv("S3_USE_PATH_STYLE", "false")
	t.Setenv("DEPLOYER_API_SECRET", "")
	t.Setenv("AWS_ACCOUNT_ID", "")
	t.Setenv("S3_ACCESS_KEY_ID", "")
	t.Setenv("S3_SECRET_ACCESS_KEY", "")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.HistoryEnabled())
	assert.False(t, cfg.S3UsePathStyle)
	assert.Error(t, cfg.ValidateServe())
}
