package strategy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imyashkale/deployer/internal/models"
)

func TestEvaluate(t *testing.T) {
	strict := models.HealthSettings{CheckRevision: true, CheckDependencies: true}
	lenient := models.HealthSettings{StatusOptional: true}

	tests := []struct {
		name     string
		body     string
		settings models.HealthSettings
		wantErr  bool
	}{
		{name: "ok status", body: `{"status":"ok"}`},
		{name: "plain text body", body: "OK", wantErr: true},
		{name: "plain text body allowed", body: "OK", settings: lenient},
		{name: "plain text body with checks", body: "OK", settings: strict, wantErr: true},
		{name: "empty object", body: `{}`, wantErr: true},
		{name: "empty object allowed", body: `{}`, settings: lenient},
		{name: "missing status", body: `{"revision":"abc1234"}`, wantErr: true},
		{name: "missing status allowed", body: `{"revision":"abc1234"}`, settings: lenient},
		{name: "degraded status allowed settings", body: `{"status":"degraded"}`, settings: lenient, wantErr: true},
		{name: "degraded", body: `{"status":"degraded"}`, wantErr: true},
		{name: "revision matches", body: `{"status":"healthy","revision":"abc1234","dependencies":{"db":"up"}}`, settings: strict},
		{name: "old revision", body: `{"status":"healthy","revision":"0ld0000"}`, settings: strict, wantErr: true},
		{name: "dependency down", body: `{"status":"ok","revision":"abc1234","dependencies":{"db":{"status":"down"}}}`, settings: strict, wantErr: true},
		{name: "dependency bool", body: `{"status":"ok","revision":"abc1234","dependencies":{"cache":true}}`, settings: strict},
		{name: "dependency ignored", body: `{"status":"ok","dependencies":{"db":false}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := evaluate([]byte(tt.body), HealthTarget{Revision: "abc1234", Settings: tt.settings})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnhealthy)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestProber_HTTP(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"status":"ok","revision":"abc1234"}`))
	}))
	defer srv.Close()

	p := NewProber(nil)
	target := HealthTarget{Revision: "abc1234", Settings: models.HealthSettings{URL: srv.URL + "/health", CheckRevision: true}}
	require.NoError(t, p.Probe(context.Background(), target))

	status.Store(http.StatusServiceUnavailable)
	assert.ErrorIs(t, p.Probe(context.Background(), target), ErrUnhealthy)
}

func TestProber_InPod(t *testing.T) {
	j := newJournal()
	p := NewProber(&fakeCluster{j: j})

	err := p.Probe(context.Background(), HealthTarget{Namespace: "shop", Selector: "app=api"})

	require.NoError(t, err)
	assert.Equal(t, []string{"kubectl running pod shop app=api", "kubectl exec shop pod-1"}, j.Calls())
}
