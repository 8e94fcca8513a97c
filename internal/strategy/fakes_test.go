package strategy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/imyashkale/deployer/internal/cluster"
	"github.com/imyashkale/deployer/internal/container"
	"github.com/imyashkale/deployer/internal/hooks"
	"github.com/imyashkale/deployer/internal/models"
	"github.com/imyashkale/deployer/internal/npm"
	"github.com/imyashkale/deployer/internal/shell/shelltest"
	"github.com/imyashkale/deployer/internal/storage"
	"github.com/imyashkale/deployer/internal/vcs"
)

// journal records collaborator calls across fakes in order
type journal struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func newJournal() *journal {
	return &journal{fail: map[string]error{}}
}

func (j *journal) record(format string, args ...interface{}) error {
	call := fmt.Sprintf(format, args...)
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, call)
	for prefix, err := range j.fail {
		if strings.HasPrefix(call, prefix) {
			return err
		}
	}
	return nil
}

func (j *journal) failOn(prefix string, err error) *journal {
	j.fail[prefix] = err
	return j
}

func (j *journal) Calls() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.calls...)
}

func (j *journal) count(prefix string) int {
	n := 0
	for _, c := range j.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

type fakeEngine struct{ j *journal }

func (f *fakeEngine) Build(ctx context.Context, opts container.BuildOptions) error {
	return f.j.record("docker build %s", strings.Join(opts.Tags, ","))
}
func (f *fakeEngine) Tag(ctx context.Context, source, target string) error {
	return f.j.record("docker tag %s %s", source, target)
}
func (f *fakeEngine) Push(ctx context.Context, ref string) error {
	return f.j.record("docker push %s", ref)
}
func (f *fakeEngine) RemoveImage(ctx context.Context, ref string) error {
	return f.j.record("docker rmi %s", ref)
}

type fakeImages struct{ j *journal }

func (f *fakeImages) Login(ctx context.Context, registry, username, password string) error {
	return f.j.record("docker login %s %s", registry, username)
}
func (f *fakeImages) BuildxPush(ctx context.Context, opts container.BuildOptions, platforms []string) error {
	return f.j.record("docker buildx %s %s", strings.Join(opts.Tags, ","), strings.Join(platforms, ","))
}

type fakeCluster struct {
	j        *journal
	pods     cluster.PodList
	nodePort int
	portErr  error
	logs     string
}

func (f *fakeCluster) ApplyManifest(ctx context.Context, namespace, path string) error {
	return f.j.record("kubectl apply %s %s", namespace, path)
}
func (f *fakeCluster) SetImage(ctx context.Context, namespace, deployment, c, image string) error {
	return f.j.record("kubectl set image %s %s %s=%s", namespace, deployment, c, image)
}
func (f *fakeCluster) RolloutRestart(ctx context.Context, namespace, deployment string) error {
	return f.j.record("kubectl rollout restart %s %s", namespace, deployment)
}
func (f *fakeCluster) RolloutStatus(ctx context.Context, namespace, deployment string, timeout time.Duration) error {
	return f.j.record("kubectl rollout status %s %s", namespace, deployment)
}
func (f *fakeCluster) RolloutUndo(ctx context.Context, namespace, deployment string) error {
	return f.j.record("kubectl rollout undo %s %s", namespace, deployment)
}
func (f *fakeCluster) GetPods(ctx context.Context, namespace, selector string) (cluster.PodList, error) {
	return f.pods, f.j.record("kubectl get pods %s %s", namespace, selector)
}
func (f *fakeCluster) RunningPod(ctx context.Context, namespace, selector string) (string, error) {
	return "pod-1", f.j.record("kubectl running pod %s %s", namespace, selector)
}
func (f *fakeCluster) ServiceNodePort(ctx context.Context, namespace, service string) (int, error) {
	if err := f.j.record("kubectl get service %s %s", namespace, service); err != nil {
		return 0, err
	}
	return f.nodePort, f.portErr
}
func (f *fakeCluster) RunJob(ctx context.Context, namespace, name, manifest string) error {
	return f.j.record("kubectl run job %s %s", namespace, name)
}
func (f *fakeCluster) WaitJob(ctx context.Context, namespace, name string, timeout time.Duration) error {
	return f.j.record("kubectl wait job %s %s", namespace, name)
}
func (f *fakeCluster) JobLogs(ctx context.Context, namespace, name string) (string, error) {
	return f.logs, f.j.record("kubectl logs job %s %s", namespace, name)
}
func (f *fakeCluster) DeleteJob(ctx context.Context, namespace, name string) error {
	return f.j.record("kubectl delete job %s %s", namespace, name)
}
func (f *fakeCluster) Exec(ctx context.Context, namespace, pod string, command ...string) (string, error) {
	return `{"status":"ok"}`, f.j.record("kubectl exec %s %s", namespace, pod)
}

type fakeVCS struct {
	j   *journal
	req vcs.CommitRequest
	err error
}

func (f *fakeVCS) CommitAndPush(ctx context.Context, req vcs.CommitRequest) error {
	f.req = req
	if err := f.j.record("git commit %s", req.Message); err != nil {
		return err
	}
	return f.err
}

type fakeStore struct {
	j       *journal
	mu      sync.Mutex
	objects []storage.Object
}

func (f *fakeStore) EnsureBucket(ctx context.Context, bucket string) error {
	return f.j.record("s3 ensure %s", bucket)
}
func (f *fakeStore) PutObject(ctx context.Context, obj storage.Object) error {
	if err := f.j.record("s3 put %s/%s", obj.Bucket, obj.Key); err != nil {
		return err
	}
	f.mu.Lock()
	f.objects = append(f.objects, obj)
	f.mu.Unlock()
	return nil
}

type fakeCDN struct{ j *journal }

func (f *fakeCDN) CreateInvalidation(ctx context.Context, distributionID string, paths []string) (string, error) {
	return "INV123", f.j.record("cloudfront invalidate %s %s", distributionID, strings.Join(paths, ","))
}

type fakePackages struct{ j *journal }

func (f *fakePackages) Version(ctx context.Context, dir string) (string, error) {
	return "1.4.2", f.j.record("npm version %s", dir)
}
func (f *fakePackages) Publish(ctx context.Context, req npm.PublishRequest) error {
	return f.j.record("npm publish %s %s", req.Access, req.Tag)
}

// fakeProber answers probes from a script; the last answer repeats
type fakeProber struct {
	j       *journal
	answers []error
	probes  int
}

func (f *fakeProber) Probe(ctx context.Context, target HealthTarget) error {
	_ = f.j.record("health probe %s", target.Revision)
	i := f.probes
	f.probes++
	if len(f.answers) == 0 {
		return nil
	}
	if i >= len(f.answers) {
		i = len(f.answers) - 1
	}
	return f.answers[i]
}

// fixture bundles a dispatcher built from fakes
type fixture struct {
	j       *journal
	shell   *shelltest.Recorder
	cluster *fakeCluster
	vcs     *fakeVCS
	store   *fakeStore
	prober  *fakeProber
	deps    Dependencies
}

func newFixture(root string) *fixture {
	j := newJournal()
	f := &fixture{
		j:       j,
		shell:   shelltest.NewRecorder(),
		cluster: &fakeCluster{j: j, pods: cluster.PodList{{Name: "api-1", Phase: "Running"}, {Name: "api-2", Phase: "Running"}}},
		vcs:     &fakeVCS{j: j},
		store:   &fakeStore{j: j},
		prober:  &fakeProber{j: j},
	}
	f.deps = Dependencies{
		Root:     root,
		Shell:    f.shell,
		Engine:   &fakeEngine{j: j},
		Images:   &fakeImages{j: j},
		Cluster:  f.cluster,
		VCS:      f.vcs,
		Registry: container.NoAuth{},
		Store:    f.store,
		CDN:      &fakeCDN{j: j},
		Packages: &fakePackages{j: j},
		Health:   f.prober,
		Credentials: Credentials{
			NpmToken:       "npm-token",
			DockerHubUser:  "acme",
			DockerHubToken: "hub-token",
		},
	}
	return f
}

var fixedNow = time.Unix(1700000000, 0)

func (f *fixture) container() *Container {
	c := NewContainer(f.deps)
	c.now = func() time.Time { return fixedNow }
	return c
}

func (f *fixture) runtime() *Runtime {
	rt := NewRuntime(f.deps)
	rt.now = func() time.Time { return fixedNow }
	rt.sleep = func(context.Context, time.Duration) error { return nil }
	return rt
}

func request(target *models.DeploymentTarget, rec *shelltest.Recorder, dryRun bool) Request {
	return Request{
		Service:  models.ServiceDescriptor{Name: "api", Product: "shop"},
		Target:   target,
		Revision: "abc1234",
		DryRun:   dryRun,
		Hooks:    hooks.NewPhases(hooks.NewRunner(rec, "", dryRun), target.Hooks),
	}
}
