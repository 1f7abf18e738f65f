package workflow

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/deployer/pkg/environment"
	"github.com/openfroyo/deployer/pkg/environment/environmenttest"
	"github.com/openfroyo/deployer/pkg/stores"
	"github.com/openfroyo/deployer/pkg/telemetry"
)

// calls records collaborator invocations in order.
type calls struct {
	mu   sync.Mutex
	list []string
}

func (c *calls) add(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list = append(c.list, name)
}

func (c *calls) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.list...)
}

// fakeTools implements every collaborator. fail maps a call name to the
// error it returns.
type fakeTools struct {
	calls
	ip       netip.Addr
	fail     map[string]error
	commands []string
	uploads  [][2]string
}

func newFakeTools() *fakeTools {
	return &fakeTools{ip: netip.MustParseAddr("10.0.0.5"), fail: map[string]error{}}
}

func (f *fakeTools) do(name string) error {
	f.add(name)
	return f.fail[name]
}

func (f *fakeTools) RenderInfrastructure(context.Context, environment.Context) error {
	return f.do("render_infrastructure")
}

func (f *fakeTools) RenderConfiguration(_ context.Context, _ environment.Context, ip netip.Addr) error {
	if ip != f.ip {
		return errors.New("rendered for wrong address " + ip.String())
	}
	return f.do("render_configuration")
}

func (f *fakeTools) RenderRelease(_ context.Context, env environment.Context, _ netip.Addr) (string, error) {
	return filepath.Join(env.Internal.BuildDir, "release"), f.do("render_release")
}

func (f *fakeTools) Init(context.Context, environment.Context) error     { return f.do("init") }
func (f *fakeTools) Validate(context.Context, environment.Context) error { return f.do("validate") }
func (f *fakeTools) Plan(context.Context, environment.Context) error     { return f.do("plan") }
func (f *fakeTools) Apply(context.Context, environment.Context) error    { return f.do("apply") }
func (f *fakeTools) Destroy(context.Context, environment.Context) error  { return f.do("destroy") }

func (f *fakeTools) InstanceIP(context.Context, environment.Context) (netip.Addr, error) {
	return f.ip, f.do("instance_ip")
}

func (f *fakeTools) WaitForCloudInit(context.Context, environment.Context) error {
	return f.do("wait_cloud_init")
}

func (f *fakeTools) RunPlaybook(_ context.Context, _ environment.Context, playbook string) error {
	return f.do("playbook:" + playbook)
}

func (f *fakeTools) WaitReachable(context.Context, environment.Context, netip.Addr) error {
	return f.do("wait_reachable")
}

func (f *fakeTools) Run(_ context.Context, _ environment.Context, _ netip.Addr, command string) error {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.mu.Unlock()
	return f.do("run")
}

func (f *fakeTools) Upload(_ context.Context, _ environment.Context, _ netip.Addr, local, remote string) error {
	f.mu.Lock()
	f.uploads = append(f.uploads, [2]string{local, remote})
	f.mu.Unlock()
	return f.do("upload")
}

func (f *fakeTools) Pull(context.Context, environment.Context, netip.Addr) error { return f.do("pull") }
func (f *fakeTools) Up(context.Context, environment.Context, netip.Addr) error   { return f.do("up") }
func (f *fakeTools) Healthy(context.Context, environment.Context, netip.Addr) error {
	return f.do("healthy")
}

// recordingListener keeps every notification as a string.
type recordingListener struct {
	calls
}

func (l *recordingListener) OnStepStarted(step, total int, description string) {
	l.add("started " + strconv.Itoa(step) + "/" + strconv.Itoa(total) + " " + description)
}

func (l *recordingListener) OnStepCompleted(step int, description string) {
	l.add("completed " + strconv.Itoa(step) + " " + description)
}

func (l *recordingListener) OnDetail(msg string) { l.add("detail " + msg) }
func (l *recordingListener) OnDebug(msg string)  { l.add("debug " + msg) }

// failingRepository fails every Save after the first failAfter saves.
type failingRepository struct {
	*stores.EnvironmentRepository
	saves     int
	failAfter int
}

func (r *failingRepository) Save(ctx context.Context, env environment.AnyEnvironment) error {
	r.saves++
	if r.saves > r.failAfter {
		return errors.New("disk full")
	}
	return r.EnvironmentRepository.Save(ctx, env)
}

type harness struct {
	root  string
	repo  *stores.EnvironmentRepository
	store *stores.SQLiteStore
	tools *fakeTools
	tel   *telemetry.Telemetry
	orch  *Orchestrator
}

// newHarness wires an orchestrator to a real repository and history store
// under a temporary directory, with fake external tools.
func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()

	store, err := stores.OpenSQLiteStore(context.Background(), filepath.Join(root, "deployer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	repo := stores.NewEnvironmentRepository(filepath.Join(root, "data"), stores.WithTransitionLog(store))

	tel := telemetry.NewNop()
	tel.Events, err = telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	require.NoError(t, err)
	tel.Events.Subscribe(telemetry.PersistTo(store, zerolog.Nop()), nil)

	h := &harness{root: root, repo: repo, store: store, tools: newFakeTools(), tel: tel}
	h.orch = h.orchestrator(t, repo)
	return h
}

func (h *harness) orchestrator(t *testing.T, repo Repository) *Orchestrator {
	t.Helper()
	clock := environmenttest.Now
	o, err := New(Dependencies{
		Repository:   repo,
		Renderer:     h.tools,
		Provisioner:  h.tools,
		Configurator: h.tools,
		Remote:       h.tools,
		Services:     h.tools,
		RunLog:       h.store,
		Telemetry:    h.tel,
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})
	require.NoError(t, err)
	return o
}

func (h *harness) create(t *testing.T, name string) environment.Environment[environment.Created] {
	t.Helper()
	env, err := h.orch.Create(context.Background(), environmenttest.Created(t, name, h.root).Context())
	require.NoError(t, err)
	return env
}

func (h *harness) load(t *testing.T, name string) environment.AnyEnvironment {
	t.Helper()
	env, found, err := h.repo.Load(context.Background(), environment.MustParseName(name))
	require.NoError(t, err)
	require.True(t, found)
	return env
}

func traceFiles(t *testing.T, env environment.Context) []string {
	t.Helper()
	entries, err := os.ReadDir(env.Internal.TracesDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		out = append(out, filepath.Join(env.Internal.TracesDir, e.Name()))
	}
	return out
}
