package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrouter/core"
)

type countingSource struct {
	name  string
	descs []core.AgentDescriptor
	err   error
	calls int32
}

func (s *countingSource) Name() string { return s.name }

func (s *countingSource) Fetch(context.Context) ([]core.AgentDescriptor, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.descs, s.err
}

func TestDirectory_ResolveCaseInsensitive(t *testing.T) {
	d := New([]Source{Static(
		core.AgentDescriptor{Name: "FireAgent", Description: "fires", Endpoint: "http://fire"},
		core.AgentDescriptor{Name: "PoliceAgent", Description: "police", Endpoint: "http://police"},
	)})

	a, err := d.Resolve(context.Background(), "fireagent")
	require.NoError(t, err)
	assert.Equal(t, "http://fire", a.Endpoint)

	_, err = d.Resolve(context.Background(), "WeatherAgent")
	assert.ErrorIs(t, err, core.ErrAgentNotFound)
}

func TestDirectory_LazySnapshot(t *testing.T) {
	src := &countingSource{name: "s", descs: []core.AgentDescriptor{{Name: "A"}}}
	d := New([]Source{src})
	assert.Equal(t, int32(0), atomic.LoadInt32(&src.calls))

	for i := 0; i < 3; i++ {
		_, err := d.ListAgents(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls))

	d.Invalidate()
	_, err := d.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&src.calls))
}

func TestDirectory_RefreshInterval(t *testing.T) {
	now := time.Unix(0, 0)
	src := &countingSource{name: "s", descs: []core.AgentDescriptor{{Name: "A"}}}
	d := New([]Source{src}, func(o *Options) {
		o.RefreshInterval = time.Minute
		o.Now = func() time.Time { return now }
	})

	_, err := d.ListAgents(context.Background())
	require.NoError(t, err)
	now = now.Add(59 * time.Second)
	_, err = d.ListAgents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls))

	now = now.Add(time.Second)
	_, err = d.ListAgents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&src.calls))
}

type blockingSource struct {
	descs   []core.AgentDescriptor
	calls   int32
	block   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSource) Name() string { return "blocking" }

func (s *blockingSource) Fetch(context.Context) ([]core.AgentDescriptor, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.block.Load() {
		s.entered <- struct{}{}
		<-s.release
		return []core.AgentDescriptor{{Name: "B"}}, nil
	}
	return s.descs, nil
}

func TestDirectory_ServesStaleSnapshotDuringRefresh(t *testing.T) {
	var now atomic.Int64
	src := &blockingSource{
		descs:   []core.AgentDescriptor{{Name: "A"}},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	d := New([]Source{src}, func(o *Options) {
		o.RefreshInterval = time.Minute
		o.Now = func() time.Time { return time.Unix(now.Load(), 0) }
	})

	_, err := d.ListAgents(context.Background())
	require.NoError(t, err)

	now.Store(120)
	src.block.Store(true)

	refreshed := make(chan []core.AgentDescriptor, 1)
	go func() {
		agents, _ := d.ListAgents(context.Background())
		refreshed <- agents
	}()
	<-src.entered

	done := make(chan []core.AgentDescriptor, 1)
	go func() {
		agents, _ := d.ListAgents(context.Background())
		done <- agents
	}()

	select {
	case agents := <-done:
		require.Len(t, agents, 1)
		assert.Equal(t, "A", agents[0].Name)
	case <-time.After(2 * time.Second):
		t.Fatal("reader blocked behind an in-flight refresh")
	}

	close(src.release)
	agents := <-refreshed
	require.Len(t, agents, 1)
	assert.Equal(t, "B", agents[0].Name)
	assert.Equal(t, int32(2), atomic.LoadInt32(&src.calls))
}

func TestDirectory_ConcurrentFirstLoadSharesFetch(t *testing.T) {
	src := &blockingSource{entered: make(chan struct{}, 8), release: make(chan struct{})}
	src.block.Store(true)
	d := New([]Source{src})

	results := make(chan int, 4)
	for i := 0; i < 4; i++ {
		go func() {
			agents, _ := d.ListAgents(context.Background())
			results <- len(agents)
		}()
	}
	<-src.entered
	time.Sleep(20 * time.Millisecond)
	close(src.release)

	for i := 0; i < 4; i++ {
		assert.Equal(t, 1, <-results)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls))
}

func TestDirectory_KeepsSnapshotWhenAllSourcesFail(t *testing.T) {
	src := &countingSource{name: "s", descs: []core.AgentDescriptor{{Name: "A"}}}
	d := New([]Source{src})

	_, err := d.ListAgents(context.Background())
	require.NoError(t, err)

	src.descs = nil
	src.err = errors.New("down")
	require.NoError(t, d.Refresh(context.Background()))

	agents, err := d.ListAgents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "A", agents[0].Name)
}

func TestDirectory_CallerCancellationReturnsPromptly(t *testing.T) {
	src := &blockingSource{entered: make(chan struct{}, 1), release: make(chan struct{})}
	src.block.Store(true)
	defer close(src.release)
	d := New([]Source{src})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := d.ListAgents(ctx)
		errc <- err
	}()
	<-src.entered
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}
}

func TestDirectory_PartialSourceFailure(t *testing.T) {
	good := &countingSource{name: "good", descs: []core.AgentDescriptor{{Name: "A"}}}
	bad := &countingSource{name: "bad", err: errors.New("unreachable")}
	d := New([]Source{bad, good})

	agents, err := d.ListAgents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "A", agents[0].Name)
}

func TestDirectory_DuplicateNamesFirstWins(t *testing.T) {
	d := New([]Source{
		Static(core.AgentDescriptor{Name: "Fire", Endpoint: "http://first"}),
		Static(core.AgentDescriptor{Name: "fire", Endpoint: "http://second"}, core.AgentDescriptor{Name: "Police"}),
	})

	agents, err := d.ListAgents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "http://first", agents[0].Endpoint)

	sum, err := d.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Fire", "Police"}, core.AgentNames(sum))
}

func TestDirectory_EmptyIsNotAnError(t *testing.T) {
	d := New(nil)
	agents, err := d.ListAgents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, agents)
}

func TestDirectory_ListAgentsReturnsCopy(t *testing.T) {
	d := New([]Source{Static(core.AgentDescriptor{Name: "A"})})
	agents, err := d.ListAgents(context.Background())
	require.NoError(t, err)
	agents[0].Name = "mutated"

	again, err := d.ListAgents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A", again[0].Name)
}

func cardServer(t *testing.T, card a2a.AgentCard) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != AgentCardPath {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(card)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCardSource_Header(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		_ = json.NewEncoder(w).Encode(a2a.AgentCard{Name: "FireAgent"})
	}))
	defer srv.Close()

	src := NewCardSource(srv.URL, func(o *CardSourceOptions) {
		o.Header = http.Header{"X-Api-Key": []string{"secret"}}
	})
	descs, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, "secret", gotKey)
}

func TestCardSource(t *testing.T) {
	srv := cardServer(t, a2a.AgentCard{
		Name:        "FireAgent",
		Description: "Handles fire emergencies",
		Skills: []a2a.AgentSkill{
			{ID: "dispatch", Name: "dispatch", Description: "dispatch", Tags: []string{"fire", "emergency"}},
			{ID: "report", Name: "report", Description: "report", Tags: []string{"emergency", "report"}},
		},
	})

	descs, err := NewCardSource(srv.URL + "/").Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, "FireAgent", descs[0].Name)
	assert.Equal(t, srv.URL, descs[0].Endpoint)
	assert.Equal(t, []string{"fire", "emergency", "report"}, descs[0].Tags)
}

func TestCardSource_Errors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	_, err := NewCardSource(srv.URL).Fetch(context.Background())
	assert.Error(t, err)

	nameless := cardServer(t, a2a.AgentCard{Description: "no name"})
	_, err = NewCardSource(nameless.URL).Fetch(context.Background())
	assert.Error(t, err)
}

func TestLoadRegistryFile(t *testing.T) {
	srv := cardServer(t, a2a.AgentCard{Name: "PoliceAgent", URL: "http://police/rpc"})

	path := filepath.Join(t.TempDir(), "registry.json")
	raw, err := json.Marshal([]string{srv.URL, " "})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	sources, err := LoadRegistryFile(path)
	require.NoError(t, err)
	require.Len(t, sources, 1)

	a, err := New(sources).Resolve(context.Background(), "policeagent")
	require.NoError(t, err)
	assert.Equal(t, "http://police/rpc", a.Endpoint)

	missing, err := LoadRegistryFile(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestStartRefresh(t *testing.T) {
	d := New([]Source{Static(core.AgentDescriptor{Name: "A"})})

	assert.Error(t, d.StartRefresh(context.Background(), "not a schedule"))
	require.NoError(t, d.StartRefresh(context.Background(), "@every 1h"))
	assert.Error(t, d.StartRefresh(context.Background(), "5m"))
	d.StopRefresh()
	d.StopRefresh()
}

func TestParseSchedule(t *testing.T) {
	_, err := parseSchedule("*/5 * * * *")
	assert.NoError(t, err)
	_, err = parseSchedule("90s")
	assert.NoError(t, err)
	_, err = parseSchedule("-1s")
	assert.Error(t, err)
	_, err = parseSchedule("")
	assert.Error(t, err)
}
