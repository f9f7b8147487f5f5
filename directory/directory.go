// Package directory implements the agent directory: the snapshot of
// downstream agents the router may dispatch to. Descriptors come from one or
// more sources (static lists, A2A agent cards); the snapshot is fetched lazily
// on first use and optionally refreshed after a TTL or on a schedule.
package directory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/agentrouter/core"
	"github.com/hupe1980/agentrouter/logging"
)

// Source yields agent descriptors.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]core.AgentDescriptor, error)
}

// Options configures a Directory.
type Options struct {
	// RefreshInterval re-fetches the snapshot on the next access after it
	// elapsed. Zero keeps the first snapshot until Invalidate.
	RefreshInterval time.Duration
	// MaxConcurrency bounds concurrent source fetches.
	MaxConcurrency int
	Logger         logging.Logger
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Directory implements core.Directory over a set of sources.
type Directory struct {
	sources []Source
	opts    Options
	logger  logging.Logger

	mu         sync.Mutex
	snapshot   []core.AgentDescriptor
	fetchedAt  time.Time
	loaded     bool
	refreshing bool

	group singleflight.Group

	cronMu sync.Mutex
	cron   *cron.Cron
}

// New creates a directory over sources.
func New(sources []Source, optFns ...func(o *Options)) *Directory {
	opts := Options{
		MaxConcurrency: 8,
		Logger:         logging.NoOpLogger{},
		Now:            time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}

	return &Directory{
		sources: append([]Source(nil), sources...),
		opts:    opts,
		logger:  logging.OrNoOp(opts.Logger),
	}
}

// ListAgents returns the current snapshot in source order.
func (d *Directory) ListAgents(ctx context.Context) ([]core.AgentDescriptor, error) {
	snap, err := d.current(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.AgentDescriptor, len(snap))
	copy(out, snap)
	return out, nil
}

// Summary returns the reduced view of every agent.
func (d *Directory) Summary(ctx context.Context) ([]core.AgentSummary, error) {
	snap, err := d.current(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.AgentSummary, 0, len(snap))
	for _, a := range snap {
		out = append(out, a.Summary())
	}
	return out, nil
}

// Resolve finds the descriptor whose name matches case-insensitively.
func (d *Directory) Resolve(ctx context.Context, name string) (core.AgentDescriptor, error) {
	snap, err := d.current(ctx)
	if err != nil {
		return core.AgentDescriptor{}, err
	}
	for _, a := range snap {
		if a.Matches(name) {
			return a, nil
		}
	}
	return core.AgentDescriptor{}, fmt.Errorf("%w: %q", core.ErrAgentNotFound, name)
}

// Invalidate drops the snapshot; the next access fetches again.
func (d *Directory) Invalidate() {
	d.mu.Lock()
	d.loaded = false
	d.snapshot = nil
	d.mu.Unlock()
}

// Refresh fetches a new snapshot immediately. Concurrent refreshes share one
// fetch.
func (d *Directory) Refresh(ctx context.Context) error {
	_, err := d.reload(ctx)
	return err
}

// current returns the snapshot, fetching it when missing or expired. Only one
// fetch runs at a time; while an expired snapshot is being refreshed other
// callers are served the stale one. The lock is never held during a fetch.
func (d *Directory) current(ctx context.Context) ([]core.AgentDescriptor, error) {
	d.mu.Lock()
	if d.loaded && (!d.expired() || d.refreshing) {
		snap := d.snapshot
		d.mu.Unlock()
		return snap, nil
	}
	d.mu.Unlock()

	return d.reload(ctx)
}

// reload runs one shared fetch. The fetch is detached from the caller's
// cancellation so a caller giving up does not fail the others waiting on it.
func (d *Directory) reload(ctx context.Context) ([]core.AgentDescriptor, error) {
	fetchCtx := context.WithoutCancel(ctx)
	ch := d.group.DoChan("snapshot", func() (any, error) {
		d.mu.Lock()
		d.refreshing = true
		d.mu.Unlock()

		snap, ok := d.fetch(fetchCtx)

		d.mu.Lock()
		defer d.mu.Unlock()
		d.refreshing = false

		if !ok && d.loaded {
			d.logger.Warn("every agent source failed, keeping previous snapshot", "agents", len(d.snapshot))
			d.fetchedAt = d.opts.Now()
			return d.snapshot, nil
		}

		d.snapshot = snap
		d.fetchedAt = d.opts.Now()
		d.loaded = true

		return snap, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]core.AgentDescriptor), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Directory) expired() bool {
	if d.opts.RefreshInterval <= 0 {
		return false
	}
	return !d.opts.Now().Before(d.fetchedAt.Add(d.opts.RefreshInterval))
}

// fetch queries every source concurrently. A failing source is logged and
// omitted; duplicate names keep the first occurrence in source order. ok is
// false when there were sources and none of them answered.
func (d *Directory) fetch(ctx context.Context) (snap []core.AgentDescriptor, ok bool) {
	results := make([][]core.AgentDescriptor, len(d.sources))
	failed := make([]bool, len(d.sources))

	p := pool.New().WithMaxGoroutines(d.opts.MaxConcurrency)
	for i, src := range d.sources {
		i, src := i, src
		p.Go(func() {
			descs, err := src.Fetch(ctx)
			if err != nil {
				d.logger.Warn("agent source unavailable", "source", src.Name(), "error", err)
				failed[i] = true
				return
			}
			results[i] = descs
		})
	}
	p.Wait()

	ok = len(d.sources) == 0
	for _, f := range failed {
		if !f {
			ok = true
			break
		}
	}

	seen := make(map[string]struct{})
	for _, descs := range results {
		for _, desc := range descs {
			key := strings.ToLower(strings.TrimSpace(desc.Name))
			if key == "" {
				d.logger.Warn("skipping agent without name", "endpoint", desc.Endpoint)
				continue
			}
			if _, dup := seen[key]; dup {
				d.logger.Warn("duplicate agent name ignored", "agent", desc.Name, "endpoint", desc.Endpoint)
				continue
			}
			seen[key] = struct{}{}
			snap = append(snap, desc)
		}
	}

	d.logger.Debug("agent directory refreshed", "agents", len(snap), "sources", len(d.sources))

	return snap, ok
}

// StartRefresh refreshes the snapshot in the background on schedule, which is
// a cron expression, a descriptor such as "@every 5m", or a Go duration.
func (d *Directory) StartRefresh(ctx context.Context, schedule string) error {
	sched, err := parseSchedule(schedule)
	if err != nil {
		return err
	}

	d.cronMu.Lock()
	defer d.cronMu.Unlock()

	if d.cron != nil {
		return fmt.Errorf("background refresh already running")
	}

	c := cron.New()
	c.Schedule(sched, cron.FuncJob(func() {
		if err := d.Refresh(ctx); err != nil {
			d.logger.Warn("background directory refresh failed", "error", err)
		}
	}))
	c.Start()
	d.cron = c

	return nil
}

// StopRefresh stops the background refresh and waits for a running refresh.
func (d *Directory) StopRefresh() {
	d.cronMu.Lock()
	defer d.cronMu.Unlock()

	if d.cron == nil {
		return
	}
	<-d.cron.Stop().Done()
	d.cron = nil
}

func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return cron.Every(dur), nil
}

var _ core.Directory = (*Directory)(nil)
