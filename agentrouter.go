// Package agentrouter provides a high-level façade over the routing engine
// and its collaborators (agent directory, conversation store, credential
// broker, dispatcher and decision-maker). Most applications either:
//  1. Build a Router from a config.Config via FromConfig, or
//  2. Assemble one with New, supplying at least a Directory and a Maker.
//
// Routing is then invoked asynchronously (Run, SendMessage) or synchronously
// (Send). Unset collaborators default to in-memory implementations suitable
// for local development and testing.
package agentrouter

import (
	"context"
	"errors"
	"fmt"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/agentrouter/config"
	"github.com/hupe1980/agentrouter/core"
	"github.com/hupe1980/agentrouter/credential"
	"github.com/hupe1980/agentrouter/decision"
	"github.com/hupe1980/agentrouter/decision/anthropic"
	"github.com/hupe1980/agentrouter/decision/openai"
	"github.com/hupe1980/agentrouter/directory"
	"github.com/hupe1980/agentrouter/dispatch"
	"github.com/hupe1980/agentrouter/engine"
	"github.com/hupe1980/agentrouter/history"
	"github.com/hupe1980/agentrouter/lifecycle"
	"github.com/hupe1980/agentrouter/logging"
	"github.com/hupe1980/agentrouter/session"
	"github.com/hupe1980/agentrouter/tracing"
)

// DefaultStaticTokenTTL is the lifetime reported for static tokens.
const DefaultStaticTokenTTL = time.Hour

// DefaultSessionIdleTTL is how long an in-memory session survives without a
// turn.
const DefaultSessionIdleTTL = 24 * time.Hour

// Options configures the Router.
type Options struct {
	// Directory lists the routable agents. Required.
	Directory core.Directory
	// Maker chooses the next action. Required.
	Maker decision.Maker

	// Stores (default to in-memory implementations)
	Store    core.ConversationStore
	Sessions core.SessionStore
	// SessionIdleTTL evicts in-memory sessions idle for longer. Zero or
	// negative keeps sessions for the life of the process.
	SessionIdleTTL time.Duration

	// Broker defaults to a broker without an issuer; every token request
	// fails and is reported to the decision-maker as a remote error.
	Broker core.CredentialBroker
	// Dispatcher defaults to dispatch.New().
	Dispatcher core.Dispatcher

	// Engine tuning
	Name               string
	HistoryWindow      int
	MaxIterations      int
	MaxConcurrentTurns int
	EventBufferSize    int
	Instruction        string

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Router is the high-level façade aggregating the engine, the task
// lifecycle adapter and the resources they own.
type Router struct {
	opts      Options
	engine    *engine.Engine
	lifecycle *lifecycle.Adapter
	closers   []func(context.Context) error
}

// New creates a Router. Any unset store is initialized with an in-memory
// implementation.
func New(optFns ...func(o *Options)) (*Router, error) {
	opts := Options{
		Store:          history.NewInMemoryStore(),
		Sessions:       session.NewInMemoryStore(),
		SessionIdleTTL: DefaultSessionIdleTTL,
		Name:           engine.DefaultName,
		HistoryWindow:  engine.DefaultHistoryWindow,
		MaxIterations:  engine.DefaultMaxIterations,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dispatcher == nil {
		opts.Dispatcher = dispatch.New(func(o *dispatch.Options) { o.Logger = opts.Logger })
	}
	if opts.Broker == nil {
		opts.Broker = credential.NewBroker(credential.IssuerFunc(func(_ context.Context, scope string) (core.Token, error) {
			return core.Token{}, &core.CredentialError{Scope: scope, Reason: "no credential issuer configured"}
		}), func(o *credential.Options) { o.Logger = opts.Logger })
	}

	e, err := engine.New(func(o *engine.Options) {
		o.Directory = opts.Directory
		o.Store = opts.Store
		o.Sessions = opts.Sessions
		o.Broker = opts.Broker
		o.Dispatcher = opts.Dispatcher
		o.Maker = opts.Maker
		o.Logger = opts.Logger
		o.Name = opts.Name
		o.HistoryWindow = opts.HistoryWindow
		o.MaxIterations = opts.MaxIterations
		o.MaxConcurrentTurns = opts.MaxConcurrentTurns
		o.EventBufferSize = opts.EventBufferSize
		o.Instruction = opts.Instruction
	})
	if err != nil {
		return nil, err
	}

	r := &Router{
		opts:      opts,
		engine:    e,
		lifecycle: lifecycle.New(e, func(o *lifecycle.Options) { o.Logger = opts.Logger }),
	}

	if mem, ok := opts.Sessions.(*session.InMemoryStore); ok && opts.SessionIdleTTL > 0 {
		stop := mem.StartSweeper(opts.SessionIdleTTL, sweepInterval(opts.SessionIdleTTL), opts.Logger)
		r.closers = append(r.closers, func(context.Context) error {
			stop()
			return nil
		})
	}

	return r, nil
}

// sweepInterval checks for idle sessions a few times per TTL.
func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	if interval > time.Hour {
		interval = time.Hour
	}
	return interval
}

// FromConfig builds a Router and all of its collaborators from cfg. optFns
// run after the configuration is applied and may override any collaborator;
// the scripted provider requires Options.Maker to be set this way.
func FromConfig(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*Router, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	b := &builder{cfg: cfg, redis: map[string]*redis.Client{}}
	r, err := b.build(ctx, optFns)
	if err != nil {
		_ = b.close(ctx)
		return nil, err
	}

	return r, nil
}

// Engine returns the underlying routing engine.
func (r *Router) Engine() *engine.Engine { return r.engine }

// Lifecycle returns the task lifecycle adapter.
func (r *Router) Lifecycle() *lifecycle.Adapter { return r.lifecycle }

// Run starts an asynchronous turn returning its id and event stream.
func (r *Router) Run(ctx context.Context, conv core.ConversationContext, message string) (string, <-chan engine.Event, error) {
	return r.engine.Run(ctx, conv, message)
}

// Send is a synchronous helper that routes message and returns the final
// answer.
func (r *Router) Send(ctx context.Context, conv core.ConversationContext, message string) (string, error) {
	return r.engine.RunSync(ctx, conv, message)
}

// SendMessage starts a task and returns its status updates.
func (r *Router) SendMessage(ctx context.Context, req lifecycle.Request) (<-chan lifecycle.StatusUpdate, error) {
	return r.lifecycle.SendMessage(ctx, req)
}

// Close waits for running turns and releases owned resources.
func (r *Router) Close(ctx context.Context) error {
	r.engine.Wait()

	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// builder assembles collaborators from configuration and tracks what must be
// released on Close.
type builder struct {
	cfg     *config.Config
	logger  *logging.RouterLogger
	redis   map[string]*redis.Client
	closers []func(context.Context) error
}

func (b *builder) close(ctx context.Context) error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

func (b *builder) build(ctx context.Context, optFns []func(o *Options)) (*Router, error) {
	cfg := b.cfg

	level, err := logging.ParseLevel(cfg.Logger.Level)
	if err != nil {
		return nil, err
	}
	b.logger = logging.NewSlogLogger(level, cfg.Logger.Format, cfg.Logger.AddSource).WithComponent("agentrouter")

	if cfg.Tracer.Enabled {
		shutdown, err := tracing.Setup(ctx, cfg.Tracer)
		if err != nil {
			return nil, fmt.Errorf("setup tracing: %w", err)
		}
		b.closers = append(b.closers, shutdown)
	}

	dir, err := b.directory(ctx)
	if err != nil {
		return nil, err
	}
	store, err := b.history()
	if err != nil {
		return nil, err
	}
	broker, err := b.broker()
	if err != nil {
		return nil, err
	}
	maker, err := b.maker()
	if err != nil {
		return nil, err
	}

	dispatcher := dispatch.New(func(o *dispatch.Options) {
		o.Timeout = cfg.Dispatch.Timeout
		o.Breaker = dispatch.BreakerOptions{
			MaxFailures: cfg.Dispatch.BreakerMaxFailures,
			Timeout:     cfg.Dispatch.BreakerTimeout,
			Interval:    cfg.Dispatch.BreakerInterval,
		}
		o.Logger = b.logger.WithComponent("dispatch")
	})

	all := append([]func(o *Options){func(o *Options) {
		o.Directory = dir
		o.Store = store
		o.Broker = broker
		o.Dispatcher = dispatcher
		o.Maker = maker
		o.Name = cfg.Router.Name
		o.HistoryWindow = cfg.Router.HistoryWindow
		o.MaxIterations = cfg.Router.MaxIterations
		o.MaxConcurrentTurns = cfg.Router.MaxConcurrentTurns
		o.Instruction = cfg.Router.Instruction
		o.SessionIdleTTL = cfg.Router.SessionIdleTTL
		o.Logger = b.logger
	}}, optFns...)

	r, err := New(all...)
	if err != nil {
		return nil, err
	}
	r.closers = append(b.closers, r.closers...)
	b.closers = nil

	return r, nil
}

func (b *builder) directory(ctx context.Context) (*directory.Directory, error) {
	cfg := b.cfg.Directory

	var sources []directory.Source
	if len(cfg.Agents) > 0 {
		descs := make([]core.AgentDescriptor, len(cfg.Agents))
		for i, a := range cfg.Agents {
			descs[i] = core.AgentDescriptor{Name: a.Name, Description: a.Description, Tags: a.Tags, Endpoint: a.Endpoint}
		}
		sources = append(sources, directory.Static(descs...))
	}
	sources = append(sources, directory.CardSources(cfg.CardURLs)...)
	if cfg.RegistryFile != "" {
		fromFile, err := directory.LoadRegistryFile(cfg.RegistryFile)
		if err != nil {
			return nil, err
		}
		sources = append(sources, fromFile...)
	}

	dir := directory.New(sources, func(o *directory.Options) {
		o.RefreshInterval = cfg.RefreshInterval
		o.Logger = b.logger.WithComponent("directory")
	})

	if cfg.RefreshSchedule != "" {
		if err := dir.StartRefresh(ctx, cfg.RefreshSchedule); err != nil {
			return nil, fmt.Errorf("schedule directory refresh: %w", err)
		}
		b.closers = append(b.closers, func(context.Context) error {
			dir.StopRefresh()
			return nil
		})
	}

	return dir, nil
}

func (b *builder) history() (core.ConversationStore, error) {
	cfg := b.cfg.History

	switch cfg.Backend {
	case "sqlite":
		s, err := history.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func(context.Context) error { return s.Close() })
		return s, nil
	case "redis":
		client, err := b.redisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return history.NewRedisStore(client, func(o *history.RedisStoreOptions) { o.TTL = cfg.RedisTTL }), nil
	default:
		return history.NewInMemoryStore(), nil
	}
}

func (b *builder) broker() (core.CredentialBroker, error) {
	cfg := b.cfg.Credential

	var issuer credential.Issuer
	switch {
	case cfg.StaticToken != "":
		issuer = credential.StaticIssuer(cfg.StaticToken, DefaultStaticTokenTTL)
	case cfg.TokenURL != "":
		prefix := cfg.ScopePrefix
		issuer = credential.NewClientCredentialsIssuer(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret,
			func(o *credential.ClientCredentialsOptions) {
				o.ScopeFunc = func(scope string) string { return prefix + scope }
			})
	default:
		return nil, nil
	}

	var cache credential.Cache
	if cfg.Cache == "redis" {
		client, err := b.redisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		cache = credential.NewRedisCache(client, "agentrouter:token:")
	}

	return credential.NewBroker(issuer, func(o *credential.Options) {
		o.Cache = cache
		o.SafetyBuffer = cfg.SafetyBuffer
		o.Logger = b.logger.WithComponent("credential")
	}), nil
}

func (b *builder) maker() (decision.Maker, error) {
	cfg := b.cfg.Decision

	switch cfg.Provider {
	case "openai":
		return openai.New(func(o *openai.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = cfg.MaxTokens
			}
			o.APIKey = cfg.APIKey
		}), nil
	case "anthropic":
		return anthropic.New(func(o *anthropic.Options) {
			if cfg.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Model)
			}
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxTokens = cfg.MaxTokens
			}
			o.APIKey = cfg.APIKey
		}), nil
	default:
		// scripted makers are supplied through Options.Maker
		return nil, nil
	}
}

func (b *builder) redisClient(rawURL string) (*redis.Client, error) {
	if c, ok := b.redis[rawURL]; ok {
		return c, nil
	}

	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opts)
	b.redis[rawURL] = c
	b.closers = append(b.closers, func(context.Context) error { return c.Close() })

	return c, nil
}
