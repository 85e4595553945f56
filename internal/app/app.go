// Package app wires all subsystems into a running voice-agent server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithDataStore,
// WithConnect, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/backoffice"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/bridge"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/call"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/callmgr"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/config"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/conversation"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/escalation"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/health"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/observe"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/resilience"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/retrieval"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/store/postgres"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/telephony"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/tools"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/pkg/embeddings"
	oaembed "github.com/xBlackSmurfx008/AI-Caller-sub001/pkg/embeddings/openai"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/pkg/llm"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/pkg/llm/anyllm"
	"github.com/xBlackSmurfx008/AI-Caller-sub001/pkg/realtime"
)

// defaultInstructions is the system prompt used for businesses that do not
// configure their own. A session without instructions is refused by the model
// client, so there is always a fallback.
const defaultInstructions = "You are a friendly phone assistant. Keep answers short and " +
	"conversational: this is a voice call, not a chat window. Use the available tools to " +
	"look up facts instead of guessing, and hand the call to a human when the caller asks " +
	"for one."

// DataStore is the persistence surface the application needs. *postgres.Store
// implements all of it; tests inject an in-memory double instead.
type DataStore interface {
	callmgr.CallStore
	telephony.CallStore
	conversation.Log
	call.StatusStore
	escalation.Store
	retrieval.ChunkStore

	Ping(ctx context.Context) error
	Close()
}

var _ DataStore = (*postgres.Store)(nil)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	store      DataStore
	rdb        *redis.Client
	embedder   embeddings.Provider
	auxLLM     llm.Provider
	connect    bridge.ConnectFunc
	metrics    *observe.Metrics
	machine    *call.Machine
	conv       *conversation.Store
	pipeline   *retrieval.Pipeline
	escalator  *escalation.Coordinator
	dispatcher *tools.Dispatcher
	mcpHost    *tools.MCPHost
	manager    *callmgr.Manager
	profiles   *profileSource
	srv        *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDataStore injects a data store instead of connecting to PostgreSQL.
func WithDataStore(s DataStore) Option {
	return func(a *App) { a.store = s }
}

// WithEmbedder injects an embeddings provider instead of creating the OpenAI
// one from config.
func WithEmbedder(p embeddings.Provider) Option {
	return func(a *App) { a.embedder = p }
}

// WithLLM injects the auxiliary text-completion provider used for query
// rewriting and hand-off summaries.
func WithLLM(p llm.Provider) Option {
	return func(a *App) { a.auxLLM = p }
}

// WithConnect injects the model-session connect function instead of dialing
// the Realtime API.
func WithConnect(fn bridge.ConnectFunc) Option {
	return func(a *App) { a.connect = fn }
}

// New creates an App by wiring all subsystems together. Initialisation is
// synchronous: store connection, MCP server registration, tool registry, and
// call manager assembly all happen before New returns.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		m, err := observe.NewMetrics(otel.GetMeterProvider())
		if err != nil {
			return nil, fmt.Errorf("app: init metrics: %w", err)
		}
		a.metrics = m
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	a.initRedis()

	if err := a.initProviders(); err != nil {
		return nil, fmt.Errorf("app: init providers: %w", err)
	}

	a.machine = call.NewMachine(a.store)
	a.conv = conversation.New(a.store)

	if err := a.initRetrieval(); err != nil {
		return nil, fmt.Errorf("app: init retrieval: %w", err)
	}
	a.initEscalation()

	if err := a.initTools(ctx); err != nil {
		return nil, fmt.Errorf("app: init tools: %w", err)
	}

	if err := a.initCallManager(); err != nil {
		return nil, fmt.Errorf("app: init call manager: %w", err)
	}

	a.initHTTP()
	return a, nil
}

// initStore connects to PostgreSQL unless a store was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Postgres.DSN
	if dsn == "" {
		return fmt.Errorf("postgres.dsn is required when no store is injected")
	}

	dims := a.cfg.Embeddings.Dimensions
	if dims == 0 {
		dims = 1536 // matches OpenAI text-embedding-3-small
	}

	store, err := postgres.NewStore(ctx, dsn, dims)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initRedis creates the cache client when an address is configured. The
// retrieval cache degrades to a no-op without it.
func (a *App) initRedis() {
	if a.cfg.Redis.Addr == "" {
		return
	}
	a.rdb = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.closers = append(a.closers, a.rdb.Close)
	slog.Info("redis cache enabled", "addr", a.cfg.Redis.Addr)
}

// initProviders builds the embeddings provider, the optional auxiliary LLM,
// and the Realtime connect function, each behind its failover wrapper.
func (a *App) initProviders() error {
	if a.embedder == nil {
		key := a.cfg.Embeddings.APIKey
		if key == "" {
			key = a.cfg.Model.APIKey
		}
		p, err := oaembed.New(key, a.cfg.Embeddings.Model)
		if err != nil {
			return fmt.Errorf("create embeddings provider: %w", err)
		}
		a.embedder = resilience.NewEmbeddingsFallback(p, "openai", resilience.FallbackConfig{})
	}

	if a.auxLLM == nil && a.cfg.LLM.Provider != "" {
		var llmOpts []anyllmlib.Option
		if a.cfg.LLM.APIKey != "" {
			llmOpts = append(llmOpts, anyllmlib.WithAPIKey(a.cfg.LLM.APIKey))
		}
		p, err := anyllm.New(a.cfg.LLM.Provider, a.cfg.LLM.Model, llmOpts...)
		if err != nil {
			return fmt.Errorf("create llm provider %q: %w", a.cfg.LLM.Provider, err)
		}
		a.auxLLM = resilience.NewLLMFallback(p, a.cfg.LLM.Provider, resilience.FallbackConfig{})
		slog.Info("auxiliary llm enabled", "provider", a.cfg.LLM.Provider, "model", a.cfg.LLM.Model)
	}

	if a.connect == nil {
		clientOpts := []realtime.Option{}
		if a.cfg.Model.Model != "" {
			clientOpts = append(clientOpts, realtime.WithModel(a.cfg.Model.Model))
		}
		if a.cfg.Model.BaseURL != "" {
			clientOpts = append(clientOpts, realtime.WithBaseURL(a.cfg.Model.BaseURL))
		}
		if d := a.cfg.Model.ToolTimeout(); d > 0 {
			clientOpts = append(clientOpts, realtime.WithToolTimeout(d))
		}
		a.connect = bridge.Connector(realtime.NewClient(a.cfg.Model.APIKey, clientOpts...))
	}
	return nil
}

// initRetrieval assembles the knowledge-base search pipeline.
func (a *App) initRetrieval() error {
	opts := []retrieval.Option{
		retrieval.WithMetrics(a.metrics),
	}
	if a.rdb != nil {
		opts = append(opts, retrieval.WithCache(retrieval.NewCache(a.rdb)))
	}
	if a.auxLLM != nil {
		opts = append(opts, retrieval.WithRewriter(a.auxLLM))
	}
	if a.cfg.Retrieval.TopK > 0 {
		opts = append(opts, retrieval.WithConfig(retrieval.Config{TopK: a.cfg.Retrieval.TopK}))
	}

	p, err := retrieval.New(a.store, a.embedder, opts...)
	if err != nil {
		return err
	}
	a.pipeline = p
	return nil
}

// initEscalation creates the hand-off coordinator from config thresholds.
func (a *App) initEscalation() {
	opts := []escalation.Option{
		escalation.WithConfig(escalation.Config{
			SentimentThreshold:  a.cfg.Escalation.SentimentThreshold,
			ComplexityThreshold: a.cfg.Escalation.ComplexityThreshold,
			Keywords:            a.cfg.Escalation.Keywords,
		}),
	}
	if a.auxLLM != nil {
		opts = append(opts, escalation.WithLLM(a.auxLLM))
	}
	a.escalator = escalation.NewCoordinator(a.store, a.conv, a.machine, opts...)
}

// initTools registers the built-in tool set and any configured MCP servers.
func (a *App) initTools(ctx context.Context) error {
	a.dispatcher = tools.NewDispatcher()

	deps := tools.BuiltinDeps{
		Customers: backoffice.NewDirectory(),
		Scheduler: backoffice.NewScheduler(),
		Escalator: a.escalator,
		Knowledge: a.pipeline,
		Orders:    backoffice.NewOrders(),
		Tickets:   backoffice.NewTickets(),
		Hours:     backoffice.NewHours(),
	}
	if err := a.dispatcher.RegisterAll(tools.Builtin(deps)); err != nil {
		return fmt.Errorf("register built-in tools: %w", err)
	}

	if len(a.cfg.MCP.Servers) > 0 {
		a.mcpHost = tools.NewMCPHost()
		a.closers = append(a.closers, a.mcpHost.Close)

		for _, srv := range a.cfg.MCP.Servers {
			err := a.mcpHost.RegisterServer(ctx, a.dispatcher, tools.MCPServerConfig{
				Name:      srv.Name,
				Transport: tools.MCPTransport(srv.Transport),
				Command:   srv.Command,
				URL:       srv.URL,
				Env:       srv.Env,
			})
			if err != nil {
				return fmt.Errorf("register mcp server %q: %w", srv.Name, err)
			}
			slog.Info("registered MCP server", "name", srv.Name, "transport", srv.Transport)
		}
	}

	slog.Info("tool registry ready", "tools", a.dispatcher.Names())
	return nil
}

// initCallManager builds the per-business persona source and the live-call
// registry.
func (a *App) initCallManager() error {
	a.profiles = newProfileSource(a.cfg)

	m, err := callmgr.New(callmgr.Config{
		Store:              a.store,
		Machine:            a.machine,
		Conv:               a.conv,
		Connect:            a.connect,
		Profiles:           a.profiles,
		Dispatcher:         a.dispatcher,
		Checker:            a.escalator,
		Metrics:            a.metrics,
		TranscriptionModel: a.cfg.Model.TranscriptionModel,
	})
	if err != nil {
		return err
	}
	a.manager = m
	return nil
}

// initHTTP assembles the server mux: carrier webhooks, the media-stream
// WebSocket endpoint, health probes, and Prometheus metrics.
func (a *App) initHTTP() {
	webhooks := telephony.NewWebhooks(a.store, a.machine, a.cfg.Telephony.StreamURL, a.cfg.Telephony.Greeting)
	streams := telephony.NewHandler(a.manager)

	checkers := []health.Checker{
		{Name: "postgres", Check: a.store.Ping},
	}
	if a.rdb != nil {
		rdb := a.rdb
		checkers = append(checkers, health.Checker{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /voice", webhooks.HandleVoice)
	mux.HandleFunc("POST /status", webhooks.HandleStatus)
	mux.Handle("/media", streams)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(checkers...).Register(mux)

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	a.srv = &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler returns the root HTTP handler. Exposed for tests.
func (a *App) Handler() http.Handler { return a.srv.Handler }

// Manager returns the live-call registry.
func (a *App) Manager() *callmgr.Manager { return a.manager }

// ApplyConfig applies a hot-reloaded config. Only persona changes take
// effect; everything else requires a restart. Live calls keep the persona
// they were opened with.
func (a *App) ApplyConfig(newCfg *config.Config) {
	d := config.Diff(a.cfg, newCfg)
	if d.BusinessesChanged {
		a.profiles.reload(newCfg)
		for _, bd := range d.BusinessChanges {
			slog.Info("business persona updated",
				"business_id", bd.ID, "added", bd.Added, "removed", bd.Removed)
		}
	}
	a.cfg = newCfg
}

// Run serves HTTP until ctx is cancelled, then drains the listener. Active
// media streams are torn down by Shutdown, not here.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			slog.Info("listening", "addr", a.srv.Addr, "tls", true)
			err = a.srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("listening", "addr", a.srv.Addr)
			err = a.srv.ListenAndServe()
		}
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(drainCtx); err != nil {
			slog.Warn("http drain error", "error", err)
		}
		return ctx.Err()
	})

	return g.Wait()
}

// Shutdown stops live call bridges and tears down subsystems in order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "active_calls", a.manager.ActiveCalls(), "closers", len(a.closers))

		a.manager.Shutdown(ctx)

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// profileSource resolves business personas from config and supports
// hot-reload swaps. Safe for concurrent use.
type profileSource struct {
	mu sync.RWMutex
	sp callmgr.StaticProfiles
}

var _ callmgr.ProfileSource = (*profileSource)(nil)

func newProfileSource(cfg *config.Config) *profileSource {
	p := &profileSource{}
	p.reload(cfg)
	return p
}

// ProfileFor implements [callmgr.ProfileSource].
func (p *profileSource) ProfileFor(businessID string) callmgr.Profile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sp.ProfileFor(businessID)
}

func (p *profileSource) reload(cfg *config.Config) {
	sp := callmgr.StaticProfiles{
		Default: callmgr.Profile{
			Instructions: defaultInstructions,
			Greeting:     cfg.Telephony.Greeting,
		},
		Overrides: make(map[string]callmgr.Profile, len(cfg.Businesses)),
	}
	for _, b := range cfg.Businesses {
		prof := callmgr.Profile{
			Instructions: b.Instructions,
			Voice:        b.Voice,
			Temperature:  b.Temperature,
			Greeting:     b.Greeting,
		}
		if prof.Instructions == "" {
			prof.Instructions = defaultInstructions
		}
		if prof.Greeting == "" {
			prof.Greeting = cfg.Telephony.Greeting
		}
		sp.Overrides[b.ID] = prof
	}

	p.mu.Lock()
	p.sp = sp
	p.mu.Unlock()
}
