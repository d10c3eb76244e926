// Package api provides the HTTP server for CoachPipe.
//
// It exposes the chat gateway endpoints (/chat, /latest-chat-msg), the scenario
// intro, trace export, Prometheus metrics and the Twilio WhatsApp webhook.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/CoachPipe/internal/flow"
	"github.com/BTreeMap/CoachPipe/internal/genai"
	"github.com/BTreeMap/CoachPipe/internal/messaging"
	"github.com/BTreeMap/CoachPipe/internal/metrics"
	"github.com/BTreeMap/CoachPipe/internal/scenario"
	"github.com/BTreeMap/CoachPipe/internal/store"
)

// Default configuration constants
const (
	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"
	// DefaultLatestMessageDelay is how long /latest-chat-msg waits before reading
	// history, giving a turn that timed out at the gateway time to finish.
	DefaultLatestMessageDelay = 7 * time.Second
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultReadHeaderTimeout bounds slow clients.
	DefaultReadHeaderTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr               string
	APIKey             string
	LatestMessageDelay time.Duration
	Sender             messaging.Sender
	Validator          *messaging.SignatureValidator
	WebhookURL         string
	WebhookLanguage    string
	Gatherer           prometheus.Gatherer
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAPIKey requires the x-api-key header on gateway routes.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithLatestMessageDelay overrides the /latest-chat-msg wait.
func WithLatestMessageDelay(d time.Duration) Option {
	return func(o *Opts) { o.LatestMessageDelay = d }
}

// WithTwilioWebhook enables POST /webhooks/twilio. Replies go out through sender,
// and requests are authenticated against webhookURL, the public URL Twilio calls.
func WithTwilioWebhook(sender messaging.Sender, validator *messaging.SignatureValidator, webhookURL string) Option {
	return func(o *Opts) {
		o.Sender = sender
		o.Validator = validator
		o.WebhookURL = webhookURL
	}
}

// WithWebhookLanguage selects the scenario language for WhatsApp conversations.
// Empty means the catalog default.
func WithWebhookLanguage(lng string) Option {
	return func(o *Opts) { o.WebhookLanguage = lng }
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(o *Opts) { o.Gatherer = g }
}

// Server serves CoachPipe's HTTP API.
type Server struct {
	catalog       *scenario.Catalog
	orchestrators map[string]*flow.Orchestrator
	opts          Opts
	mux           *http.ServeMux
}

// NewServer creates a server over one orchestrator per catalog language.
func NewServer(catalog *scenario.Catalog, orchestrators map[string]*flow.Orchestrator, opts ...Option) (*Server, error) {
	cfg := Opts{Addr: DefaultAddr, LatestMessageDelay: DefaultLatestMessageDelay}
	for _, opt := range opts {
		opt(&cfg)
	}
	for _, lng := range catalog.Languages() {
		if orchestrators[lng] == nil {
			return nil, fmt.Errorf("no orchestrator for language %q", lng)
		}
	}
	if cfg.Sender != nil && cfg.Validator == nil {
		return nil, errors.New("twilio webhook requires a signature validator")
	}
	if cfg.WebhookLanguage != "" && catalog.Resolve(cfg.WebhookLanguage) != cfg.WebhookLanguage {
		return nil, fmt.Errorf("webhook language %q is not in the scenario catalog", cfg.WebhookLanguage)
	}

	s := &Server{catalog: catalog, orchestrators: orchestrators, opts: cfg, mux: http.NewServeMux()}
	s.routes()
	slog.Debug("NewServer: created", "addr", cfg.Addr, "api_key_set", cfg.APIKey != "", "twilio_webhook", cfg.Sender != nil, "languages", catalog.Languages())
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.rootHandler)
	s.mux.HandleFunc("GET /healthz", s.healthHandler)
	s.mux.HandleFunc("GET /scenario", s.scenarioHandler)
	s.mux.HandleFunc("GET /scenario1", s.scenarioHandler)
	s.mux.HandleFunc("POST /chat", s.requireAPIKey(s.chatHandler))
	s.mux.HandleFunc("GET /latest-chat-msg", s.requireAPIKey(s.latestChatMessageHandler))
	s.mux.HandleFunc("GET /conversations/{id}/trace", s.requireAPIKey(s.traceHandler))
	if s.opts.Gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if s.opts.Sender != nil {
		s.mux.HandleFunc("POST /webhooks/twilio", s.twilioWebhookHandler)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// orchestrator returns the orchestrator for lng, falling back to the default language.
func (s *Server) orchestrator(lng string) *flow.Orchestrator {
	return s.orchestrators[s.catalog.Resolve(lng)]
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("CoachPipe API listening", "addr", s.opts.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		slog.Info("CoachPipe API shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// BuildOrchestrators creates one orchestrator per catalog language, each with
// its own model clients, sharing st, the observer and one lock table so a
// conversation is serialized whichever language or route its turns arrive on.
func BuildOrchestrators(catalog *scenario.Catalog, st store.InteractionStore, provider string, observer flow.TurnObserver, genaiOpts []genai.Option) (map[string]*flow.Orchestrator, error) {
	out := make(map[string]*flow.Orchestrator)
	locks := flow.NewConversationLocks()
	for _, lng := range catalog.Languages() {
		cfg := catalog.Get(lng)
		gen, err := flow.NewModelGenerator(cfg, provider, genaiOpts...)
		if err != nil {
			return nil, fmt.Errorf("language %s: %w", lng, err)
		}
		out[lng] = flow.NewOrchestrator(st, gen, cfg, flow.WithObserver(observer), flow.WithConversationLocks(locks))
	}
	return out, nil
}

// Run wires the store, model clients, metrics and orchestrators, then serves
// until ctx is cancelled.
func Run(ctx context.Context, catalog *scenario.Catalog, provider string, storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	st, err := store.New(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			slog.Error("Run: failed to close store", "error", cerr)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	orchestrators, err := BuildOrchestrators(catalog, st, provider, m, genaiOpts)
	if err != nil {
		return err
	}

	srv, err := NewServer(catalog, orchestrators, append([]Option{WithGatherer(reg)}, apiOpts...)...)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}
