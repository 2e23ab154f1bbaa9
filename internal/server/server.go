package server

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/glasster/glasster/internal/config"
	"github.com/glasster/glasster/internal/core/events/bus"
	"github.com/glasster/glasster/internal/core/observability/log"
	"github.com/glasster/glasster/internal/tryon/asset"
	"github.com/glasster/glasster/internal/tryon/frameloop"
	"github.com/glasster/glasster/internal/tryon/pipeline"
)

// Server hosts try-on sessions over websocket next to the catalogue API and
// the static front-end.
type Server struct {
	catalog *asset.Catalog
	events  bus.EventBus
	assets  fs.FS
	static  fs.FS

	httpServer *http.Server
	listener   net.Listener

	// Session management
	sessions     sync.Map // map[string]*Session
	sessionCount int64    // atomic
	sessionWG    sync.WaitGroup
	admitMu      sync.Mutex  // orders sessionWG.Add against Stop
	draining     atomic.Bool // set by Stop, no new sessions

	// Tracking statistics fed by the event bus
	acquired atomic.Uint64
	lost     atomic.Uint64
	subs     []bus.Subscription

	// Server state
	running int32 // atomic bool
	closed  int32 // atomic bool

	config Config
	logger log.Log

	// Background workers
	workers *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
}

// Config holds server configuration
type Config struct {
	ListenAddr  string
	MaxSessions int

	// Message settings
	MaxMessageSize int64
	MaxUploadSize  int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// Health monitoring
	HealthCheckInterval time.Duration
	SessionIdleTimeout  time.Duration

	// Static files
	StaticMaxAge   time.Duration
	AllowedOrigins []string

	// AssetLoadWorkers bounds concurrent overlay decoding at start.
	AssetLoadWorkers int

	Pipeline pipeline.Config
	Loop     frameloop.Config
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() Config {
	return ConfigFrom(config.Default())
}

// ConfigFrom extracts the server settings from the service configuration.
func ConfigFrom(c config.Config) Config {
	return Config{
		ListenAddr:          c.Server.ListenAddr,
		MaxSessions:         c.Server.MaxSessions,
		MaxMessageSize:      c.Server.MaxMessageSize,
		MaxUploadSize:       c.Server.MaxUploadSize,
		ReadTimeout:         c.Server.ReadTimeout,
		WriteTimeout:        c.Server.WriteTimeout,
		HealthCheckInterval: c.Server.HealthCheckInterval,
		SessionIdleTimeout:  c.Server.SessionIdleTimeout,
		StaticMaxAge:        c.Server.StaticMaxAge,
		AllowedOrigins:      c.Server.AllowedOrigins,
		AssetLoadWorkers:    c.Assets.LoadWorkers,
		Pipeline:            c.Pipeline,
		Loop:                c.Loop,
	}
}

type Option func(*Server)

func WithLogger(l log.Log) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithEventBus(b bus.EventBus) Option {
	return func(s *Server) {
		if b != nil {
			s.events = b
		}
	}
}

// WithAssets sets the file system overlays and thumbnails are served and
// decoded from.
func WithAssets(fsys fs.FS) Option {
	return func(s *Server) { s.assets = fsys }
}

// WithStatic sets the front-end root. Without it only the API and the
// assets are served.
func WithStatic(fsys fs.FS) Option {
	return func(s *Server) { s.static = fsys }
}

// WithStaticDir is WithStatic over a directory; an empty dir is ignored.
func WithStaticDir(dir string) Option {
	return func(s *Server) {
		if dir != "" {
			s.static = os.DirFS(dir)
		}
	}
}

// NewServer creates a new try-on server
func NewServer(config Config, catalog *asset.Catalog, opts ...Option) (*Server, error) {
	if catalog == nil || config.MaxSessions <= 0 || config.HealthCheckInterval <= 0 || config.SessionIdleTimeout <= 0 {
		return nil, ErrInvalidConfig
	}
	if _, err := pipeline.New(config.Pipeline); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	server := &Server{
		catalog: catalog,
		config:  config,
		logger:  log.NewNop(),
	}
	for _, opt := range opts {
		opt(server)
	}
	if server.events == nil {
		server.events = bus.New()
	}
	server.logger = server.logger.With(log.String("component", "server"))

	if err := server.subscribeTracking(); err != nil {
		return nil, err
	}

	server.logger.Info("Server created",
		log.String("listen_addr", config.ListenAddr),
		log.Int("max_sessions", config.MaxSessions),
		log.Int("products", len(catalog.Products())))

	return server, nil
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrServerClosed
	}

	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerAlreadyRunning
	}

	s.admitMu.Lock()
	s.draining.Store(false)
	s.admitMu.Unlock()

	s.logger.Info("Starting server")

	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.config.ListenAddr)
	if err != nil {
		atomic.StoreInt32(&s.running, 0)
		s.logger.Error("Failed to create listener", log.Error(err))
		return errors.Join(ErrListenerFailed, err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadTimeout,
	}

	s.logger.Info("Server listening",
		log.String("addr", listener.Addr().String()))

	s.startWorkers()

	s.logger.Info("Server started successfully")

	return nil
}

// Stop shuts the HTTP server down, closes every session and waits for the
// background workers.
func (s *Server) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return ErrServerNotRunning
	}

	s.logger.Info("Stopping server")

	s.admitMu.Lock()
	s.draining.Store(true)
	s.admitMu.Unlock()

	s.cancel()

	shutdownErr := s.httpServer.Shutdown(ctx)

	// Hijacked websocket connections are not closed by Shutdown
	s.sessions.Range(func(_, value any) bool {
		if session, ok := value.(*Session); ok {
			session.Close()
		}
		return true
	})

	done := make(chan struct{})
	go func() {
		s.sessionWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Sessions still open after shutdown deadline",
			log.Int64("sessions", atomic.LoadInt64(&s.sessionCount)))
	}

	workerErr := s.stopWorkers()

	s.logger.Info("Server stopped")

	return errors.Join(shutdownErr, workerErr)
}

// Close closes the server and releases all resources
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil // Already closed
	}

	s.logger.Info("Closing server")

	if atomic.LoadInt32(&s.running) == 1 {
		_ = s.Stop(context.Background())
	}

	for _, sub := range s.subs {
		_ = s.events.Unsubscribe(sub)
	}
	s.subs = nil

	s.logger.Info("Server closed")

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Catalog() *asset.Catalog {
	return s.catalog
}

func (s *Server) subscribeTracking() error {
	acquired, err := s.events.SubscribeAll(pipeline.EventTrackingAcquired, func(bus.Event) error {
		s.acquired.Add(1)
		return nil
	})
	if err != nil {
		return err
	}
	lost, err := s.events.SubscribeAll(pipeline.EventTrackingLost, func(bus.Event) error {
		s.lost.Add(1)
		return nil
	})
	if err != nil {
		_ = s.events.Unsubscribe(acquired)
		return err
	}
	s.subs = []bus.Subscription{acquired, lost}
	return nil
}

// admitSession reserves a session slot. Every successful call must be
// paired with releaseSession.
func (s *Server) admitSession() error {
	s.admitMu.Lock()
	defer s.admitMu.Unlock()

	if atomic.LoadInt32(&s.closed) == 1 || s.draining.Load() {
		return ErrServerClosed
	}
	if int(atomic.AddInt64(&s.sessionCount, 1)) > s.config.MaxSessions {
		atomic.AddInt64(&s.sessionCount, -1)
		return ErrMaxSessionsReached
	}
	s.sessionWG.Add(1)
	return nil
}

func (s *Server) releaseSession() {
	atomic.AddInt64(&s.sessionCount, -1)
	s.sessionWG.Done()
}

// registerSession makes the session visible to Stop and the health
// monitor. A session registered after Stop began draining is closed and
// false is returned.
func (s *Server) registerSession(session *Session) bool {
	s.sessions.Store(session.ID, session)
	if s.draining.Load() {
		s.sessions.Delete(session.ID)
		session.Close()
		return false
	}
	return true
}

// GetStats returns server statistics
func (s *Server) GetStats() Stats {
	return Stats{
		SessionCount:     atomic.LoadInt64(&s.sessionCount),
		TrackingAcquired: s.acquired.Load(),
		TrackingLost:     s.lost.Load(),
		Running:          atomic.LoadInt32(&s.running) == 1,
	}
}

// Stats contains server statistics
type Stats struct {
	SessionCount     int64  `json:"sessions"`
	TrackingAcquired uint64 `json:"trackingAcquired"`
	TrackingLost     uint64 `json:"trackingLost"`
	Running          bool   `json:"running"`
}

// startWorkers starts the HTTP server, the overlay loader and the health
// monitor.
func (s *Server) startWorkers() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.workers = &errgroup.Group{}

	s.workers.Go(func() error {
		err := s.httpServer.Serve(s.listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		if err != nil {
			s.logger.Error("HTTP server failed", log.Error(err))
		}
		return err
	})

	s.workers.Go(func() error {
		s.loadOverlays(s.ctx)
		return nil
	})

	s.workers.Go(func() error {
		s.healthMonitor(s.ctx)
		return nil
	})
}

// stopWorkers waits for background workers to stop
func (s *Server) stopWorkers() error {
	return s.workers.Wait()
}

// loadOverlays decodes the catalogue overlays. Sessions run meanwhile and
// report no face until their overlay is ready.
func (s *Server) loadOverlays(ctx context.Context) {
	if s.assets == nil {
		s.logger.Warn("No asset root configured, overlays stay unloaded")
		return
	}
	start := time.Now()
	if err := s.catalog.Load(ctx, s.assets, s.config.AssetLoadWorkers); err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("Some overlays failed to load", log.Error(err))
		}
		return
	}
	s.logger.Info("Overlays loaded",
		log.Int("products", len(s.catalog.Products())),
		log.Duration("elapsed", time.Since(start)))
}

// healthMonitor closes idle sessions
func (s *Server) healthMonitor(ctx context.Context) {
	s.logger.Debug("Health monitor started")

	ticker := time.NewTicker(s.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.performHealthChecks(time.Now())
		case <-ctx.Done():
			s.logger.Debug("Health monitor stopped")
			return
		}
	}
}

// performHealthChecks disconnects sessions idle for longer than the
// session idle timeout.
func (s *Server) performHealthChecks(now time.Time) int {
	var idle []*Session

	s.sessions.Range(func(_, value any) bool {
		session := value.(*Session)
		if now.Sub(session.LastSeen()) > s.config.SessionIdleTimeout {
			idle = append(idle, session)
		}
		return true
	})

	for _, session := range idle {
		s.logger.Info("Disconnecting idle session",
			log.String("session_id", session.ID))
		session.Close()
	}

	if len(idle) > 0 {
		s.logger.Info("Health check completed",
			log.Int("disconnected_sessions", len(idle)),
			log.Int64("active_sessions", atomic.LoadInt64(&s.sessionCount)))
	}
	return len(idle)
}
