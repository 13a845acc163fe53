// Package pprof runs the optional debug HTTP server: net/http/pprof under a
// configurable prefix, plus health, Prometheus metrics and queue diagnostics.
//
// Security:
//   - Binding defaults to localhost.
//   - A non-loopback address requires Token or AllowInsecure.
package pprof

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	rtsup "pewsched/internal/runtime/supervisor"
	logx "pewsched/pkg/logx"
)

const defaultAddr = "127.0.0.1:6060"

// Config controls the debug server.
type Config struct {
	Enabled       bool
	Addr          string
	Prefix        string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MutexProfileFraction int
	BlockProfileRate     int
}

type Service struct {
	mu     sync.Mutex
	log    logx.Logger
	cfg    Config
	routes Routes

	ln  net.Listener
	sup *rtsup.Supervisor
}

func New(cfg Config, log logx.Logger, routes Routes) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, routes: routes}
}

// Supervisor returns the server supervisor (nil if not running).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Addr returns the bound address, or "" when not listening.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Reconfigure applies cfg and starts, stops or restarts the server as needed.
// Safe to call during hot-reload.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) error {
	applyRuntimeRates(cfg)

	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			return s.Stop(ctx)
		}
		return nil
	case !running:
		return s.Start(ctx)
	case needsRestart(prev, cfg):
		if err := s.Stop(ctx); err != nil {
			return err
		}
		return s.Start(ctx)
	}
	return nil
}

func needsRestart(a, b Config) bool {
	return a.Addr != b.Addr ||
		normalizePrefix(a.Prefix) != normalizePrefix(b.Prefix) ||
		a.Token != b.Token ||
		a.AllowInsecure != b.AllowInsecure ||
		a.ReadTimeout != b.ReadTimeout ||
		a.WriteTimeout != b.WriteTimeout ||
		a.IdleTimeout != b.IdleTimeout
}

func applyRuntimeRates(cfg Config) {
	if cfg.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
}

// Start binds the listener and serves in the background. It is a no-op when
// disabled or already running. Bind errors are returned synchronously.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return nil
	}
	cfg := s.cfg

	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	if cfg.Token == "" && !isLoopbackAddr(addr) {
		if !cfg.AllowInsecure {
			return errors.Newf("debug server refused to start: %s is not loopback and no token is set", addr)
		}
		s.log.Warn("debug server running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "debug server listen %s", addr)
	}

	prefix := normalizePrefix(cfg.Prefix)
	srv := &http.Server{
		Handler:      s.mux(cfg.Token, prefix),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	s.ln = ln
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "debug"))),
		rtsup.WithCancelOnError(false),
	)
	s.sup.Go("http.serve", func(c context.Context) error {
		go func() {
			<-c.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = srv.Shutdown(sctx)
			cancel()
		}()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	bound := ln.Addr().String()
	s.log.Info("debug server started",
		logx.String("addr", bound),
		logx.String("prefix", prefix),
		logx.Bool("token_set", cfg.Token != ""),
		logx.String("hint", fmt.Sprintf("http://%s%s", bound, prefix)),
	)
	return nil
}

// Stop shuts the server down, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.ln = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	if err := sup.Stop(ctx); err != nil {
		return errors.Wrap(err, "debug server stop")
	}
	s.log.Info("debug server stopped")
	return nil
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// All interfaces.
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
