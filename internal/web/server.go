package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/asheshgoplani/panewatch/internal/broadcast"
	"github.com/asheshgoplani/panewatch/internal/logging"
	"github.com/asheshgoplani/panewatch/internal/notify"
)

var webLog = logging.ForComponent(logging.CompWeb)

// NotificationService is the pipeline surface the web layer exposes.
// *notify.Service satisfies it.
type NotificationService interface {
	GetState(ctx context.Context, session, pane string) notify.State
	Send(ctx context.Context, session, pane, text string) notify.SendResult
	ClearHistory(session, pane string)
	OnCompletionSignal(ctx context.Context, sig notify.CompletionSignal) notify.EnqueueResult
}

// Config defines runtime options for the web server.
type Config struct {
	ListenAddr          string
	Token               string
	ReadOnly            bool
	DataDir             string
	HooksDir            string
	PushVAPIDPublicKey  string
	PushVAPIDPrivateKey string
	PushVAPIDSubject    string
}

// Server exposes the notification pipeline over HTTP and websocket.
type Server struct {
	cfg        Config
	svc        NotificationService
	hub        *broadcast.Hub
	push       *pushService
	httpServer *http.Server
	watcher    *CompletionWatcher
	baseCtx    context.Context
	cancelBase context.CancelFunc

	wsConnsMu sync.Mutex
	wsConns   map[*wsConn]struct{}
}

// NewServer creates a server with routes and middleware wired.
func NewServer(cfg Config, svc NotificationService, hub *broadcast.Hub) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8620"
	}

	s := &Server{
		cfg:     cfg,
		svc:     svc,
		hub:     hub,
		wsConns: make(map[*wsConn]struct{}),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	if pushSvc, err := newPushService(cfg, hub); err != nil {
		webLog.Warn("push_disabled", slog.String("error", err.Error()))
	} else {
		s.push = pushSvc
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/send", s.handleSend)
	mux.HandleFunc("/api/clear", s.handleClear)
	mux.HandleFunc("/api/completion", s.handleCompletion)
	mux.HandleFunc("/api/push/config", s.handlePushConfig)
	mux.HandleFunc("/api/push/subscribe", s.handlePushSubscribe)
	mux.HandleFunc("/api/push/unsubscribe", s.handlePushUnsubscribe)
	mux.HandleFunc("/api/push/presence", s.handlePushPresence)
	mux.HandleFunc("/ws/notifications", s.handleNotificationsWS)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           withRecover(mux),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the HTTP server and blocks until shutdown or error.
// Returns nil on graceful shutdown.
func (s *Server) Start() error {
	if s.cfg.HooksDir != "" {
		watcher, err := NewCompletionWatcher(s.cfg.HooksDir, s.svc)
		if err != nil {
			webLog.Warn("completion_watcher_disabled", slog.String("error", err.Error()))
		} else {
			s.watcher = watcher
			go watcher.Start(s.baseCtx)
		}
	}
	if s.push != nil {
		s.push.Start(s.baseCtx)
	}

	err := s.httpServer.ListenAndServe()
	if s.watcher != nil {
		s.watcher.Stop()
		s.watcher = nil
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelBase != nil {
		// Signal long-lived websocket handlers to stop promptly.
		s.cancelBase()
	}
	if s.watcher != nil {
		s.watcher.Stop()
		s.watcher = nil
	}
	s.closeWSConns()

	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}

	// Lingering websocket connections may block graceful shutdown. Force
	// close as a fallback so Ctrl+C exits promptly.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr == nil {
			return nil
		} else {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
	}
	return err
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				webLog.Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"readOnly": s.cfg.ReadOnly,
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) String() string {
	return fmt.Sprintf("web-server(addr=%s, readOnly=%t)", s.cfg.ListenAddr, s.cfg.ReadOnly)
}
