package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"roomchat/internal/metrics"
	"roomchat/internal/presence"
	"roomchat/internal/session"
)

// Server ties the HTTP surface to the storage, session and presence layers.
type Server struct {
	logger        *zap.SugaredLogger
	httpServer    *http.Server
	h             handler
	limiter       *rateLimiter
	afterShutdown []func()
}

// NewServer builds the router and returns a Server ready to Start.
func NewServer(logger *zap.SugaredLogger, store Store, sessions *session.Manager, opts ...Option) (*Server, error) {
	srv := &Server{
		logger: logger,
		h: handler{
			logger:   logger,
			store:    store,
			sessions: sessions,
			typing:   presence.New(),
		},
		// credential endpoints only; room password checks are not limited
		limiter: newRateLimiter(rate.Every(time.Second), 5, 2*time.Minute),
	}

	srv.httpServer = &http.Server{
		Addr:    "0.0.0.0:9000",
		Handler: srv.routes(),
	}

	for _, opt := range opts {
		opt.apply(srv)
	}

	return srv, nil
}

func (s *Server) routes() http.Handler {
	h := &s.h

	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return logRequests(next, s.logger.Desugar())
	})
	r.Use(func(next http.Handler) http.Handler {
		return metrics.Middleware(next, routePattern)
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found")
	})

	authed := func(hf http.HandlerFunc) http.Handler {
		return h.requireUser(hf)
	}
	authedJSON := func(hf http.HandlerFunc) http.Handler {
		return h.requireUser(enforcePostJSON(hf))
	}

	r.Handle("/signup/", s.limiter.limit(enforcePostJSON(http.HandlerFunc(h.signup)))).Methods("POST")
	r.Handle("/login/", s.limiter.limit(enforcePostJSON(http.HandlerFunc(h.login)))).Methods("POST")
	r.Handle("/logout/", authed(h.logout)).Methods("POST")

	r.Handle("/", authed(h.roomDirectory)).Methods("GET")
	r.Handle("/rooms/create/", authedJSON(h.createRoom)).Methods("POST")
	r.Handle("/rooms/{id:[0-9]+}/", authed(h.roomView)).Methods("GET", "POST")
	r.Handle("/rooms/{id:[0-9]+}/delete/", authed(h.deleteRoom)).Methods("POST")
	r.Handle("/rooms/{id:[0-9]+}/rename/", authedJSON(h.renameRoom)).Methods("POST")

	r.Handle("/api/rooms/", authed(h.roomDirectory)).Methods("GET")
	r.Handle("/api/rooms/{id:[0-9]+}/state/", authed(h.roomState)).Methods("GET")
	r.Handle("/api/rooms/{id:[0-9]+}/messages/", authed(h.listMessages)).Methods("GET")
	r.Handle("/api/rooms/{id:[0-9]+}/send/", authedJSON(h.sendMessage)).Methods("POST")
	r.Handle("/api/rooms/{id:[0-9]+}/delete/{message_id:[0-9]+}/", authed(h.deleteMessage)).Methods("POST")
	r.Handle("/api/rooms/{id:[0-9]+}/ban/{user_id:[0-9]+}/", authed(h.banUser)).Methods("POST")
	r.Handle("/api/rooms/{id:[0-9]+}/unban/{user_id:[0-9]+}/", authed(h.unbanUser)).Methods("POST")
	r.Handle("/api/rooms/{id:[0-9]+}/mod/{user_id:[0-9]+}/", authed(h.setModerator)).Methods("POST")
	r.Handle("/api/rooms/{id:[0-9]+}/unmod/{user_id:[0-9]+}/", authed(h.unsetModerator)).Methods("POST")
	r.Handle("/api/rooms/{id:[0-9]+}/typing/", authed(h.typingStatus)).Methods("GET", "POST")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}

// routePattern labels metrics by route template rather than concrete path,
// so all rooms share one series.
func routePattern(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return ""
}

// Start calls ListenAndServe on the inner http.Server and implements
// graceful shutdown via a goroutine waiting for SIGINT.
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		s.logger.Info("Shutting down HTTP server")

		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			s.logger.Errorf("srv.Shutdown: %v", err)
		}
		s.logger.Info("HTTP server is stopped")

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	s.limiter.Stop()
	for _, f := range s.afterShutdown {
		f()
	}

	return nil
}
