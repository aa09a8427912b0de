package server

import (
	"strconv"
	"time"
)

// EnvConfig defines fields parsed from environment variables.
type EnvConfig struct {
	Host          string        `env:"HOST" envDefault:"0.0.0.0"`
	Port          uint16        `env:"PORT" envDefault:"9000"`
	SessionSecret string        `env:"SESSION_SECRET" envDefault:"dev-secret-change-me"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"168h"`
}

type Option interface {
	apply(*Server)
}

type optionFunc func(s *Server)

func (f optionFunc) apply(s *Server) { f(s) }

// WithEnvConfig applies the listen address from an EnvConfig.
func WithEnvConfig(cfg EnvConfig) Option {
	return optionFunc(func(s *Server) {
		s.httpServer.Addr = cfg.Host + ":" + strconv.FormatUint(uint64(cfg.Port), 10)
	})
}

// ReadTimeout sets the read timeout for the http.Server.
func ReadTimeout(d time.Duration) Option {
	return optionFunc(func(s *Server) {
		s.httpServer.ReadTimeout = d
	})
}

// WriteTimeout sets the write timeout for the http.Server.
func WriteTimeout(d time.Duration) Option {
	return optionFunc(func(s *Server) {
		s.httpServer.WriteTimeout = d
	})
}

// RegisterAfterShutdown registers a function to call after http.Server
// shutdown; functions run in registration order, not in separate goroutines.
func RegisterAfterShutdown(f func()) Option {
	return optionFunc(func(s *Server) {
		s.afterShutdown = append(s.afterShutdown, f)
	})
}
