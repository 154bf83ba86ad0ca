package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/basedlsg/Car-Dream/backend"
)

// Compile-time interface check.
var _ backend.Supervisor = (*Supervisor)(nil)

// Supervisor drives the control endpoints the backends expose for
// process-level recovery. It maps service names to base URLs.
type Supervisor struct {
	clients map[string]*Client
	logger  *slog.Logger
}

// SupervisorOption configures the Supervisor.
type SupervisorOption func(*Supervisor)

// WithSupervisorLogger sets a custom logger.
func WithSupervisorLogger(l *slog.Logger) SupervisorOption {
	return func(s *Supervisor) { s.logger = l }
}

// NewSupervisor creates a Supervisor for the given service endpoints,
// e.g. {"simulation": "http://sim:8081", "decision": "http://dec:8082"}.
func NewSupervisor(endpoints map[string]string, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		clients: make(map[string]*Client, len(endpoints)),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	for name, url := range endpoints {
		s.clients[name] = New(url, WithLogger(s.logger))
	}
	return s
}

// Restart implements backend.Supervisor.
func (s *Supervisor) Restart(ctx context.Context, service string) error {
	c, ok := s.clients[service]
	if !ok {
		return fmt.Errorf("httpapi: unknown service %q", service)
	}
	s.logger.Info("restarting backend", slog.String("service", service))
	if err := c.do(ctx, http.MethodPost, "/v1/admin/restart", nil, nil); err != nil {
		return fmt.Errorf("httpapi: restart %s: %w", service, err)
	}
	return nil
}

// ScaleDown implements backend.Supervisor.
func (s *Supervisor) ScaleDown(ctx context.Context, service string) error {
	c, ok := s.clients[service]
	if !ok {
		return fmt.Errorf("httpapi: unknown service %q", service)
	}
	s.logger.Info("scaling down backend", slog.String("service", service))
	if err := c.do(ctx, http.MethodPost, "/v1/admin/scale-down", nil, nil); err != nil {
		return fmt.Errorf("httpapi: scale down %s: %w", service, err)
	}
	return nil
}
