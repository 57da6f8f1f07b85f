package supervisor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
)

// New builds the root supervisor with suture events sent to logger.
func New(logger *zap.Logger) *suture.Supervisor {
	return suture.New("abandonment-service", suture.Spec{
		EventHook: func(e suture.Event) {
			logger.Warn("supervisor event", zap.String("event", e.String()), zap.Any("details", e.Map()))
		},
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})
}

type Runner interface {
	Serve(ctx context.Context) error
}

// Service adapts a Runner for supervision. A nil return or one of final
// ends the service for good instead of restarting it.
type Service struct {
	name   string
	runner Runner
	final  []error
}

func NewService(name string, runner Runner, final ...error) *Service {
	return &Service{name: name, runner: runner, final: final}
}

func (s *Service) Serve(ctx context.Context) error {
	err := s.runner.Serve(ctx)
	if err == nil {
		return suture.ErrDoNotRestart
	}
	if ctx.Err() != nil {
		return err
	}
	for _, f := range s.final {
		if errors.Is(err, f) {
			return suture.ErrDoNotRestart
		}
	}
	return err
}

func (s *Service) String() string { return s.name }

type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService runs an HTTP server until ctx is done, then shuts it down.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.shutdownTimeout)
	defer cancel()
	if err := h.server.Shutdown(sctx); err != nil {
		return err
	}
	return ctx.Err()
}

func (h *HTTPService) String() string { return "http-server" }
