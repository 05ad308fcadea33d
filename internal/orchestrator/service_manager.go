package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ServiceFunc runs until ctx is cancelled or it fails
type ServiceFunc func(ctx context.Context) error

type service struct {
	name string
	run  ServiceFunc
}

// ServiceManager runs a set of long-lived services and stops all of them
// when one fails or the context is cancelled
type ServiceManager struct {
	services []service
}

// NewServiceManager creates an empty service manager
func NewServiceManager() *ServiceManager {
	return &ServiceManager{}
}

// Add registers a named service
func (sm *ServiceManager) Add(name string, run ServiceFunc) {
	sm.services = append(sm.services, service{name: name, run: run})
}

// Run starts every service and blocks until they have all returned. The
// first error cancels the others and is returned.
func (sm *ServiceManager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, svc := range sm.services {
		g.Go(func() error {
			log.Info().Str("service", svc.name).Msg("Starting service")
			err := svc.run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("service", svc.name).Msg("Service exited with error")
				return fmt.Errorf("%s: %w", svc.name, err)
			}
			log.Info().Str("service", svc.name).Msg("Service stopped")
			return nil
		})
	}
	return g.Wait()
}

// HTTPService serves srv until ctx is cancelled, then shuts it down
// gracefully within shutdownTimeout
func HTTPService(srv *http.Server, shutdownTimeout time.Duration) ServiceFunc {
	return func(ctx context.Context) error {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
		return serve(ctx, srv, ln, shutdownTimeout)
	}
}

func serve(ctx context.Context, srv *http.Server, ln net.Listener, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("Server starting")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Dur("timeout", shutdownTimeout).Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info().Msg("Server exited")
	return nil
}
