// Package server provides process lifecycle helpers: running HTTP and gRPC
// servers in the background and shutting them down in order.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
)

// ShutdownManager closes registered resources once, in reverse order of
// registration, and waits for the goroutines it started.
type ShutdownManager struct {
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	closers []io.Closer
	once    sync.Once
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewShutdownManager creates a shutdown manager. A non-positive timeout
// defaults to 30 seconds.
func NewShutdownManager(timeout time.Duration, logger *slog.Logger) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// RegisterCloser adds a closer to be called during shutdown.
func (sm *ShutdownManager) RegisterCloser(closer io.Closer) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.closers = append(sm.closers, closer)
}

// Go runs fn in a goroutine that Shutdown waits for.
func (sm *ShutdownManager) Go(fn func()) {
	sm.wg.Add(1)
	go func() {
		defer sm.wg.Done()
		fn()
	}()
}

// ServeHTTP starts srv on its address and registers its graceful shutdown.
func (sm *ShutdownManager) ServeHTTP(name string, srv *http.Server) {
	sm.RegisterCloser(CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
		defer cancel()
		return srv.Shutdown(ctx)
	}))
	sm.Go(func() {
		sm.logger.Info("http server listening", "server", name, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sm.logger.Error("http server failed", "server", name, "error", err)
		}
	})
}

// ServeGRPC starts srv on lis and registers its graceful stop. A stop that
// outlives the shutdown timeout is forced.
func (sm *ShutdownManager) ServeGRPC(name string, srv *grpc.Server, lis net.Listener) {
	sm.RegisterCloser(CloserFunc(func() error {
		stopped := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
			return nil
		case <-time.After(sm.timeout):
			srv.Stop()
			return fmt.Errorf("%s: graceful stop timed out after %s", name, sm.timeout)
		}
	}))
	sm.Go(func() {
		sm.logger.Info("grpc server listening", "server", name, "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			sm.logger.Error("grpc server failed", "server", name, "error", err)
		}
	})
}

// Shutdown closes every registered closer in reverse order and waits for
// the goroutines started with Go. Only the first call does any work; the
// first close error is returned.
func (sm *ShutdownManager) Shutdown(reason string) error {
	var shutdownErr error
	sm.once.Do(func() {
		sm.logger.Info("shutting down", "reason", reason)
		close(sm.done)

		sm.mu.Lock()
		closers := sm.closers
		sm.mu.Unlock()

		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil && shutdownErr == nil {
				shutdownErr = fmt.Errorf("close failed: %w", err)
			}
		}
		sm.wg.Wait()
	})
	return shutdownErr
}

// Done returns a channel that is closed when shutdown begins.
func (sm *ShutdownManager) Done() <-chan struct{} {
	return sm.done
}

// CloserFunc is an adapter to allow ordinary functions to be used as io.Closer.
type CloserFunc func() error

// Close calls the underlying function.
func (f CloserFunc) Close() error {
	return f()
}
