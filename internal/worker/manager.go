package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WorkerManager owns the lifecycle of the background sweeper
type WorkerManager struct {
	sweeper *Sweeper
	closers []func()
	logger  *zap.Logger

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerManager creates a manager for sweeper. closers run after the workers stop,
// typically closing the gateways the sweeper uses.
func NewWorkerManager(sweeper *Sweeper, logger *zap.Logger, closers ...func()) *WorkerManager {
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerManager{
		sweeper: sweeper,
		closers: closers,
		logger:  logger.Named("worker"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts the sweeper goroutine
func (wm *WorkerManager) Start() {
	wm.logger.Info("Starting worker manager")

	wm.wg.Add(1)
	go func() {
		defer wm.wg.Done()
		wm.sweeper.Run(wm.ctx)
	}()

	wm.logger.Info("Worker manager started")
}

// Shutdown stops the sweeper, waiting at most timeout for the current step to return
func (wm *WorkerManager) Shutdown(timeout time.Duration) error {
	wm.logger.Info("Shutting down worker manager")

	wm.cancel()

	done := make(chan struct{})
	go func() {
		wm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wm.logger.Info("Workers stopped gracefully")
	case <-time.After(timeout):
		wm.logger.Warn("Worker shutdown timed out")
	}

	for _, closeFn := range wm.closers {
		closeFn()
	}

	wm.logger.Info("Worker manager shutdown complete")
	return nil
}
