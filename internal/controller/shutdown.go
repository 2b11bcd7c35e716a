package controller

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// ShutdownTimeout bounds the whole Close sequence.
const ShutdownTimeout = 30 * time.Second

// AddShutdownHook registers a function to be called by Close.
// Hooks are executed in the order they were added.
func (c *Controller) AddShutdownHook(hook ShutdownHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdownHooks = append(c.shutdownHooks, hook)
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func (c *Controller) SignalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case sig := <-sigCh:
			c.logInfo("Received signal %v, initiating graceful shutdown", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// Close disables the loop, waits for the in-flight cycle, runs shutdown
// hooks and closes the sink, notes store, publisher and cloud logger.
// Only the first call does any work.
func (c *Controller) Close(ctx context.Context) {
	c.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, ShutdownTimeout)
		defer cancel()

		c.Disable()
		c.waitCycles(ctx)

		c.mu.Lock()
		hooks := append([]ShutdownHook(nil), c.shutdownHooks...)
		c.mu.Unlock()
		for i, hook := range hooks {
			if err := hook(ctx); err != nil {
				c.logWarning("shutdown hook %d failed: %v", i, err)
			}
		}

		if c.sink != nil {
			if err := c.sink.Close(); err != nil {
				c.logWarning("failed to close event sink: %v", err)
			}
		}
		if c.notes != nil {
			if err := c.notes.Close(); err != nil {
				c.logWarning("failed to close notes store: %v", err)
			}
		}
		if c.publisher != nil {
			if err := c.publisher.Close(); err != nil {
				c.logWarning("failed to close status publisher: %v", err)
			}
		}

		c.logInfo("Graceful shutdown complete")

		if c.cloudLogger != nil {
			if err := c.cloudLogger.Close(); err != nil {
				c.logger.Printf("Warning: failed to close cloud logger: %v", err)
			}
		}
	})
}

// waitCycles waits for in-flight cycles or until ctx is done.
func (c *Controller) waitCycles(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		c.cycles.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.logWarning("in-flight cycle did not finish before shutdown deadline")
	}
}
