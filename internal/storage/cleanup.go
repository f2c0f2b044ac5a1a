package storage

import (
	"context"
	"time"

	"github.com/dgellow/handoff/internal/log"
)

// CleanupObserver is told about every successful cleanup pass
type CleanupObserver func(CleanupResult)

// CleanupManager removes expired sessions and callback keys on an interval.
// Expired records are already rejected on read; cleanup only reclaims space.
type CleanupManager struct {
	storage  Storage
	interval time.Duration
	observe  CleanupObserver
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewCleanupManager creates a cleanup manager. observe may be nil.
func NewCleanupManager(storage Storage, interval time.Duration, observe CleanupObserver) *CleanupManager {
	return &CleanupManager{
		storage:  storage,
		interval: interval,
		observe:  observe,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start runs one pass immediately, then one per interval, until Stop or ctx ends
func (cm *CleanupManager) Start(ctx context.Context) {
	log.LogInfoWithFields("cleanup", "Starting cleanup manager", map[string]any{
		"interval": cm.interval.String(),
	})

	go cm.run(ctx)
}

// Stop stops the loop and waits for it to finish. It must be called at most once, after Start.
func (cm *CleanupManager) Stop() {
	close(cm.stopChan)
	<-cm.doneChan
	log.LogInfo("Cleanup manager stopped")
}

func (cm *CleanupManager) run(ctx context.Context) {
	defer close(cm.doneChan)

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs a single cleanup pass
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	result, err := cm.storage.CleanupExpired(ctx)
	if err != nil {
		// Partial counts are still reported
		log.LogErrorWithFields("cleanup", "Failed to cleanup expired records", map[string]any{
			"error":          err.Error(),
			"sessions":       result.Sessions,
			"callbackTokens": result.CallbackTokens,
		})
	} else if result.Total() > 0 {
		log.LogInfoWithFields("cleanup", "Cleaned up expired records", map[string]any{
			"sessions":       result.Sessions,
			"callbackTokens": result.CallbackTokens,
		})
	}

	if cm.observe != nil {
		cm.observe(result)
	}
}
