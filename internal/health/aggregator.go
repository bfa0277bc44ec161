package health

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// Store persists aggregated call counters.
type Store interface {
	UpdateAPIHealthBulk(serviceName string, totalToAdd, successfulToAdd uint64) error
}

// Aggregator holds audio node call stats in memory to reduce database writes.
type Aggregator struct {
	store              Store
	serviceName        string
	totalRequests      atomic.Uint64
	successfulRequests atomic.Uint64
}

func NewAggregator(store Store, serviceName string) *Aggregator {
	return &Aggregator{
		store:       store,
		serviceName: serviceName,
	}
}

// RecordCall increments the in-memory counters for one call. Safe for concurrent use.
func (a *Aggregator) RecordCall(success bool) {
	a.totalRequests.Add(1)
	if success {
		a.successfulRequests.Add(1)
	}
}

// FlushToDB writes the aggregated counts to the store and resets the counters.
// On failure the counts are added back so the next flush retries them.
func (a *Aggregator) FlushToDB() {
	total := a.totalRequests.Swap(0)
	successful := a.successfulRequests.Swap(0)

	if total == 0 {
		return
	}

	if err := a.store.UpdateAPIHealthBulk(a.serviceName, total, successful); err != nil {
		log.Printf("ERROR: Failed to flush API health stats to DB for service %s: %v", a.serviceName, err)
		a.totalRequests.Add(total)
		a.successfulRequests.Add(successful)
	}
}

// Start flushes every interval until ctx is done, then flushes once more.
func (a *Aggregator) Start(ctx context.Context, interval time.Duration) {
	log.Printf("Health Aggregator for '%s' started with a %s flush interval", a.serviceName, interval)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				a.FlushToDB()
				return
			case <-ticker.C:
				a.FlushToDB()
			}
		}
	}()
}
