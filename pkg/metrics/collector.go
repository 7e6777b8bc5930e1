package metrics

import (
	"context"
	"time"

	"github.com/cuemby/warren/pkg/dbstore"
	"github.com/cuemby/warren/pkg/types"
)

// Collector periodically polls dbstore and republishes its state as
// Prometheus gauges, so dashboards reflect reality even between state
// transitions driven by jobs/requests themselves.
type Collector struct {
	store    dbstore.Store
	topology WorkerTopology
	stopCh   chan struct{}
}

// WorkerTopology supplies the enabled/read-only worker set used to
// count "good" replicas; it is implemented by pkg/config.Snapshot.
type WorkerTopology interface {
	Workers() []types.Worker
}

// NewCollector creates a metrics collector bound to store and topology.
func NewCollector(store dbstore.Store, topology WorkerTopology) *Collector {
	return &Collector{
		store:    store,
		topology: topology,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics on a fixed interval, in the
// background, until Stop is called.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the collector. It must be called at most once.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	workers := c.topology.Workers()
	c.collectWorkerMetrics(workers)
	c.collectReplicaMetrics(ctx, workers)
}

func (c *Collector) collectWorkerMetrics(workers []types.Worker) {
	counts := make(map[[2]string]int)
	for _, w := range workers {
		key := [2]string{boolLabel(w.Enabled), boolLabel(w.ReadOnly)}
		counts[key]++
	}
	for key, n := range counts {
		WorkersTotal.WithLabelValues(key[0], key[1]).Set(float64(n))
	}
}

func (c *Collector) collectReplicaMetrics(ctx context.Context, workers []types.Worker) {
	byStatus := make(map[types.ReplicaStatus]int)
	byDatabase := make(map[string]int)
	for _, w := range workers {
		replicas, err := c.store.FindWorkerReplicas(ctx, w.Name, "")
		if err != nil {
			continue
		}
		for _, r := range replicas {
			byStatus[r.Status]++
			if r.IsGood(w.Enabled) {
				byDatabase[r.Database]++
			}
		}
	}
	for status, n := range byStatus {
		ReplicasByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
	for database, n := range byDatabase {
		ReplicasGood.WithLabelValues(database).Set(float64(n))
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
