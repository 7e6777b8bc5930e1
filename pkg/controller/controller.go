package controller

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/cuemby/warren/pkg/config"
	"github.com/cuemby/warren/pkg/dbstore"
	"github.com/cuemby/warren/pkg/idutil"
	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/messenger"
	"github.com/cuemby/warren/pkg/metrics"
	"github.com/cuemby/warren/pkg/types"
)

// dialTimeout bounds how long a fresh TCP connection to a worker is
// given to complete before the messenger treats it as a transport
// failure.
const dialTimeout = 10 * time.Second

// Config configures a new Controller. ID is generated if empty;
// Hostname defaults to os.Hostname().
type Config struct {
	ID       string
	Hostname string
	Clock    idutil.Clock

	Store    dbstore.Store
	Snapshot *config.Snapshot
}

// Controller is the process-wide façade: one replication messenger
// pool, one query messenger pool, the durable store, the
// configuration snapshot, this process's identity, and the job
// admission table every Job registers against. Exactly one Controller
// exists per process; every Request and Job is attached to it.
type Controller struct {
	identity types.ControllerIdentity

	store    dbstore.Store
	snapshot *config.Snapshot

	replication *messenger.Messenger
	query       *messenger.Messenger
	metrics     *metrics.Collector

	admission *admissionTable

	clock idutil.Clock
}

// New builds a Controller. It dials no connections and writes nothing
// to the store; call Bootstrap to register this process's identity
// and start background collection.
func New(cfg Config) (*Controller, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("controller: Store is required")
	}
	if cfg.Snapshot == nil {
		return nil, fmt.Errorf("controller: Snapshot is required")
	}

	id := cfg.ID
	if id == "" {
		id = idutil.NewID()
	}
	hostname := cfg.Hostname
	if hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			h = "unknown"
		}
		hostname = h
	}
	clock := cfg.Clock
	if clock == nil {
		clock = idutil.RealClock{}
	}

	c := &Controller{
		identity: types.ControllerIdentity{
			ID:        id,
			Hostname:  hostname,
			StartTime: clock.Now(),
		},
		store:     cfg.Store,
		snapshot:  cfg.Snapshot,
		admission: newAdmissionTable(),
		clock:     clock,
	}
	c.replication = messenger.NewMessenger(c.dialWorker(replicationTransport))
	c.query = messenger.NewMessenger(c.dialWorker(queryTransport))
	c.metrics = metrics.NewCollector(c.store, c.snapshot)
	return c, nil
}

// transport selects which of a worker's two addresses dialWorker
// connects to.
type transport int

const (
	replicationTransport transport = iota
	queryTransport
)

// dialWorker returns a messenger.Dialer that looks worker up in the
// configuration snapshot and opens a TCP connection to its
// replication or query management address.
func (c *Controller) dialWorker(t transport) messenger.Dialer {
	return func(ctx context.Context, worker string) (io.ReadWriteCloser, error) {
		w, ok := c.snapshot.Worker(worker)
		if !ok {
			return nil, types.NewError("controller.dialWorker", types.KindConfig, fmt.Errorf("unknown worker %q", worker))
		}
		host, port := w.SvcHost, w.SvcPort
		if t == queryTransport {
			host, port = w.QservHost, w.QservPort
		}
		d := net.Dialer{Timeout: dialTimeout}
		conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
		if err != nil {
			return nil, types.NewError("controller.dialWorker", types.KindTransport, err)
		}
		return conn, nil
	}
}

// Bootstrap registers this process's identity in the store and starts
// the metrics collector. It must be called exactly once, after the
// configuration snapshot has been populated from its Document (spec
// §4.1's Freeze-after-initial-load ordering).
func (c *Controller) Bootstrap(ctx context.Context) error {
	if err := c.store.SaveControllerState(ctx, c.identity); err != nil {
		return fmt.Errorf("controller: bootstrap: %w", err)
	}
	c.metrics.Start()
	log.WithComponent("controller").Info().
		Str("id", c.identity.ID).
		Str("hostname", c.identity.Hostname).
		Msg("controller bootstrapped")
	return nil
}

// Shutdown stops the metrics collector and every worker channel in
// both messenger pools. Live requests are left to fail on their own
// terms (transport close); callers that need a clean drain should
// cancel outstanding Jobs first.
func (c *Controller) Shutdown() {
	c.metrics.Stop()
	c.replication.Stop()
	c.query.Stop()
}

// Identity returns this process's registered identity.
func (c *Controller) Identity() types.ControllerIdentity { return c.identity }

// Store returns the durable store every Job and Request persists
// state through.
func (c *Controller) Store() dbstore.Store { return c.store }

// Snapshot returns the configuration snapshot.
func (c *Controller) Snapshot() *config.Snapshot { return c.snapshot }

// Replication returns the messenger pool addressing replication
// workers; it satisfies qrequest.Sender.
func (c *Controller) Replication() *messenger.Messenger { return c.replication }

// Query returns the messenger pool addressing query-engine workers;
// it satisfies qservmgt.Sender.
func (c *Controller) Query() *messenger.Messenger { return c.query }
