package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/cuemby/warren/pkg/idutil"
	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/messenger"
	"github.com/cuemby/warren/pkg/qrequest"
	"github.com/cuemby/warren/pkg/qservmgt"
	"github.com/cuemby/warren/pkg/types"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "replctl",
	Short:   "Issue a single Request/QservMgtRequest directly against a worker",
	Long: `replctl dials one worker directly (no controller in the loop) and
issues a single replication or query-management operation, printing
its terminal state. It is a debugging and operations tool, not the
admission-aware path a client should use for cluster-wide work — that
goes through the controller's REST API instead.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"replctl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("worker", "127.0.0.1:25081", "host:port of the worker's management endpoint")
	rootCmd.PersistentFlags().Int("priority", 0, "Request priority (higher runs first)")
	rootCmd.PersistentFlags().Bool("keep-tracking", false, "Arm a tracking timer and poll until FINISHED")
	rootCmd.PersistentFlags().Int("cancel-after", 30, "Expiration, in seconds (0 disables it)")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(replicateCmd, deleteCmd, findCmd, findAllCmd, echoCmd, sqlCmd, indexCmd,
		statusCmd, stopCmd, disposeCmd, serviceCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

// dial opens a raw TCP connection to --worker. replctl talks to
// exactly one address per invocation; it has no configuration
// snapshot to resolve a worker name against.
func dial(addr string) messenger.Dialer {
	return func(ctx context.Context, _ string) (io.ReadWriteCloser, error) {
		d := net.Dialer{Timeout: 10 * time.Second}
		return d.DialContext(ctx, "tcp", addr)
	}
}

// runReplication starts body against the replication-worker transport
// and blocks until the Request finishes or --cancel-after plus five
// seconds elapses (60 seconds when --cancel-after is 0) — a local
// backstop; the Request's own expiration timer is what normally ends it.
func runReplication(cmd *cobra.Command, body qrequest.Body) error {
	addr, _ := cmd.Flags().GetString("worker")
	priority, _ := cmd.Flags().GetInt("priority")
	keepTracking, _ := cmd.Flags().GetBool("keep-tracking")
	expirationSec, _ := cmd.Flags().GetInt("cancel-after")

	sender := messenger.NewMessenger(dial(addr))
	defer sender.Stop()

	done := make(chan *qrequest.Request, 1)
	req := qrequest.New(idutil.NewID(), body, sender, qrequest.Options{
		Worker:       addr,
		Priority:     priority,
		KeepTracking: keepTracking,
	}, func(r *qrequest.Request) { done <- r })

	if err := req.Start(idutil.NewID(), expirationSec); err != nil {
		return err
	}
	return awaitReplication(req, done, expirationSec)
}

func awaitReplication(req *qrequest.Request, done chan *qrequest.Request, expirationSec int) error {
	deadline := time.Duration(expirationSec+5) * time.Second
	if expirationSec <= 0 {
		deadline = 60 * time.Second
	}
	select {
	case <-done:
	case <-time.After(deadline):
		return fmt.Errorf("replctl: request %s did not finish within %s", req.ID, deadline)
	}
	return printResult(map[string]interface{}{
		"id":             req.ID,
		"state":          req.State(),
		"extended_state": req.ExtendedState(),
		"last_error":     req.LastError(),
		"body":           req,
	})
}

func runQservmgt(cmd *cobra.Command, body qservmgt.Body) error {
	addr, _ := cmd.Flags().GetString("worker")
	priority, _ := cmd.Flags().GetInt("priority")
	expirationSec, _ := cmd.Flags().GetInt("cancel-after")

	sender := messenger.NewMessenger(dial(addr))
	defer sender.Stop()

	done := make(chan *qservmgt.Request, 1)
	req := qservmgt.New(idutil.NewID(), body, sender, qservmgt.Options{
		Worker:   addr,
		Priority: priority,
	}, func(r *qservmgt.Request) { done <- r })

	if err := req.Start(expirationSec); err != nil {
		return err
	}
	deadline := time.Duration(expirationSec+5) * time.Second
	if expirationSec <= 0 {
		deadline = 60 * time.Second
	}
	select {
	case <-done:
	case <-time.After(deadline):
		return fmt.Errorf("replctl: request %s did not finish within %s", req.ID, deadline)
	}
	return printResult(map[string]interface{}{
		"id":             req.ID,
		"state":          req.State(),
		"extended_state": req.ExtendedState(),
		"last_error":     req.LastError(),
		"body":           body,
	})
}

func printResult(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var replicateCmd = &cobra.Command{
	Use:   "replicate",
	Short: "REPLICATE: ask the worker to pull a replica of (database, chunk) from --source-worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, _ := cmd.Flags().GetString("database")
		chunk, _ := cmd.Flags().GetUint32("chunk")
		source, _ := cmd.Flags().GetString("source-worker")
		return runReplication(cmd, &qrequest.ReplicateBody{Database: database, Chunk: chunk, SourceWorker: source})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "DELETE: ask the worker to drop its replica of (database, chunk)",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, _ := cmd.Flags().GetString("database")
		chunk, _ := cmd.Flags().GetUint32("chunk")
		return runReplication(cmd, &qrequest.DeleteBody{Database: database, Chunk: chunk})
	},
}

var findAllCmd = &cobra.Command{
	Use:   "findall",
	Short: "FINDALL: list every replica the worker hosts for --database",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, _ := cmd.Flags().GetString("database")
		inUseOnly, _ := cmd.Flags().GetBool("in-use-only")
		return runReplication(cmd, &qrequest.FindAllBody{Database: database, InUseOnly: inUseOnly})
	},
}

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "FIND: report the worker's replica of a single (database, chunk), filtered client-side from FINDALL",
	Long: `The worker protocol only exposes a FINDALL operation; FIND is
implemented here as a FINDALL request filtered to --chunk after the
response comes back, rather than a distinct wire operation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, _ := cmd.Flags().GetString("database")
		chunk, _ := cmd.Flags().GetUint32("chunk")
		addr, _ := cmd.Flags().GetString("worker")
		priority, _ := cmd.Flags().GetInt("priority")
		expirationSec, _ := cmd.Flags().GetInt("cancel-after")

		sender := messenger.NewMessenger(dial(addr))
		defer sender.Stop()

		body := &qrequest.FindAllBody{Database: database}
		done := make(chan *qrequest.Request, 1)
		req := qrequest.New(idutil.NewID(), body, sender, qrequest.Options{Worker: addr, Priority: priority},
			func(r *qrequest.Request) { done <- r })
		if err := req.Start(idutil.NewID(), expirationSec); err != nil {
			return err
		}
		deadline := time.Duration(expirationSec+5) * time.Second
		select {
		case <-done:
		case <-time.After(deadline):
			return fmt.Errorf("replctl: request %s did not finish within %s", req.ID, deadline)
		}
		var match *types.ReplicaInfo
		for i := range body.Replicas {
			if body.Replicas[i].Chunk == chunk {
				match = &body.Replicas[i]
				break
			}
		}
		return printResult(map[string]interface{}{
			"id":             req.ID,
			"state":          req.State(),
			"extended_state": req.ExtendedState(),
			"replica":        match,
		})
	},
}

var echoCmd = &cobra.Command{
	Use:   "echo",
	Short: "ECHO: exercise the replication-worker transport's round trip",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, _ := cmd.Flags().GetString("data")
		return runReplication(cmd, &qrequest.EchoBody{Data: data})
	},
}

var sqlCmd = &cobra.Command{
	Use:   "sql",
	Short: "SQL: run --query against the worker's local replica of --database",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, _ := cmd.Flags().GetString("database")
		query, _ := cmd.Flags().GetString("query")
		maxRows, _ := cmd.Flags().GetUint32("max-rows")
		return runReplication(cmd, &qrequest.SqlBody{Database: database, Query: query, MaxRows: maxRows})
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "INDEX: build or rebuild a secondary index on --table within --database",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, _ := cmd.Flags().GetString("database")
		table, _ := cmd.Flags().GetString("table")
		rebuild, _ := cmd.Flags().GetBool("rebuild")
		return runReplication(cmd, &qrequest.IndexBody{Database: database, Table: table, Rebuild: rebuild})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "STATUS: issue an ECHO with --keep-tracking and print its state every 500ms until FINISHED",
	Long: `There is no standalone "query an existing request" operation in
this protocol; STATUS tracking is instead a property of the Request
that issued the original call (its tracking timer resends
REQUEST_STATUS on its own). This subcommand demonstrates that path by
issuing a fresh ECHO with tracking forced on and printing its state on
an interval until it finishes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("worker")
		priority, _ := cmd.Flags().GetInt("priority")
		expirationSec, _ := cmd.Flags().GetInt("cancel-after")
		data, _ := cmd.Flags().GetString("data")

		sender := messenger.NewMessenger(dial(addr))
		defer sender.Stop()

		done := make(chan struct{})
		body := &qrequest.EchoBody{Data: data, DelayMs: 1500}
		req := qrequest.New(idutil.NewID(), body, sender, qrequest.Options{
			Worker: addr, Priority: priority, KeepTracking: true,
		}, func(r *qrequest.Request) { close(done) })
		if err := req.Start(idutil.NewID(), expirationSec); err != nil {
			return err
		}

		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return printResult(map[string]interface{}{
					"id": req.ID, "state": req.State(), "extended_state": req.ExtendedState(),
				})
			case <-ticker.C:
				fmt.Fprintf(os.Stderr, "state=%s\n", req.State())
			}
		}
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "STOP: issue a slow ECHO, then immediately cancel it (REQUEST_STOP)",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("worker")
		priority, _ := cmd.Flags().GetInt("priority")
		expirationSec, _ := cmd.Flags().GetInt("cancel-after")

		sender := messenger.NewMessenger(dial(addr))
		defer sender.Stop()

		done := make(chan *qrequest.Request, 1)
		body := &qrequest.EchoBody{Data: "stop-me", DelayMs: 5000}
		req := qrequest.New(idutil.NewID(), body, sender, qrequest.Options{Worker: addr, Priority: priority},
			func(r *qrequest.Request) { done <- r })
		if err := req.Start(idutil.NewID(), expirationSec); err != nil {
			return err
		}
		req.Cancel()
		return awaitReplication(req, done, expirationSec)
	},
}

var disposeCmd = &cobra.Command{
	Use:   "dispose",
	Short: "DISPOSE: issue an ECHO, wait for it to finish, and confirm tracking has ended",
	Long: `Request objects are process-local and carry no persistent
tracking-table entry an operator could explicitly evict; once
Request.ExtendedState() is terminal and the process that created it
exits, it is already gone. DISPOSE is implemented as a confirmation
step after FINISHED rather than a distinct wire operation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("worker")
		priority, _ := cmd.Flags().GetInt("priority")
		expirationSec, _ := cmd.Flags().GetInt("cancel-after")

		sender := messenger.NewMessenger(dial(addr))
		defer sender.Stop()

		done := make(chan *qrequest.Request, 1)
		body := &qrequest.EchoBody{Data: "dispose-me"}
		req := qrequest.New(idutil.NewID(), body, sender, qrequest.Options{Worker: addr, Priority: priority},
			func(r *qrequest.Request) { done <- r })
		if err := req.Start(idutil.NewID(), expirationSec); err != nil {
			return err
		}
		if err := awaitReplication(req, done, expirationSec); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "tracking disposed")
		return nil
	},
}

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "SERVICE: poll a query-engine worker's management status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQservmgt(cmd, &qservmgt.GetStatusBody{})
	},
}

func init() {
	for _, c := range []*cobra.Command{replicateCmd, deleteCmd, findCmd, findAllCmd, sqlCmd, indexCmd} {
		c.Flags().String("database", "", "Database name")
	}
	for _, c := range []*cobra.Command{replicateCmd, deleteCmd, findCmd} {
		c.Flags().Uint32("chunk", 0, "Chunk number")
	}
	replicateCmd.Flags().String("source-worker", "", "Worker to pull the replica from")
	findAllCmd.Flags().Bool("in-use-only", false, "Only report replicas currently serving queries")
	echoCmd.Flags().String("data", "ping", "Payload to echo")
	statusCmd.Flags().String("data", "ping", "Payload to echo")
	sqlCmd.Flags().String("query", "", "SQL statement")
	sqlCmd.Flags().Uint32("max-rows", 0, "Cap on returned rows (0 for statements with none)")
	indexCmd.Flags().String("table", "", "Table name")
	indexCmd.Flags().Bool("rebuild", false, "Rebuild an existing index instead of building a new one")
}
