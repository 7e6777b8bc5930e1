package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/warren/pkg/dbstore"
	"github.com/cuemby/warren/pkg/job"
	"github.com/cuemby/warren/pkg/types"
)

// transactionView renders a types.Transaction the same way contribView
// renders a Contribution.
func transactionView(tx types.Transaction) map[string]interface{} {
	return map[string]interface{}{
		"id":         tx.ID,
		"database":   tx.Database,
		"state":      tx.State,
		"begin_time": tx.BeginTime,
		"end_time":   tx.EndTime,
		"context":    tx.Context,
	}
}

type createTransactionRequest struct {
	Database string            `json:"database"`
	Context  map[string]string `json:"context"`
}

// handleIngestTransCreate implements POST /ingest/trans (spec.md §6):
// opens a new bulk-ingest epoch, taking it straight through
// IS_STARTING to STARTED so the transaction id it returns is
// immediately usable by ingest.Manager.admit (spec §4.8), matching the
// two-step create-then-transition idiom dbstore's own tests use.
func (s *Server) handleIngestTransCreate(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Fail(w, types.NewError("httpapi.trans_create", types.KindConfig, err))
		return
	}
	if req.Database == "" {
		Fail(w, types.NewError("httpapi.trans_create", types.KindConfig, fmt.Errorf("database is required")))
		return
	}

	store := s.ctrl.Store()
	tx, err := store.CreateTransaction(r.Context(), types.Transaction{
		Database:  req.Database,
		State:     types.TransactionIsStarting,
		BeginTime: time.Now(),
		Context:   req.Context,
	})
	if err != nil {
		Fail(w, err)
		return
	}

	tx, err = store.UpdateTransactionState(r.Context(), tx.ID, types.TransactionIsStarting, types.TransactionStarted)
	if err != nil {
		Fail(w, err)
		return
	}
	Success(w, map[string]interface{}{"trans": transactionView(tx)})
}

func parseTransactionID(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		Fail(w, types.NewError("httpapi.trans", types.KindConfig, err))
		return 0, false
	}
	return uint32(id), true
}

// handleIngestTransGet implements GET /ingest/trans/{id}.
func (s *Server) handleIngestTransGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTransactionID(w, r)
	if !ok {
		return
	}
	tx, err := s.ctrl.Store().GetTransaction(r.Context(), id)
	if err != nil {
		Fail(w, err)
		return
	}
	Success(w, map[string]interface{}{"trans": transactionView(tx)})
}

// handleIngestTransList implements GET /ingest/trans?database=&state=.
func (s *Server) handleIngestTransList(w http.ResponseWriter, r *http.Request) {
	f := dbstore.TransactionFilter{Database: r.URL.Query().Get("database")}
	if state := r.URL.Query().Get("state"); state != "" {
		f.State = types.TransactionState(state)
	} else {
		f.AnyState = true
	}
	transactions, err := s.ctrl.Store().ListTransactions(r.Context(), f)
	if err != nil {
		Fail(w, err)
		return
	}
	views := make([]map[string]interface{}, 0, len(transactions))
	for _, tx := range transactions {
		views = append(views, transactionView(tx))
	}
	Success(w, map[string]interface{}{"trans": views})
}

type transitionTransactionRequest struct {
	// Action is "finish" (STARTED -> IS_FINISHING -> FINISHED) or
	// "abort" (any non-terminal state -> IS_ABORTING -> ABORTED,
	// cancelling every in-flight/queued contribution of the
	// transaction first).
	Action string `json:"action"`
}

// handleIngestTransUpdate implements PUT /ingest/trans/{id}: the finish
// and abort halves of the transaction state machine that
// handleIngestTransCreate's STARTED leaves open, so a transaction
// opened through the HTTP front-end can also be closed through it.
func (s *Server) handleIngestTransUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTransactionID(w, r)
	if !ok {
		return
	}
	var req transitionTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Fail(w, types.NewError("httpapi.trans_update", types.KindConfig, err))
		return
	}

	store := s.ctrl.Store()
	switch req.Action {
	case "finish":
		tx, err := store.UpdateTransactionState(r.Context(), id, types.TransactionStarted, types.TransactionIsFinishing)
		if err != nil {
			Fail(w, err)
			return
		}
		tx, err = store.UpdateTransactionState(r.Context(), id, types.TransactionIsFinishing, types.TransactionFinished)
		if err != nil {
			Fail(w, err)
			return
		}
		Success(w, map[string]interface{}{"trans": transactionView(tx)})
	case "abort":
		if err := s.ingest.CancelTransaction(r.Context(), id); err != nil {
			Fail(w, err)
			return
		}
		current, err := store.GetTransaction(r.Context(), id)
		if err != nil {
			Fail(w, err)
			return
		}
		if current.State.IsTerminal() {
			Fail(w, types.NewError("httpapi.trans_update", types.KindConfig, fmt.Errorf("transaction %d is already %s", id, current.State)))
			return
		}
		tx, err := store.UpdateTransactionState(r.Context(), id, current.State, types.TransactionIsAborting)
		if err != nil {
			Fail(w, err)
			return
		}
		tx, err = store.UpdateTransactionState(r.Context(), id, types.TransactionIsAborting, types.TransactionAborted)
		if err != nil {
			Fail(w, err)
			return
		}
		Success(w, map[string]interface{}{"trans": transactionView(tx)})
	default:
		Fail(w, types.NewError("httpapi.trans_update", types.KindConfig, fmt.Errorf("unknown action %q", req.Action)))
	}
}

// handleIngestChunks implements GET /ingest/chunks?database=: the
// count of good (COMPLETE) replicas per chunk on the enabled workers,
// as dbstore.Store.CountGoodReplicas computes it.
func (s *Server) handleIngestChunks(w http.ResponseWriter, r *http.Request) {
	database := r.URL.Query().Get("database")
	if database == "" {
		Fail(w, types.NewError("httpapi.ingest_chunks", types.KindConfig, fmt.Errorf("database is required")))
		return
	}
	workers := job.EnabledWorkerNames(s.ctrl.Snapshot().Workers())
	counts, err := s.ctrl.Store().CountGoodReplicas(r.Context(), database, workers)
	if err != nil {
		Fail(w, err)
		return
	}
	Success(w, map[string]interface{}{"chunks": counts})
}
