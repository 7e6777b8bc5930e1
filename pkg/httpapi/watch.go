package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/warren/pkg/types"
	"nhooyr.io/websocket"
)

// handleJobWatch implements GET /replication/jobs/:id/watch (spec
// §13): a long-lived push stream of a Job's state, grounded on the
// teacher's terminal-relay Accept/ctx/Write shape. Job exposes no
// internal change channel (onNotify fires once, at FINISHED), so the
// stream polls at jobWatchPollInterval and always pushes at least one
// frame before returning once the Job reaches FINISHED.
func (s *Server) handleJobWatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	j, ok := s.jobs.get(id)
	if !ok {
		Fail(w, types.NewError("httpapi.job_watch", types.KindConfig, fmt.Errorf("no such job %q", id)))
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", id).Msg("failed to accept job watch websocket")
		return
	}
	closeStatus := websocket.StatusInternalError
	closeReason := "watch ended"
	defer func() { conn.Close(closeStatus, closeReason) }()

	ctx := r.Context()
	ticker := time.NewTicker(jobWatchPollInterval)
	defer ticker.Stop()

	for {
		frame, err := json.Marshal(summarize(j))
		if err != nil {
			closeReason = err.Error()
			return
		}
		if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
			closeReason = "client disconnected"
			return
		}
		if j.State() == types.StateFinished {
			closeStatus = websocket.StatusNormalClosure
			closeReason = "job finished"
			return
		}

		select {
		case <-ctx.Done():
			closeReason = ctx.Err().Error()
			return
		case <-ticker.C:
		}
	}
}
