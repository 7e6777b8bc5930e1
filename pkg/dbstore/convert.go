package dbstore

import (
	"github.com/cuemby/warren/pkg/types"
)

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func toReplicaFiles(files []types.ReplicaFile) []replicaFileJSON {
	out := make([]replicaFileJSON, len(files))
	for i, f := range files {
		out[i] = replicaFileJSON{Name: f.Name, Size: f.Size, MTime: f.MTime, Checksum: f.Checksum}
	}
	return out
}

func fromReplicaFiles(files []replicaFileJSON) []types.ReplicaFile {
	out := make([]types.ReplicaFile, len(files))
	for i, f := range files {
		out[i] = types.ReplicaFile{Name: f.Name, Size: f.Size, MTime: f.MTime, Checksum: f.Checksum}
	}
	return out
}

func toReplicaRow(r types.ReplicaInfo) *replicaRow {
	return &replicaRow{
		Worker:     r.Worker,
		Database:   r.Database,
		Chunk:      r.Chunk,
		Status:     string(r.Status),
		VerifyTime: r.VerifyTime,
		Files:      toReplicaFiles(r.Files),
	}
}

func fromReplicaRow(r *replicaRow) types.ReplicaInfo {
	return types.ReplicaInfo{
		Worker:     r.Worker,
		Database:   r.Database,
		Chunk:      r.Chunk,
		Status:     types.ReplicaStatus(r.Status),
		VerifyTime: r.VerifyTime,
		Files:      fromReplicaFiles(r.Files),
	}
}

func toDialectJSON(d types.CsvDialectInput) dialectJSON {
	return dialectJSON{
		FieldsTerminatedBy: d.FieldsTerminatedBy,
		FieldsEnclosedBy:   d.FieldsEnclosedBy,
		FieldsEscapedBy:    d.FieldsEscapedBy,
		LinesTerminatedBy:  d.LinesTerminatedBy,
	}
}

func fromDialectJSON(d dialectJSON) types.CsvDialectInput {
	return types.CsvDialectInput{
		FieldsTerminatedBy: d.FieldsTerminatedBy,
		FieldsEnclosedBy:   d.FieldsEnclosedBy,
		FieldsEscapedBy:    d.FieldsEscapedBy,
		LinesTerminatedBy:  d.LinesTerminatedBy,
	}
}

func toContributionRow(c types.Contribution) *contributionRow {
	return &contributionRow{
		ID:            c.ID,
		TransactionID: c.TransactionID,
		Worker:        c.Worker,
		Table:         c.Table,
		Chunk:         c.Chunk,
		IsOverlap:     c.IsOverlap,
		URL:           c.URL,
		Dialect:       toDialectJSON(c.Dialect),
		Status:        string(c.Status),
		NumBytes:      c.NumBytes,
		NumRows:       c.NumRows,
		StartMs:       c.StartMs,
		ReadMs:        c.ReadMs,
		LoadMs:        c.LoadMs,
		Warnings:      c.Warnings,
		Retries:       c.Retries,
		LastError:     c.LastError,
	}
}

func fromContributionRow(c *contributionRow) types.Contribution {
	return types.Contribution{
		ID:            c.ID,
		TransactionID: c.TransactionID,
		Worker:        c.Worker,
		Table:         c.Table,
		Chunk:         c.Chunk,
		IsOverlap:     c.IsOverlap,
		URL:           c.URL,
		Dialect:       fromDialectJSON(c.Dialect),
		Status:        types.ContributionStatus(c.Status),
		NumBytes:      c.NumBytes,
		NumRows:       c.NumRows,
		StartMs:       c.StartMs,
		ReadMs:        c.ReadMs,
		LoadMs:        c.LoadMs,
		Warnings:      c.Warnings,
		Retries:       c.Retries,
		LastError:     c.LastError,
	}
}

func toTransactionRow(t types.Transaction) *transactionRow {
	row := &transactionRow{
		ID:        t.ID,
		Database:  t.Database,
		State:     string(t.State),
		BeginTime: t.BeginTime,
		Context:   t.Context,
	}
	if !t.EndTime.IsZero() {
		row.EndTime = &t.EndTime
	}
	return row
}

func fromTransactionRow(t *transactionRow) types.Transaction {
	out := types.Transaction{
		ID:        t.ID,
		Database:  t.Database,
		State:     types.TransactionState(t.State),
		BeginTime: t.BeginTime,
		Context:   t.Context,
	}
	if t.EndTime != nil {
		out.EndTime = *t.EndTime
	}
	return out
}

func toJobRow(j JobState) *jobRow {
	row := &jobRow{
		ID:            j.ID,
		Type:          j.Type,
		ParentID:      strPtr(j.ParentID),
		ControllerID:  j.ControllerID,
		State:         string(j.State),
		ExtendedState: string(j.ExtendedState),
		Priority:      j.Priority,
		Exclusive:     j.Exclusive,
		Preemptive:    j.Preemptive,
		BeginTime:     j.BeginTime,
		HeartbeatTime: j.HeartbeatTime,
	}
	if !j.EndTime.IsZero() {
		row.EndTime = &j.EndTime
	}
	return row
}

func fromJobRow(j *jobRow) JobState {
	out := JobState{
		ID:            j.ID,
		Type:          j.Type,
		ParentID:      strVal(j.ParentID),
		ControllerID:  j.ControllerID,
		State:         types.RequestState(j.State),
		ExtendedState: types.ExtendedState(j.ExtendedState),
		Priority:      j.Priority,
		Exclusive:     j.Exclusive,
		Preemptive:    j.Preemptive,
		BeginTime:     j.BeginTime,
		HeartbeatTime: j.HeartbeatTime,
	}
	if j.EndTime != nil {
		out.EndTime = *j.EndTime
	}
	return out
}

func toRequestRow(r RequestState) *requestRow {
	return &requestRow{
		ID:                      r.ID,
		JobID:                   strPtr(r.JobID),
		Type:                    r.Type,
		Worker:                  r.Worker,
		State:                   string(r.State),
		ExtendedState:           string(r.ExtendedState),
		TargetRequestID:         strPtr(r.TargetRequestID),
		Priority:                r.Priority,
		KeepTracking:            r.KeepTracking,
		AllowDuplicate:          r.AllowDuplicate,
		ServerError:             r.ServerError,
		CreateTimeMs:            r.Performance.CreateTimeMs,
		StartTimeMs:             r.Performance.StartTimeMs,
		FinishTimeMs:            r.Performance.FinishTimeMs,
		ResponseReadTimeMs:      r.Performance.ResponseReadTimeMs,
		ExtendedPersistentState: r.ExtendedPersistentState,
	}
}

func fromRequestRow(r *requestRow) RequestState {
	return RequestState{
		ID:              r.ID,
		JobID:           strVal(r.JobID),
		Type:            r.Type,
		Worker:          r.Worker,
		State:           types.RequestState(r.State),
		ExtendedState:   types.ExtendedState(r.ExtendedState),
		TargetRequestID: strVal(r.TargetRequestID),
		Priority:        r.Priority,
		KeepTracking:    r.KeepTracking,
		AllowDuplicate:  r.AllowDuplicate,
		ServerError:     r.ServerError,
		Performance: types.Performance{
			CreateTimeMs:       r.CreateTimeMs,
			StartTimeMs:        r.StartTimeMs,
			FinishTimeMs:       r.FinishTimeMs,
			ResponseReadTimeMs: r.ResponseReadTimeMs,
		},
		ExtendedPersistentState: r.ExtendedPersistentState,
	}
}
