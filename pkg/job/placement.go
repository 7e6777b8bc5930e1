package job

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/cuemby/warren/pkg/dbstore"
	"github.com/cuemby/warren/pkg/idutil"
	"github.com/cuemby/warren/pkg/qrequest"
	"github.com/cuemby/warren/pkg/types"
)

// loadByWorker approximates each enabled worker's load as its current
// replica count for database. types.Worker carries no disk-space or
// queue-depth telemetry (see DESIGN.md's Open Question decision on
// this), so replica count is the best available proxy for "how full
// is this worker already" without widening that struct this late.
func loadByWorker(ctx context.Context, store dbstore.Store, workers []types.Worker, database string) (map[string]int, error) {
	load := make(map[string]int, len(workers))
	for _, w := range workers {
		if !w.Enabled {
			continue
		}
		replicas, err := store.FindWorkerReplicas(ctx, w.Name, database)
		if err != nil {
			return nil, err
		}
		load[w.Name] = len(replicas)
	}
	return load, nil
}

func enabledSet(workers []types.Worker) map[string]bool {
	m := make(map[string]bool, len(workers))
	for _, w := range workers {
		m[w.Name] = w.Enabled
	}
	return m
}

// placementPlan is one replica movement: a chunk gains a copy on Dest
// pulled from Source (Source is empty for a pure deletion).
type placementPlan struct {
	Chunk  uint32
	Source string
	Dest   string
}

// planReplication computes, for each chunk in chunks, enough
// (source, dest) pairs to bring its good-replica count up to
// minReplicas: sources are existing COMPLETE replicas (least-loaded
// first), destinations are enabled workers with no replica of the
// chunk yet (least-loaded first). A chunk that cannot reach
// minReplicas because of too few sources or destinations is placed as
// far as capacity allows; its remaining shortfall is reported in
// short.
func planReplication(
	ctx context.Context, store dbstore.Store, workers []types.Worker, database string,
	chunks []uint32, minReplicas int,
) (plans []placementPlan, short map[uint32]int, err error) {
	load, err := loadByWorker(ctx, store, workers, database)
	if err != nil {
		return nil, nil, err
	}
	enabled := enabledSet(workers)
	short = make(map[uint32]int)

	for _, chunk := range chunks {
		existing, err := store.FindReplicas(ctx, database, chunk)
		if err != nil {
			return nil, nil, err
		}

		occupied := make(map[string]bool, len(existing))
		var sources []string
		good := 0
		for _, r := range existing {
			occupied[r.Worker] = true
			if r.IsGood(enabled[r.Worker]) {
				good++
				sources = append(sources, r.Worker)
			}
		}
		need := minReplicas - good
		if need <= 0 {
			continue
		}
		sort.Slice(sources, func(i, j int) bool { return load[sources[i]] < load[sources[j]] })

		var dests []string
		for _, w := range workers {
			if w.Enabled && !occupied[w.Name] {
				dests = append(dests, w.Name)
			}
		}
		sort.Slice(dests, func(i, j int) bool { return load[dests[i]] < load[dests[j]] })

		placed := 0
		for placed < need && placed < len(dests) && len(sources) > 0 {
			src := sources[placed%len(sources)]
			dst := dests[placed]
			plans = append(plans, placementPlan{Chunk: chunk, Source: src, Dest: dst})
			load[dst]++
			placed++
		}
		if placed < need {
			short[chunk] = need - placed
		}
	}
	return plans, short, nil
}

// NewReplicateJob brings every chunk in chunks up to minReplicas good
// replicas of database. Chunks planReplication could not fully
// satisfy are still given whatever replicas capacity allowed, and the
// remaining shortfall is recorded via Job.Log under
// "short:<chunk>" for the caller to act on (alert, retry next pass).
func NewReplicateJob(
	ctx context.Context, id string, opts Options, onDone func(*Job),
	store dbstore.Store, sender qrequest.Sender, workers []types.Worker,
	database string, chunks []uint32, minReplicas int,
	expirationSec int,
) (*Job, error) {
	plans, short, err := planReplication(ctx, store, workers, database, chunks, minReplicas)
	if err != nil {
		return nil, err
	}

	targets := make([]ReplicationTarget, 0, len(plans))
	for _, p := range plans {
		targets = append(targets, ReplicationTarget{
			Worker: p.Dest,
			Body:   &qrequest.ReplicateBody{Database: database, Chunk: p.Chunk, SourceWorker: p.Source},
		})
	}

	j, err := fanOutReplicationTargets(id, opts, onDone, sender, targets, qrequest.Options{}, expirationSec)
	if err != nil {
		return nil, err
	}
	for chunk, n := range short {
		j.Log(fmt.Sprintf("short:%d", chunk), strconv.Itoa(n))
	}
	return j, nil
}

// NewPurgeJob deletes excess good replicas of chunks in chunks beyond
// maxReplicas, preferring to delete from the currently most-loaded
// workers first.
func NewPurgeJob(
	ctx context.Context, id string, opts Options, onDone func(*Job),
	store dbstore.Store, sender qrequest.Sender, workers []types.Worker,
	database string, chunks []uint32, maxReplicas int,
	expirationSec int,
) (*Job, error) {
	load, err := loadByWorker(ctx, store, workers, database)
	if err != nil {
		return nil, err
	}
	enabled := enabledSet(workers)

	var targets []ReplicationTarget
	for _, chunk := range chunks {
		existing, err := store.FindReplicas(ctx, database, chunk)
		if err != nil {
			return nil, err
		}
		var good []types.ReplicaInfo
		for _, r := range existing {
			if r.IsGood(enabled[r.Worker]) {
				good = append(good, r)
			}
		}
		if len(good) <= maxReplicas {
			continue
		}
		sort.Slice(good, func(i, j int) bool { return load[good[i].Worker] > load[good[j].Worker] })

		excess := len(good) - maxReplicas
		for i := 0; i < excess; i++ {
			w := good[i].Worker
			targets = append(targets, ReplicationTarget{
				Worker: w,
				Body:   &qrequest.DeleteBody{Database: database, Chunk: chunk},
			})
			load[w]--
		}
	}

	return fanOutReplicationTargets(id, opts, onDone, sender, targets, qrequest.Options{}, expirationSec)
}

// planRebalance proposes up to maxMoves moves, each shifting one good
// replica of a chunk from its most-loaded holder to the least-loaded
// enabled worker that does not already hold a copy. A move is skipped
// if the load difference it would correct is too small to be worth a
// replicate-then-delete round trip.
func planRebalance(
	ctx context.Context, store dbstore.Store, workers []types.Worker, database string,
	chunks []uint32, maxMoves int,
) ([]placementPlan, error) {
	const minLoadGap = 2

	load, err := loadByWorker(ctx, store, workers, database)
	if err != nil {
		return nil, err
	}
	enabled := enabledSet(workers)

	var moves []placementPlan
	for _, chunk := range chunks {
		if len(moves) >= maxMoves {
			break
		}
		existing, err := store.FindReplicas(ctx, database, chunk)
		if err != nil {
			return nil, err
		}

		occupied := make(map[string]bool, len(existing))
		var holders []string
		for _, r := range existing {
			occupied[r.Worker] = true
			if r.IsGood(enabled[r.Worker]) {
				holders = append(holders, r.Worker)
			}
		}
		if len(holders) == 0 {
			continue
		}
		sort.Slice(holders, func(i, j int) bool { return load[holders[i]] > load[holders[j]] })
		src := holders[0]

		var dests []string
		for _, w := range workers {
			if w.Enabled && !occupied[w.Name] {
				dests = append(dests, w.Name)
			}
		}
		if len(dests) == 0 {
			continue
		}
		sort.Slice(dests, func(i, j int) bool { return load[dests[i]] < load[dests[j]] })
		dst := dests[0]

		if load[src]-load[dst] < minLoadGap {
			continue
		}

		moves = append(moves, placementPlan{Chunk: chunk, Source: src, Dest: dst})
		load[src]--
		load[dst]++
	}
	return moves, nil
}

// NewRebalanceJob issues up to maxMoves MoveJobs redistributing chunks
// in chunks away from the most-loaded workers, per planRebalance. It
// finishes immediately SUCCESS if no move is warranted, and otherwise
// SUCCESS iff every move it issued succeeded.
func NewRebalanceJob(
	ctx context.Context, id string, opts Options, onDone func(*Job),
	store dbstore.Store, sender qrequest.Sender, workers []types.Worker,
	database string, chunks []uint32, maxMoves int,
	expirationSec int,
) (*Job, error) {
	moves, err := planRebalance(ctx, store, workers, database, chunks, maxMoves)
	if err != nil {
		return nil, err
	}

	j := New(id, opts, onDone)
	if len(moves) == 0 {
		if err := j.StartChildren(nil); err != nil {
			return nil, err
		}
		return j, nil
	}

	type slot struct {
		id  string
		ref *MoveJob
	}
	slots := make([]*slot, len(moves))
	children := make([]Child, len(moves))
	for i := range moves {
		s := &slot{id: idutil.NewID()}
		slots[i] = s
		children[i] = Child{ID: s.id, Cancel: func() {
			if s.ref != nil {
				s.ref.Cancel()
			}
		}}
	}

	if err := j.StartChildren(children); err != nil {
		return nil, err
	}

	for i, m := range moves {
		s := slots[i]
		mj, err := NewMoveJob(s.id, Options{Priority: opts.Priority, Clock: opts.Clock}, func(done *MoveJob) {
			j.ChildDone(done.ID, done.ExtendedState())
		}, sender, database, m.Chunk, m.Source, m.Dest, expirationSec)
		if err != nil {
			j.ChildDone(s.id, types.ExtendedClientError)
			continue
		}
		s.ref = mj
	}
	return j, nil
}
