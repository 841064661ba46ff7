// Package prune implements the maintenance layer described by spec
// component N: a debounced "lazy" flush of edges suspected of having decayed
// below the floor, plus a separate idempotent full-prune state machine.
// Grounded on the teacher's single-flight/debounced background-flush shape
// in internal/sefii/engine.go's retry helper and internal/mcpclient/pool.go's
// background maintenance loop.
package prune

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/entrolution/causalmem/internal/causal/causalerr"
	"github.com/entrolution/causalmem/internal/causal/decay"
	"github.com/entrolution/causalmem/internal/causal/types"
	"github.com/entrolution/causalmem/internal/causal/vclock"
	"github.com/entrolution/causalmem/internal/causal/vectorindex"
	"github.com/entrolution/causalmem/internal/persistence/databases"
	"github.com/rs/zerolog"
)

// flushBatchSize is how many suspect edges Flush recomputes between
// cancellation checks; one Flush still drains the whole pending set.
const flushBatchSize = 100

// Pruner holds the debounced pending-edge set and the full-prune state
// machine for one process. One Pruner serves the whole process; it is not
// per-request.
type Pruner struct {
	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	debounce time.Duration

	edges    databases.EdgeStore
	vectors  *vectorindex.Index
	chunks   databases.ChunkStore
	clusters databases.ClusterStore
	decayFor func(types.Direction) decay.Config
	refClock func(ctx context.Context) types.VectorClock

	log zerolog.Logger

	full sync.Mutex
	fullStatus *FullPruneStatus
}

// New constructs a Pruner. decayFor resolves the right decay config per
// edge direction; refClock resolves the reference clock an edge's stamped
// clock is measured against (the caller typically supplies the project's
// current reference clock).
func New(edges databases.EdgeStore, vectors *vectorindex.Index, chunks databases.ChunkStore, clusters databases.ClusterStore, debounce time.Duration, decayFor func(types.Direction) decay.Config, refClock func(ctx context.Context) types.VectorClock, log zerolog.Logger) *Pruner {
	return &Pruner{
		pending:  make(map[string]struct{}),
		debounce: debounce,
		edges:    edges,
		vectors:  vectors,
		chunks:   chunks,
		clusters: clusters,
		decayFor: decayFor,
		refClock: refClock,
		log:      log.With().Str("component", "prune").Logger(),
	}
}

// Suspect enqueues an edge id for the next debounced flush, re-arming the
// single timer. Re-enqueuing an already-pending edge is a no-op, and a
// burst of calls within the debounce window coalesces into one flush.
func (p *Pruner) Suspect(ctx context.Context, edgeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[edgeID] = struct{}{}
	if p.timer != nil {
		p.timer.Reset(p.debounce)
		return
	}
	p.timer = time.AfterFunc(p.debounce, func() {
		p.mu.Lock()
		p.timer = nil
		p.mu.Unlock()
		if err := p.Flush(context.Background()); err != nil {
			p.log.Warn().Err(err).Msg("debounced flush failed")
		}
	})
}

// Flush runs one debounced-flush cycle immediately: drains the pending set
// in batches of up to flushBatchSize, recomputing each edge's current
// decayed-and-boosted weight and deleting it if it has fallen to zero, then
// orphans the vector of any touched chunk left with no remaining edges.
func (p *Pruner) Flush(ctx context.Context) error {
	p.mu.Lock()
	ids := make([]string, 0, len(p.pending))
	for id := range p.pending {
		ids = append(ids, id)
	}
	p.pending = make(map[string]struct{})
	p.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)

	all, err := p.edges.GetAll(ctx)
	if err != nil {
		return causalerr.New(causalerr.KindStorage, "prune.Flush", err)
	}
	byID := make(map[string]types.Edge, len(all))
	for _, e := range all {
		byID[e.ID] = e
	}

	ref := p.refClock(ctx)
	var toCheck []string
	var toDelete []string

	for start := 0; start < len(ids); start += flushBatchSize {
		if err := ctx.Err(); err != nil {
			return causalerr.New(causalerr.KindConcurrency, "prune.Flush", err)
		}
		end := start + flushBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		for _, id := range ids[start:end] {
			e, ok := byID[id]
			if !ok {
				continue
			}
			hops := vclock.HopCount(e.Clock, ref)
			w := decay.EdgeWeight(p.decayFor(e.Direction), e.InitialWeight, hops, e.LinkCount)
			if w <= 0 {
				toDelete = append(toDelete, e.ID)
				toCheck = append(toCheck, e.SourceChunkID, e.TargetChunkID)
			}
		}
	}

	if len(toDelete) > 0 {
		if err := p.edges.BatchDeleteByIDs(ctx, toDelete); err != nil {
			return causalerr.New(causalerr.KindStorage, "prune.Flush", err)
		}
	}

	return p.orphanIfNoEdges(ctx, toCheck)
}

func (p *Pruner) orphanIfNoEdges(ctx context.Context, chunkIDs []string) error {
	seen := make(map[string]struct{}, len(chunkIDs))
	var orphan []string
	for _, id := range chunkIDs {
		if _, done := seen[id]; done {
			continue
		}
		seen[id] = struct{}{}
		outgoing, err := p.edges.GetOutgoing(ctx, id, "")
		if err != nil {
			return causalerr.New(causalerr.KindStorage, "prune.orphanIfNoEdges", err)
		}
		incoming, err := p.edges.GetIncoming(ctx, id, "")
		if err != nil {
			return causalerr.New(causalerr.KindStorage, "prune.orphanIfNoEdges", err)
		}
		if len(outgoing) == 0 && len(incoming) == 0 {
			orphan = append(orphan, id)
		}
	}
	if len(orphan) == 0 {
		return nil
	}
	return p.vectors.MarkOrphaned(ctx, orphan, time.Now())
}

// FullPruneStatus is the read-only progress report for the full-prune task.
type FullPruneStatus struct {
	State     string // idle, running, completed, error
	Scanned   int
	Deleted   int
	StartedAt time.Time
	EndedAt   time.Time
	Error     string
}

// RunFullPrune walks every edge and chunk idempotently, recomputing decayed
// weights and deleting edges at or below zero, then orphaning vectors left
// with no remaining edges and deleting chunks past the vector TTL. It
// rejects a concurrent start by returning the in-flight handle instead of
// starting a second run.
func (p *Pruner) RunFullPrune(ctx context.Context, ttlDays int) *FullPruneStatus {
	p.full.Lock()
	if p.fullStatus != nil && p.fullStatus.State == "running" {
		defer p.full.Unlock()
		return p.fullStatus
	}
	status := &FullPruneStatus{State: "running", StartedAt: time.Now()}
	p.fullStatus = status
	p.full.Unlock()

	go func() {
		scanned, deleted, err := p.fullPruneOnce(ctx, ttlDays)
		p.full.Lock()
		defer p.full.Unlock()
		status.Scanned = scanned
		status.Deleted = deleted
		status.EndedAt = time.Now()
		if err != nil {
			status.State = "error"
			status.Error = err.Error()
			return
		}
		status.State = "completed"
	}()

	return status
}

// Status returns the most recent full-prune status, or nil if one has never
// run.
func (p *Pruner) Status() *FullPruneStatus {
	p.full.Lock()
	defer p.full.Unlock()
	if p.fullStatus == nil {
		return nil
	}
	cp := *p.fullStatus
	return &cp
}

func (p *Pruner) fullPruneOnce(ctx context.Context, ttlDays int) (scanned, deleted int, err error) {
	all, err := p.edges.GetAll(ctx)
	if err != nil {
		return 0, 0, causalerr.New(causalerr.KindStorage, "prune.fullPruneOnce", err)
	}
	ref := p.refClock(ctx)
	var toDelete []string
	var toCheck []string
	for _, e := range all {
		if err := ctx.Err(); err != nil {
			return scanned, deleted, causalerr.New(causalerr.KindConcurrency, "prune.fullPruneOnce", err)
		}
		scanned++
		hops := vclock.HopCount(e.Clock, ref)
		w := decay.EdgeWeight(p.decayFor(e.Direction), e.InitialWeight, hops, e.LinkCount)
		if w <= 0 {
			toDelete = append(toDelete, e.ID)
			toCheck = append(toCheck, e.SourceChunkID, e.TargetChunkID)
		}
	}
	if len(toDelete) > 0 {
		if err := p.edges.BatchDeleteByIDs(ctx, toDelete); err != nil {
			return scanned, deleted, causalerr.New(causalerr.KindStorage, "prune.fullPruneOnce", err)
		}
		deleted = len(toDelete)
	}
	if err := p.orphanIfNoEdges(ctx, toCheck); err != nil {
		return scanned, deleted, err
	}

	expired, err := p.vectors.CleanupExpired(ctx, ttlDays, p.chunks, p.clusters)
	if err != nil {
		return scanned, deleted, err
	}
	deleted += len(expired)
	return scanned, deleted, nil
}
