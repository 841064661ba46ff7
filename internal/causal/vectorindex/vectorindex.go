// Package vectorindex is the lazily-loaded in-memory brute-force similarity
// index over persisted embedding blobs, grounded on the teacher's
// internal/persistence/databases/memory_vector.go cosine-search loop
// (generalized here to angular distance and the spec's richer operation
// set: project-scoped search, orphan/TTL bookkeeping, candidate-restricted
// search for the chain walker and graph traverser).
//
// The index never owns durability: every mutation writes through to the
// backing databases.VectorRowStore, and reads are served entirely from
// memory once Load has run once.
package vectorindex

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/entrolution/causalmem/internal/causal/angular"
	"github.com/entrolution/causalmem/internal/causal/causalerr"
	"github.com/entrolution/causalmem/internal/causal/types"
	"github.com/entrolution/causalmem/internal/persistence/databases"
)

// cleanupDeleteConcurrency bounds how many chunk deletes a full cleanup
// pass issues at once — each is an independent round trip to the chunk
// store's cascade delete, so they parallelize cleanly without ordering
// constraints between them.
const cleanupDeleteConcurrency = 8

// SearchResult is one hit from a similarity search, ascending by distance.
type SearchResult struct {
	ChunkID  string
	Distance float64
}

// Index is the in-memory mirror of the vectors table, guarded by an R/W
// lock: reads (search, get, count) take the read lock, mutations
// (insert/delete/cleanup/load) take the write lock, per spec §5's
// "guarding mutations behind a write lock while reads acquire a read lock".
type Index struct {
	mu     sync.RWMutex
	store  databases.VectorRowStore
	loaded bool

	vectors map[string]types.VectorRecord
	project map[string]string // chunk id -> project path, for search-by-project
}

// New wraps store. The index is not populated until the first Load call
// (or any operation that triggers an implicit load).
func New(store databases.VectorRowStore) *Index {
	return &Index{store: store, vectors: make(map[string]types.VectorRecord), project: make(map[string]string)}
}

// Load populates the index from the backing store. Idempotent: a second
// call is a no-op unless the index was never successfully loaded.
func (idx *Index) Load(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.loadLocked(ctx)
}

func (idx *Index) loadLocked(ctx context.Context) error {
	if idx.loaded {
		return nil
	}
	recs, err := idx.store.GetAll(ctx)
	if err != nil {
		return causalerr.New(causalerr.KindStorage, "vectorindex.Load", err)
	}
	for _, r := range recs {
		idx.vectors[r.ChunkID] = r
	}
	idx.loaded = true
	return nil
}

func (idx *Index) ensureLoaded(ctx context.Context) error {
	idx.mu.RLock()
	loaded := idx.loaded
	idx.mu.RUnlock()
	if loaded {
		return nil
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.loadLocked(ctx)
}

// SetProject records chunkID's project path in the in-memory chunk→project
// index SearchByProject filters against. Callers attach this at ingestion
// time, alongside Insert.
func (idx *Index) SetProject(chunkID, projectPath string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.project[chunkID] = projectPath
}

// Insert writes rec through to the store and into the in-memory index.
func (idx *Index) Insert(ctx context.Context, rec types.VectorRecord) error {
	if err := idx.ensureLoaded(ctx); err != nil {
		return err
	}
	if err := idx.store.Put(ctx, rec); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.vectors[rec.ChunkID] = rec
	return nil
}

// InsertBatch writes recs through to the store as one batch, then applies
// them to the in-memory index only once the batch write succeeds — a
// partial store failure leaves the in-memory index untouched.
func (idx *Index) InsertBatch(ctx context.Context, recs []types.VectorRecord) error {
	if err := idx.ensureLoaded(ctx); err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}
	if err := idx.store.PutBatch(ctx, recs); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, r := range recs {
		idx.vectors[r.ChunkID] = r
	}
	return nil
}

// Get returns the vector record for chunkID, if present.
func (idx *Index) Get(ctx context.Context, chunkID string) (types.VectorRecord, bool, error) {
	if err := idx.ensureLoaded(ctx); err != nil {
		return types.VectorRecord{}, false, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	rec, ok := idx.vectors[chunkID]
	return rec, ok, nil
}

// Has reports whether chunkID has a vector in the index.
func (idx *Index) Has(ctx context.Context, chunkID string) (bool, error) {
	if err := idx.ensureLoaded(ctx); err != nil {
		return false, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.vectors[chunkID]
	return ok, nil
}

// Count returns the number of vectors held by the index.
func (idx *Index) Count(ctx context.Context) (int, error) {
	if err := idx.ensureLoaded(ctx); err != nil {
		return 0, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors), nil
}

// GetAllIDs returns every chunk id held by the index, order unspecified.
func (idx *Index) GetAllIDs(ctx context.Context) ([]string, error) {
	if err := idx.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]string, 0, len(idx.vectors))
	for id := range idx.vectors {
		out = append(out, id)
	}
	return out, nil
}

// GetAllVectors returns every vector record held by the index, for
// clustering (HDBSCAN needs the full embedding set, not just ids).
func (idx *Index) GetAllVectors(ctx context.Context) ([]types.VectorRecord, error) {
	if err := idx.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]types.VectorRecord, 0, len(idx.vectors))
	for _, r := range idx.vectors {
		out = append(out, r)
	}
	return out, nil
}

// Delete removes chunkID's vector from the store and the index.
func (idx *Index) Delete(ctx context.Context, chunkID string) error {
	if err := idx.ensureLoaded(ctx); err != nil {
		return err
	}
	if err := idx.store.Delete(ctx, chunkID); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.vectors, chunkID)
	delete(idx.project, chunkID)
	return nil
}

// DeleteBatch removes chunkIDs from the store and the index.
func (idx *Index) DeleteBatch(ctx context.Context, chunkIDs []string) error {
	if err := idx.ensureLoaded(ctx); err != nil {
		return err
	}
	if len(chunkIDs) == 0 {
		return nil
	}
	if err := idx.store.DeleteBatch(ctx, chunkIDs); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range chunkIDs {
		delete(idx.vectors, id)
		delete(idx.project, id)
	}
	return nil
}

// MarkOrphaned flags chunkIDs as orphaned both in the store and the
// in-memory index, at time at.
func (idx *Index) MarkOrphaned(ctx context.Context, chunkIDs []string, at time.Time) error {
	if err := idx.ensureLoaded(ctx); err != nil {
		return err
	}
	if len(chunkIDs) == 0 {
		return nil
	}
	if err := idx.store.MarkOrphaned(ctx, chunkIDs, at); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range chunkIDs {
		if rec, ok := idx.vectors[id]; ok {
			t := at
			rec.OrphanedAt = &t
			idx.vectors[id] = rec
		}
	}
	return nil
}

// touchAccessed records at as the last-accessed time for ids, both in the
// store and the in-memory index. Search calls this for every returned id.
func (idx *Index) touchAccessed(ctx context.Context, ids []string, at time.Time) {
	if len(ids) == 0 {
		return
	}
	_ = idx.store.TouchAccessed(ctx, ids, at)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range ids {
		if rec, ok := idx.vectors[id]; ok {
			rec.LastAccessed = at
			idx.vectors[id] = rec
		}
	}
}

// Search returns the k nearest neighbours of query by angular distance
// across the whole index, ascending by distance.
func (idx *Index) Search(ctx context.Context, query []float32, k int) ([]SearchResult, error) {
	if err := idx.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	idx.mu.RLock()
	results := make([]SearchResult, 0, len(idx.vectors))
	for id, rec := range idx.vectors {
		results = append(results, SearchResult{ChunkID: id, Distance: angular.Distance(query, rec.Embedding)})
	}
	idx.mu.RUnlock()
	out := topK(results, k)
	idx.touchAccessed(ctx, idsOf(out), time.Now())
	return out, nil
}

// SearchWithinIDs restricts the search to candidateIDs — used by the graph
// traverser and chain walker to re-rank a subset already reached by an
// edge walk.
func (idx *Index) SearchWithinIDs(ctx context.Context, query []float32, candidateIDs []string, k int) ([]SearchResult, error) {
	if err := idx.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	idx.mu.RLock()
	results := make([]SearchResult, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		if rec, ok := idx.vectors[id]; ok {
			results = append(results, SearchResult{ChunkID: id, Distance: angular.Distance(query, rec.Embedding)})
		}
	}
	idx.mu.RUnlock()
	out := topK(results, k)
	idx.touchAccessed(ctx, idsOf(out), time.Now())
	return out, nil
}

// SearchByProject restricts the search to chunks previously attached to one
// of projectPaths via SetProject, using the in-memory chunk→project index
// rather than a round trip to the chunk store.
func (idx *Index) SearchByProject(ctx context.Context, query []float32, projectPaths []string, k int) ([]SearchResult, error) {
	if err := idx.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(projectPaths))
	for _, p := range projectPaths {
		wanted[p] = struct{}{}
	}
	idx.mu.RLock()
	results := make([]SearchResult, 0)
	for id, rec := range idx.vectors {
		if proj, ok := idx.project[id]; ok {
			if _, match := wanted[proj]; match {
				results = append(results, SearchResult{ChunkID: id, Distance: angular.Distance(query, rec.Embedding)})
			}
		}
	}
	idx.mu.RUnlock()
	out := topK(results, k)
	idx.touchAccessed(ctx, idsOf(out), time.Now())
	return out, nil
}

func topK(results []SearchResult, k int) []SearchResult {
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if k > 0 && k < len(results) {
		results = results[:k]
	}
	return results
}

func idsOf(results []SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ChunkID
	}
	return out
}

// ExpiredChunkIDs returns the ids of vectors that are both orphaned and
// untouched for at least ttlDays, as of now — the candidate set a full
// prune's cleanup step deletes.
func (idx *Index) ExpiredChunkIDs(ctx context.Context, ttlDays int, now time.Time) ([]string, error) {
	if err := idx.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	cutoff := now.AddDate(0, 0, -ttlDays)
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []string
	for id, rec := range idx.vectors {
		if rec.OrphanedAt != nil && rec.LastAccessed.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out, nil
}

// CleanupExpired implements the cleanup-expired(ttl_days) operation in
// full: vectors both orphaned and untouched for ≥ ttlDays are removed, the
// chunks they belong to are deleted (cascading to edges and cluster
// memberships via chunks.Delete), and any cluster left with no members is
// removed. Returns the deleted chunk ids.
func (idx *Index) CleanupExpired(ctx context.Context, ttlDays int, chunks databases.ChunkStore, clusters databases.ClusterStore) ([]string, error) {
	expired, err := idx.ExpiredChunkIDs(ctx, ttlDays, time.Now())
	if err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, nil
	}

	affectedClusters := make(map[string]struct{})
	if clusters != nil {
		all, err := clusters.GetAll(ctx)
		if err == nil {
			for _, c := range all {
				ids, err := clusters.GetClusterChunkIDs(ctx, c.ID)
				if err != nil {
					continue
				}
				for _, id := range ids {
					for _, e := range expired {
						if id == e {
							affectedClusters[c.ID] = struct{}{}
						}
					}
				}
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cleanupDeleteConcurrency)
	for _, id := range expired {
		id := id
		g.Go(func() error { return chunks.Delete(gctx, id) })
	}
	if err := g.Wait(); err != nil {
		return nil, causalerr.New(causalerr.KindStorage, "vectorindex.CleanupExpired", err)
	}
	if err := idx.DeleteBatch(ctx, expired); err != nil {
		return nil, err
	}

	if clusters != nil {
		for clusterID := range affectedClusters {
			_, _ = clusters.DeleteIfEmpty(ctx, clusterID)
		}
	}

	return expired, nil
}
