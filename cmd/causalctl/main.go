// Command causalctl is a terminal-facing subcommand CLI over the causal
// memory kernel, grounded on the teacher's cmd/embedctl flag-based style
// (flag.String/flag.Bool switches, log.Fatalf on hard errors). Unlike
// embedctl's raw HTTP call to an external endpoint, causalctl wires the
// kernel's own packages directly, so it runs against whatever store backend
// config.Load() resolves (memory or postgres) without a daemon running.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/entrolution/causalmem/internal/causal/clustermgr"
	"github.com/entrolution/causalmem/internal/causal/decay"
	"github.com/entrolution/causalmem/internal/causal/hdbscan"
	"github.com/entrolution/causalmem/internal/causal/prune"
	"github.com/entrolution/causalmem/internal/causal/retrieval"
	"github.com/entrolution/causalmem/internal/causal/types"
	"github.com/entrolution/causalmem/internal/causal/vectorindex"
	"github.com/entrolution/causalmem/internal/config"
	"github.com/entrolution/causalmem/internal/embedding"
	"github.com/entrolution/causalmem/internal/persistence/databases"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		log.Fatal("usage: causalctl <recall|predict|cluster|prune> [flags]")
	}
	sub := os.Args[1]
	args := os.Args[2:]

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	mgr, err := databases.NewManager(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("init stores: %v", err)
	}
	defer mgr.Close()

	vectors := vectorindex.New(mgr.Vectors)
	if err := vectors.Load(ctx); err != nil {
		log.Fatalf("load vector index: %v", err)
	}

	switch sub {
	case "recall":
		runRecall(ctx, args, cfg, mgr, vectors, types.DirectionBackward)
	case "predict":
		runRecall(ctx, args, cfg, mgr, vectors, types.DirectionForward)
	case "cluster":
		runCluster(ctx, args, cfg, mgr, vectors)
	case "prune":
		runPrune(ctx, args, cfg, mgr, vectors)
	default:
		log.Fatalf("unknown subcommand %q; want recall, predict, cluster or prune", sub)
	}
}

func runRecall(ctx context.Context, args []string, cfg config.Config, mgr databases.Manager, vectors *vectorindex.Index, direction types.Direction) {
	fs := flag.NewFlagSet(string(direction), flag.ExitOnError)
	query := fs.String("query", "", "query text to recall against")
	session := fs.String("session", "", "current session id, for the recency boost")
	budget := fs.Int("budget", cfg.Retrieval.DefaultTokenBudget, "token budget for the assembled result")
	seeds := fs.Int("seeds", 10, "number of vector-search seeds")
	_ = fs.Parse(args)

	if *query == "" {
		log.Fatal("recall/predict requires -query")
	}

	decayCfg := decayConfig(cfg, direction)
	embedder := embedding.New(cfg.Embedding)
	assembler := retrieval.New(embedder, vectors, mgr.Edges, mgr.Chunks)

	refClock, err := mgr.Clocks.GetReferenceClock(ctx, "default")
	if err != nil {
		log.Printf("warning: failed to load reference clock, using empty: %v", err)
	}

	res := assembler.Recall(ctx, retrieval.Options{
		Query:              *query,
		Direction:          direction,
		CurrentSessionID:   *session,
		TokenBudget:        *budget,
		SeedCount:          *seeds,
		Decay:              decayCfg,
		RefClock:           refClock,
		MaxGraphDepth:      cfg.Retrieval.MaxGraphDepth,
		MinTraversalWeight: cfg.Retrieval.MinTraversalWeight,
		MaxChainLength:     cfg.Retrieval.MaxChainLength,
		MinChainEdgeWeight: cfg.Retrieval.MinTraversalWeight,
	})
	if res.Degraded {
		fmt.Fprintln(os.Stderr, "warning: result is degraded")
	}
	fmt.Println(res.Text)
}

func runCluster(ctx context.Context, args []string, cfg config.Config, mgr databases.Manager, vectors *vectorindex.Index) {
	fs := flag.NewFlagSet("cluster", flag.ExitOnError)
	minSize := fs.Int("min-cluster-size", cfg.HDBSCAN.MinClusterSize, "HDBSCAN minimum cluster size")
	minSamples := fs.Int("min-samples", cfg.HDBSCAN.MinSamples, "HDBSCAN minimum samples")
	leaf := fs.Bool("leaf", false, "use leaf cluster selection instead of excess-of-mass")
	_ = fs.Parse(args)

	selection := clustermgrSelection(*leaf)
	mgrClusters := clustermgr.New(mgr.Clusters, vectors, noopLogger())
	n, err := mgrClusters.Recluster(ctx, clustermgr.Config{
		MinClusterSize:                *minSize,
		MinSamples:                    *minSamples,
		Selection:                     selection,
		LabelCarryoverJaccard:         cfg.HDBSCAN.LabelCarryoverJaccard,
		NoiseReassignAngularThreshold: cfg.HDBSCAN.NoiseReassignAngularThreshold,
	})
	if err != nil {
		log.Fatalf("recluster: %v", err)
	}
	fmt.Printf("reclustered: %d clusters created\n", n)
}

func runPrune(ctx context.Context, args []string, cfg config.Config, mgr databases.Manager, vectors *vectorindex.Index) {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	full := fs.Bool("full", false, "run a full synchronous prune sweep instead of a lazy flush")
	_ = fs.Parse(args)

	decayFor := func(d types.Direction) decay.Config { return decayConfig(cfg, d) }
	refClock := func(ctx context.Context) types.VectorClock {
		clock, err := mgr.Clocks.GetReferenceClock(ctx, "default")
		if err != nil {
			return types.VectorClock{}
		}
		return clock
	}
	pruner := prune.New(mgr.Edges, vectors, mgr.Chunks, mgr.Clusters,
		time.Duration(cfg.Prune.DebounceSeconds)*time.Second, decayFor, refClock, noopLogger())

	if !*full {
		if err := pruner.Flush(ctx); err != nil {
			log.Fatalf("flush: %v", err)
		}
		fmt.Println("lazy flush complete")
		return
	}

	status := pruner.RunFullPrune(ctx, cfg.Prune.VectorTTLDays)
	for status.State == "running" {
		time.Sleep(200 * time.Millisecond)
		status = pruner.Status()
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(status)
}

func decayConfig(cfg config.Config, direction types.Direction) decay.Config {
	c := cfg.Backward
	if direction == types.DirectionForward {
		c = cfg.Forward
	}
	rate := 0.0
	if c.DieAtHops > 0 {
		rate = 1.0 / float64(c.DieAtHops)
	}
	return decay.Config{
		Kernel:    decay.Kernel(c.Kernel),
		Rate:      rate,
		Hold:      c.HoldHops,
		MinWeight: c.MinWeight,
	}
}

func clustermgrSelection(leaf bool) hdbscan.SelectionMethod {
	if leaf {
		return hdbscan.SelectionLeaf
	}
	return hdbscan.SelectionEOM
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}
