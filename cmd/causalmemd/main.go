// Command causalmemd is the causal memory kernel's maintenance daemon: it
// loads configuration, wires the store/vector-index/embedder stack, and
// serves the recall/predict/cluster/prune HTTP surface while running the
// pruner's debounced flush and a periodic full-prune tick in the
// background. Grounded on the teacher's cmd/agentd daemon shape (load env,
// init logger, init otel, build dependencies, serve HTTP until signalled).
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/entrolution/causalmem/internal/causal/clustermgr"
	"github.com/entrolution/causalmem/internal/causal/decay"
	"github.com/entrolution/causalmem/internal/causal/prune"
	"github.com/entrolution/causalmem/internal/causal/retrieval"
	"github.com/entrolution/causalmem/internal/causal/types"
	"github.com/entrolution/causalmem/internal/causal/vectorindex"
	"github.com/entrolution/causalmem/internal/config"
	"github.com/entrolution/causalmem/internal/embedding"
	"github.com/entrolution/causalmem/internal/httpapi"
	"github.com/entrolution/causalmem/internal/observability"
	"github.com/entrolution/causalmem/internal/persistence/databases"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Obs.OTLPEndpoint != "" {
		shutdown, err := observability.InitOTel(ctx, cfg.Obs)
		if err != nil {
			log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	mgr, err := databases.NewManager(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init stores")
	}
	defer mgr.Close()

	vectors := vectorindex.New(mgr.Vectors)
	if err := vectors.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to load vector index")
	}

	embedder := embedding.New(cfg.Embedding)

	refClock := func(ctx context.Context) types.VectorClock {
		clock, err := mgr.Clocks.GetReferenceClock(ctx, "default")
		if err != nil {
			log.Warn().Err(err).Msg("failed to load reference clock, using empty")
			return types.VectorClock{}
		}
		return clock
	}

	decayFor := func(dir types.Direction) decay.Config {
		if dir == types.DirectionForward {
			return buildDecayConfig(cfg.Forward)
		}
		return buildDecayConfig(cfg.Backward)
	}

	assembler := retrieval.New(embedder, vectors, mgr.Edges, mgr.Chunks)
	clusterMgr := clustermgr.New(mgr.Clusters, vectors, log.Logger)
	pruner := prune.New(mgr.Edges, vectors, mgr.Chunks, mgr.Clusters,
		time.Duration(cfg.Prune.DebounceSeconds)*time.Second, decayFor, refClock, log.Logger)

	if cfg.Prune.FullPruneEnabled {
		go runPeriodicFullPrune(ctx, pruner, cfg.Prune.VectorTTLDays)
	}

	e := echo.New()
	e.HideBanner = true
	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	httpapi.Register(e, httpapi.Deps{
		Retrieval:     assembler,
		ClusterMgr:    clusterMgr,
		Pruner:        pruner,
		BackwardDecay: buildDecayConfig(cfg.Backward),
		ForwardDecay:  buildDecayConfig(cfg.Forward),
		ClusterConfig: clustermgr.Config{
			MinClusterSize:                cfg.HDBSCAN.MinClusterSize,
			MinSamples:                    cfg.HDBSCAN.MinSamples,
			LabelCarryoverJaccard:         cfg.HDBSCAN.LabelCarryoverJaccard,
			NoiseReassignAngularThreshold: cfg.HDBSCAN.NoiseReassignAngularThreshold,
		},
		PruneTTLDays: cfg.Prune.VectorTTLDays,
		RefClock:     refClock,
		Log:          log.Logger,
	})

	go func() {
		if err := e.Start(cfg.HTTPAddr); err != nil {
			log.Info().Err(err).Msg("http server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = e.Shutdown(shutdownCtx)
}

func buildDecayConfig(c config.DecayConfig) decay.Config {
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

func runPeriodicFullPrune(ctx context.Context, p *prune.Pruner, ttlDays int) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := p.RunFullPrune(ctx, ttlDays)
			log.Info().Str("state", status.State).Msg("periodic full prune started")
		}
	}
}
