// Package httpapi is the minimal echo-based transport surface described by
// spec §6's supplemental HTTP exposure: POST /recall, /predict, /cluster and
// /prune. It is not an MCP server (that remains out of scope); it exists so
// the kernel has a transport-level exerciser, grounded on the teacher's
// routes.go/handlers.go echo-based HTTP surface.
package httpapi

import (
	"context"
	"net/http"

	"github.com/entrolution/causalmem/internal/causal/clustermgr"
	"github.com/entrolution/causalmem/internal/causal/decay"
	"github.com/entrolution/causalmem/internal/causal/prune"
	"github.com/entrolution/causalmem/internal/causal/retrieval"
	"github.com/entrolution/causalmem/internal/causal/types"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Deps bundles the components the HTTP surface drives.
type Deps struct {
	Retrieval  *retrieval.Assembler
	ClusterMgr *clustermgr.Manager
	Pruner     *prune.Pruner

	BackwardDecay decay.Config
	ForwardDecay  decay.Config
	ClusterConfig clustermgr.Config
	PruneTTLDays  int

	RefClock func(ctx context.Context) types.VectorClock

	Log zerolog.Logger
}

// Register wires the four routes onto e.
func Register(e *echo.Echo, deps Deps) {
	e.POST("/recall", recallHandler(deps, types.DirectionBackward))
	e.POST("/predict", recallHandler(deps, types.DirectionForward))
	e.POST("/cluster", clusterHandler(deps))
	e.POST("/prune", pruneHandler(deps))
}

type recallRequest struct {
	Query            string   `json:"query"`
	CurrentSessionID string   `json:"current_session_id"`
	ProjectPaths     []string `json:"project_paths"`
	TokenBudget      int      `json:"token_budget"`
	SeedCount        int      `json:"seed_count"`
	DecayRange       string   `json:"decay_range"`
	MaxGraphDepth    int      `json:"max_graph_depth"`
	MinWeight        float64  `json:"min_weight"`
	MaxChainLength   int      `json:"max_chain_length"`
}

type recallResponse struct {
	Text     string   `json:"text"`
	ChunkIDs []string `json:"chunk_ids"`
	Degraded bool     `json:"degraded"`
}

func recallHandler(deps Deps, direction types.Direction) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req recallRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		if req.Query == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "query is required")
		}

		decayCfg := deps.BackwardDecay
		if direction == types.DirectionForward {
			decayCfg = deps.ForwardDecay
		}

		var refClock types.VectorClock
		if deps.RefClock != nil {
			refClock = deps.RefClock(c.Request().Context())
		}

		res := deps.Retrieval.Recall(c.Request().Context(), retrieval.Options{
			Query:              req.Query,
			Direction:          direction,
			CurrentSessionID:   req.CurrentSessionID,
			ProjectPaths:       req.ProjectPaths,
			TokenBudget:        req.TokenBudget,
			SeedCount:          req.SeedCount,
			Decay:              decayCfg,
			RefClock:           refClock,
			MaxGraphDepth:      req.MaxGraphDepth,
			MinTraversalWeight: req.MinWeight,
			MaxChainLength:     req.MaxChainLength,
			MinChainEdgeWeight: req.MinWeight,
		})
		return c.JSON(http.StatusOK, recallResponse{Text: res.Text, ChunkIDs: res.ChunkIDs, Degraded: res.Degraded})
	}
}

type clusterResponse struct {
	ClustersCreated int `json:"clusters_created"`
}

func clusterHandler(deps Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		n, err := deps.ClusterMgr.Recluster(c.Request().Context(), deps.ClusterConfig)
		if err != nil {
			deps.Log.Error().Err(err).Msg("recluster failed")
			return echo.NewHTTPError(http.StatusInternalServerError, "recluster failed")
		}
		return c.JSON(http.StatusOK, clusterResponse{ClustersCreated: n})
	}
}

type pruneRequest struct {
	Full bool `json:"full"`
}

func pruneHandler(deps Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req pruneRequest
		_ = c.Bind(&req)

		if !req.Full {
			if err := deps.Pruner.Flush(c.Request().Context()); err != nil {
				deps.Log.Error().Err(err).Msg("lazy flush failed")
				return echo.NewHTTPError(http.StatusInternalServerError, "flush failed")
			}
			return c.JSON(http.StatusOK, map[string]string{"status": "flushed"})
		}

		status := deps.Pruner.RunFullPrune(c.Request().Context(), deps.PruneTTLDays)
		return c.JSON(http.StatusAccepted, status)
	}
}
