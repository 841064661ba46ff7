// Package config loads runtime configuration for the causal memory kernel
// from the process environment (optionally seeded from a .env file),
// grounded on the teacher's env-first Load() pattern in the original
// internal/config/loader.go.
package config

import (
	"strconv"
	"strings"

	"os"

	"github.com/joho/godotenv"
)

// StoreConfig selects and parameterizes the chunk/edge/vector/cluster/clock
// store backend.
type StoreConfig struct {
	// Backend is "memory" or "postgres".
	Backend string
	DSN     string
	// MaxConns bounds the Postgres connection pool (teacher's newPgPool used
	// a fixed MaxConns=8; here it is configurable).
	MaxConns int32
	// Dimensions sizes the Postgres cluster store's centroid vector(N)
	// column; it mirrors EmbeddingConfig.Dimensions since a centroid lives
	// in the same embedding space as the chunks it summarizes.
	Dimensions int
}

// DecayConfig parameterizes one direction's decay kernel.
type DecayConfig struct {
	// Kernel is one of "linear", "exponential", "delayed-linear", "multi-tier".
	Kernel string
	// DieAtHops is the hop count at which linear decay reaches zero.
	DieAtHops int
	// HalfLifeHops is the exponential kernel's half-life, in hops.
	HalfLifeHops float64
	// HoldHops is the number of hops the delayed-linear kernel holds weight
	// at its initial value before decaying.
	HoldHops int
	// MinWeight floors the decayed weight: a weight below it becomes 0, so
	// traversal and pruning drop the edge.
	MinWeight float64
}

// HDBSCANConfig parameterizes re-clustering.
type HDBSCANConfig struct {
	MinClusterSize int
	MinSamples     int
	// LabelCarryoverJaccard is the minimum Jaccard overlap between an old and
	// new cluster's membership for the old cluster's name and description
	// to carry over.
	LabelCarryoverJaccard float64
	// NoiseReassignAngularThreshold bounds how close a noise point's
	// embedding must be to a cluster centroid (angular distance) to be
	// swept into that cluster during noise reassignment.
	NoiseReassignAngularThreshold float64
}

// RetrievalConfig bounds a single recall/predict/chain-walk call.
type RetrievalConfig struct {
	DefaultTokenBudget int
	MaxGraphDepth      int
	MinTraversalWeight float64
	MaxChainLength     int
}

// PruneConfig parameterizes lazy and full pruning.
type PruneConfig struct {
	VectorTTLDays    int
	DebounceSeconds  int
	FullPruneEnabled bool
}

// EmbeddingConfig configures the external embedding HTTP endpoint, grounded
// on the teacher's internal/embedding/client.go EmbeddingConfig shape.
type EmbeddingConfig struct {
	BaseURL        string
	Model          string
	APIKey         string
	APIHeader      string
	Path           string
	TimeoutSeconds int
	Dimensions     int
}

// ObsConfig configures OpenTelemetry export, grounded on the teacher's
// internal/observability/otel.go InitOTel.
type ObsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
}

// Config is the fully resolved runtime configuration for the causal memory
// kernel.
type Config struct {
	LogPath  string
	LogLevel string

	Store      StoreConfig
	Backward   DecayConfig
	Forward    DecayConfig
	HDBSCAN    HDBSCANConfig
	Retrieval  RetrievalConfig
	Prune      PruneConfig
	Embedding  EmbeddingConfig
	Obs        ObsConfig

	HTTPAddr string
}

// Load reads configuration from the environment, applying the defaults
// documented in the specification, and optionally overriding them from a
// .env file in the working directory.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		LogPath:  strings.TrimSpace(os.Getenv("LOG_PATH")),
		LogLevel: firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_LEVEL")), "info"),
		HTTPAddr: firstNonEmpty(strings.TrimSpace(os.Getenv("HTTP_ADDR")), ":8085"),

		Store: StoreConfig{
			Backend:    firstNonEmpty(strings.TrimSpace(os.Getenv("STORE_BACKEND")), "memory"),
			DSN:        firstNonEmpty(strings.TrimSpace(os.Getenv("STORE_DSN")), strings.TrimSpace(os.Getenv("DATABASE_URL"))),
			MaxConns:   int32(intFromEnv("STORE_MAX_CONNS", 8)),
			Dimensions: intFromEnv("EMBED_DIMENSIONS", 1536),
		},

		// Backward defaults to linear decay dying at 10 hops: used for
		// recall/explain, where older causes should fall out of relevance
		// at a predictable, bounded horizon.
		Backward: DecayConfig{
			Kernel:    firstNonEmpty(strings.TrimSpace(os.Getenv("DECAY_BACKWARD_KERNEL")), "linear"),
			DieAtHops: intFromEnv("DECAY_BACKWARD_DIE_AT_HOPS", 10),
			MinWeight: floatFromEnv("DECAY_BACKWARD_MIN_WEIGHT", 0.0),
		},
		// Forward defaults to delayed-linear with a 5-hop hold: a
		// prediction should stay confident for a few hops before fading,
		// since near-term consequences are usually still directly relevant.
		Forward: DecayConfig{
			Kernel:    firstNonEmpty(strings.TrimSpace(os.Getenv("DECAY_FORWARD_KERNEL")), "delayed-linear"),
			DieAtHops: intFromEnv("DECAY_FORWARD_DIE_AT_HOPS", 15),
			HoldHops:  intFromEnv("DECAY_FORWARD_HOLD_HOPS", 5),
			MinWeight: floatFromEnv("DECAY_FORWARD_MIN_WEIGHT", 0.0),
		},

		HDBSCAN: HDBSCANConfig{
			MinClusterSize:        intFromEnv("HDBSCAN_MIN_CLUSTER_SIZE", 5),
			MinSamples:            intFromEnv("HDBSCAN_MIN_SAMPLES", 5),
			LabelCarryoverJaccard: floatFromEnv("HDBSCAN_LABEL_CARRYOVER_JACCARD", 0.5),
			NoiseReassignAngularThreshold: floatFromEnv("HDBSCAN_NOISE_REASSIGN_ANGULAR_THRESHOLD", 0.25),
		},

		Retrieval: RetrievalConfig{
			DefaultTokenBudget: intFromEnv("RETRIEVAL_DEFAULT_TOKEN_BUDGET", 4000),
			MaxGraphDepth:      intFromEnv("RETRIEVAL_MAX_GRAPH_DEPTH", 6),
			MinTraversalWeight: floatFromEnv("RETRIEVAL_MIN_TRAVERSAL_WEIGHT", 0.05),
			MaxChainLength:     intFromEnv("RETRIEVAL_MAX_CHAIN_LENGTH", 25),
		},

		Prune: PruneConfig{
			VectorTTLDays:    intFromEnv("PRUNE_VECTOR_TTL_DAYS", 30),
			DebounceSeconds:  intFromEnv("PRUNE_DEBOUNCE_SECONDS", 30),
			FullPruneEnabled: boolFromEnv("PRUNE_FULL_ENABLED", true),
		},

		Embedding: EmbeddingConfig{
			BaseURL:        strings.TrimSpace(os.Getenv("EMBED_BASE_URL")),
			Model:          strings.TrimSpace(os.Getenv("EMBED_MODEL")),
			APIKey:         strings.TrimSpace(os.Getenv("EMBED_API_KEY")),
			APIHeader:      firstNonEmpty(strings.TrimSpace(os.Getenv("EMBED_API_HEADER")), "Authorization"),
			Path:           firstNonEmpty(strings.TrimSpace(os.Getenv("EMBED_PATH")), "/v1/embeddings"),
			TimeoutSeconds: intFromEnv("EMBED_TIMEOUT_SECONDS", 30),
			Dimensions:     intFromEnv("EMBED_DIMENSIONS", 1536),
		},

		Obs: ObsConfig{
			ServiceName:    firstNonEmpty(strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")), "causalmem"),
			ServiceVersion: strings.TrimSpace(os.Getenv("SERVICE_VERSION")),
			Environment:    firstNonEmpty(strings.TrimSpace(os.Getenv("ENVIRONMENT")), "development"),
			OTLPEndpoint:   strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		},
	}

	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseCommaSeparatedList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func intFromEnv(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := parseInt(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := parseFloat(v); err == nil {
			return f
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
