// Package embedding is the HTTP client for the external embedding model,
// grounded on the teacher's internal/embedding/client.go (same
// OpenAI-style /v1/embeddings request shape) and internal/rag/embedder's
// interface-first design: Client implements types.Embedder so the
// retrieval assembler depends on the interface, not this package.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/entrolution/causalmem/internal/causal/causalerr"
	"github.com/entrolution/causalmem/internal/config"
)

// Client calls a configured OpenAI-compatible embeddings endpoint.
type Client struct {
	cfg        config.EmbeddingConfig
	httpClient *http.Client
}

// New constructs a Client from the loaded embedding configuration.
func New(cfg config.EmbeddingConfig) *Client {
	return &Client{cfg: cfg, httpClient: http.DefaultClient}
}

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed satisfies types.Embedder for a single input.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch satisfies types.Embedder, returning one embedding per input in
// the same order. Transient failures (connection resets, timeouts, 5xx-style
// "busy" responses classified by causalerr.Retryable) are retried with
// bounded exponential backoff; everything else fails on the first attempt.
func (c *Client) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, causalerr.New(causalerr.KindValidation, "embedding.EmbedBatch", fmt.Errorf("no inputs"))
	}

	var out [][]float32
	attempt := func() error {
		res, err := c.doEmbedRequest(ctx, inputs)
		if err != nil {
			if causalerr.Retryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = res
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if err := backoff.Retry(attempt, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) doEmbedRequest(ctx context.Context, inputs []string) ([][]float32, error) {
	reqBody, err := json.Marshal(embedReq{Model: c.cfg.Model, Input: inputs})
	if err != nil {
		return nil, causalerr.New(causalerr.KindValidation, "embedding.EmbedBatch", err)
	}

	timeout := time.Duration(c.cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := c.cfg.BaseURL + c.cfg.Path
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, causalerr.New(causalerr.KindEmbedder, "embedding.EmbedBatch", err)
	}
	if c.cfg.APIHeader == "Authorization" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	} else if c.cfg.APIHeader != "" {
		req.Header.Set(c.cfg.APIHeader, c.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, causalerr.New(causalerr.KindEmbedder, "embedding.EmbedBatch", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, causalerr.New(causalerr.KindEmbedder, "embedding.EmbedBatch", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode/100 != 2 {
		return nil, causalerr.New(causalerr.KindEmbedder, "embedding.EmbedBatch", fmt.Errorf("embeddings error: %s: %s", resp.Status, string(body)))
	}

	var er embedResp
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, causalerr.New(causalerr.KindEmbedder, "embedding.EmbedBatch", fmt.Errorf("parse response: %w", err))
	}
	if len(er.Data) != len(inputs) {
		return nil, causalerr.New(causalerr.KindEmbedder, "embedding.EmbedBatch", fmt.Errorf("unexpected embedding count: got %d, want %d", len(er.Data), len(inputs)))
	}
	out := make([][]float32, len(er.Data))
	for i := range er.Data {
		out[i] = er.Data[i].Embedding
	}
	return out, nil
}

// CheckReachability sends a small test request to verify the embedding
// endpoint is reachable and responding correctly.
func (c *Client) CheckReachability(ctx context.Context) error {
	if _, err := c.Embed(ctx, "ping"); err != nil {
		return fmt.Errorf("embedding endpoint reachability check failed: %w", err)
	}
	return nil
}
