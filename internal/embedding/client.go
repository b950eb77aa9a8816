// Package embedding wraps the embedding-model HTTP endpoint (out of scope:
// the model service itself). It batches requests, retries transient
// failures, and validates every vector it returns.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"medgraphrag/internal/apperr"
	"medgraphrag/internal/config"
	"medgraphrag/internal/observability"
)

// Client calls a remote embedding endpoint, matching the teacher's
// internal/embedding.EmbedText shape but adding batching, retry/backoff, and
// response validation the teacher left to callers.
type Client struct {
	cfg  config.EmbeddingConfig
	http *http.Client
}

// New constructs a Client. The HTTP transport is instrumented with otelhttp
// the same way observability.NewHTTPClient wires every outbound call.
func New(cfg config.EmbeddingConfig) *Client {
	return &Client{cfg: cfg, http: observability.NewHTTPClient(nil)}
}

func (c *Client) Dimension() int { return c.cfg.Dimension }

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedTexts embeds inputs in cfg.BatchSize-sized batches, up to
// cfg.MaxConcurrency batches in flight at once, and returns one vector per
// input in the original order.
func (c *Client) EmbedTexts(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "no inputs to embed")
	}
	batchSize := c.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	maxConc := c.cfg.MaxConcurrency
	if maxConc <= 0 {
		maxConc = 1
	}

	out := make([][]float32, len(inputs))
	var batches [][2]int // [start, end)
	for start := 0; start < len(inputs); start += batchSize {
		end := start + batchSize
		if end > len(inputs) {
			end = len(inputs)
		}
		batches = append(batches, [2]int{start, end})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConc)
	for _, b := range batches {
		b := b
		g.Go(func() error {
			vecs, err := c.embedBatchWithRetry(gctx, inputs[b[0]:b[1]])
			if err != nil {
				return err
			}
			copy(out[b[0]:b[1]], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedImage embeds an image addressed by storage reference. Per the Image
// contract, storage_ref is the durable field; raw bytes are embedded only
// when no reference is resolvable (EmbedImageBytes).
func (c *Client) EmbedImage(ctx context.Context, storageRef string) ([]float32, error) {
	vecs, err := c.embedBatchWithRetry(ctx, []string{storageRef})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedImageBytes embeds raw image bytes, used only when storageRef cannot
// be resolved by the caller.
func (c *Client) EmbedImageBytes(ctx context.Context, data []byte) ([]float32, error) {
	vecs, err := c.embedBatchWithRetry(ctx, []string{string(data)})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *Client) embedBatchWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	maxRetries := c.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 4
	}
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoffWithJitter(attempt)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, apperr.Wrap(apperr.DeadlineExceeded, "embedding request canceled", ctx.Err())
			case <-timer.C:
			}
		}
		vecs, retryable, err := c.embedBatch(ctx, batch)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

// backoffWithJitter returns base*2^(attempt-1) with +/-25% jitter, base 500ms.
func backoffWithJitter(attempt int) time.Duration {
	base := 500 * time.Millisecond
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	jitter := 0.75 + rand.Float64()*0.5 // [0.75, 1.25]
	return time.Duration(float64(d) * jitter)
}

// embedBatch performs a single HTTP round trip. The bool return reports
// whether the error is worth retrying (timeouts, 429, 5xx).
func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, bool, error) {
	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqBody, err := json.Marshal(embedReq{Model: c.cfg.Model, Input: batch})
	if err != nil {
		return nil, false, apperr.Wrap(apperr.InvalidInput, "encode embedding request", err)
	}
	url := c.cfg.BaseURL + c.cfg.Path
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, false, apperr.Wrap(apperr.InvalidInput, "build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIHeader == "Authorization" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	} else if c.cfg.APIHeader != "" {
		req.Header.Set(c.cfg.APIHeader, c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if cctx.Err() != nil {
			return nil, true, apperr.Wrap(apperr.DeadlineExceeded, "embedding request timed out", err)
		}
		return nil, true, apperr.Wrap(apperr.EmbeddingUnavailable, "embedding request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, apperr.Wrap(apperr.EmbeddingUnavailable, "read embedding response", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5 {
		return nil, true, apperr.New(apperr.EmbeddingUnavailable, fmt.Sprintf("embedding endpoint %s: %s", resp.Status, string(body)))
	}
	if resp.StatusCode/100 != 2 {
		return nil, false, apperr.New(apperr.EmbeddingUnavailable, fmt.Sprintf("embedding endpoint %s: %s", resp.Status, string(body)))
	}

	var er embedResp
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, false, apperr.Wrap(apperr.SchemaError, "parse embedding response", err)
	}
	if len(er.Data) != len(batch) {
		return nil, false, apperr.New(apperr.SchemaError, fmt.Sprintf("embedding count mismatch: got %d, want %d", len(er.Data), len(batch)))
	}

	out := make([][]float32, len(er.Data))
	for i := range er.Data {
		vec := er.Data[i].Embedding
		if c.cfg.Dimension > 0 && len(vec) != c.cfg.Dimension {
			return nil, false, apperr.New(apperr.SchemaError, fmt.Sprintf("embedding dimension mismatch: got %d, want %d", len(vec), c.cfg.Dimension))
		}
		if isZeroVector(vec) {
			return nil, false, apperr.New(apperr.MockEmbedding, "embedding endpoint returned a zero-magnitude vector")
		}
		out[i] = vec
	}
	return out, false, nil
}

func isZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// CheckReachability verifies the embedding endpoint is reachable and
// responding, matching the teacher's CheckReachability helper.
func (c *Client) CheckReachability(ctx context.Context) error {
	_, err := c.EmbedTexts(ctx, []string{"ping"})
	return err
}
