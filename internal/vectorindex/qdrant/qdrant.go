// Package qdrant is a minimal REST client that stores note vectors in a
// Qdrant collection.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/semnotes/internal/vectorindex"
)

var _ vectorindex.Index = (*Index)(nil)

// Config locates the Qdrant collection.
type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// Index stores one point per note. Point IDs are the note UUIDs, which
// Qdrant accepts natively. The collection is created with Cosine distance
// on the first Upsert, once the vector dimension is known.
type Index struct {
	base       string
	apiKey     string
	collection string
	client     *http.Client
	logger     *slog.Logger

	mu       sync.Mutex
	exists   bool
	distance string // Qdrant's name: Cosine, Dot, Euclid
}

// Open inspects the configured collection. A missing collection is not an
// error; it is created on first write. An existing collection that does not
// use Cosine distance is kept as is, with a warning.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URL == "" {
		return nil, errors.New("qdrant: url is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "notes"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	x := &Index{
		base:       strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
		distance:   "Cosine",
	}

	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	status, err := x.do(ctx, http.MethodGet, x.collectionPath(""), nil, &info)
	switch {
	case err != nil && status == http.StatusNotFound:
		return x, nil
	case err != nil:
		return nil, err
	}

	x.exists = true
	if d := info.Result.Config.Params.Vectors.Distance; d != "" && d != "Cosine" {
		logger.Warn("qdrant collection uses a non-cosine distance; keeping it",
			"collection", x.collection, "distance", d)
		x.distance = d
	}
	if _, err := metricFor(x.distance); err != nil {
		return nil, err
	}
	return x, nil
}

func metricFor(distance string) (string, error) {
	switch distance {
	case "Cosine":
		return vectorindex.MetricCosine, nil
	case "Dot":
		return vectorindex.MetricIP, nil
	case "Euclid":
		return vectorindex.MetricL2, nil
	}
	return "", fmt.Errorf("qdrant: unsupported distance %q", distance)
}

func (x *Index) Metric() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	m, _ := metricFor(x.distance)
	return m
}

func (x *Index) Close() error {
	x.client.CloseIdleConnections()
	return nil
}

// toDistance converts a Qdrant score into a distance where smaller is closer.
func toDistance(distance string, score float64) float64 {
	switch distance {
	case "Euclid":
		return score * score
	default:
		return 1 - score
	}
}

func (x *Index) ensureCollection(ctx context.Context, dim int) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.exists {
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	if _, err := x.do(ctx, http.MethodPut, x.collectionPath(""), body, nil); err != nil {
		return err
	}
	x.exists = true
	x.distance = "Cosine"
	x.logger.Info("created qdrant collection", "collection", x.collection, "dim", dim)
	return nil
}

func (x *Index) state() (exists bool, distance string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.exists, x.distance
}

type point struct {
	ID      string               `json:"id"`
	Vector  []float32            `json:"vector"`
	Payload vectorindex.Metadata `json:"payload"`
}

func (x *Index) Upsert(ctx context.Context, id string, vector []float32, meta vectorindex.Metadata) error {
	if err := x.ensureCollection(ctx, len(vector)); err != nil {
		return err
	}
	body := map[string]any{"points": []point{{ID: id, Vector: vector, Payload: meta}}}
	_, err := x.do(ctx, http.MethodPut, x.collectionPath("/points?wait=true"), body, nil)
	return err
}

func (x *Index) Delete(ctx context.Context, id string) error {
	if exists, _ := x.state(); !exists {
		return nil
	}
	body := map[string]any{"points": []string{id}}
	status, err := x.do(ctx, http.MethodPost, x.collectionPath("/points/delete?wait=true"), body, nil)
	if status == http.StatusNotFound {
		return nil
	}
	return err
}

func (x *Index) Query(ctx context.Context, vector []float32, k int) ([]vectorindex.Hit, error) {
	exists, distance := x.state()
	if k <= 0 || !exists {
		return nil, nil
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			ID      any                  `json:"id"`
			Score   float64              `json:"score"`
			Payload vectorindex.Metadata `json:"payload"`
		} `json:"result"`
	}
	status, err := x.do(ctx, http.MethodPost, x.collectionPath("/points/search"), req, &resp)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	hits := make([]vectorindex.Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, vectorindex.Hit{
			ID:       fmt.Sprint(r.ID),
			Metadata: r.Payload,
			Distance: toDistance(distance, r.Score),
		})
	}
	return hits, nil
}

func (x *Index) Count(ctx context.Context) (int, error) {
	if exists, _ := x.state(); !exists {
		return 0, nil
	}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	status, err := x.do(ctx, http.MethodPost, x.collectionPath("/points/count"), map[string]any{"exact": true}, &resp)
	if status == http.StatusNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// scrollPage is the number of point IDs fetched per scroll request.
var scrollPage = 256

// IDs pages through the collection with the scroll API, without payloads
// or vectors.
func (x *Index) IDs(ctx context.Context) ([]string, error) {
	if exists, _ := x.state(); !exists {
		return nil, nil
	}

	var ids []string
	var offset any
	for {
		req := map[string]any{
			"limit":        scrollPage,
			"with_payload": false,
			"with_vector":  false,
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points []struct {
					ID any `json:"id"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		status, err := x.do(ctx, http.MethodPost, x.collectionPath("/points/scroll"), req, &resp)
		if status == http.StatusNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		for _, p := range resp.Result.Points {
			ids = append(ids, fmt.Sprint(p.ID))
		}
		if resp.Result.NextPageOffset == nil || len(resp.Result.Points) == 0 {
			return ids, nil
		}
		offset = resp.Result.NextPageOffset
	}
}

func (x *Index) collectionPath(suffix string) string {
	return x.base + "/collections/" + url.PathEscape(x.collection) + suffix
}

// do sends a JSON request and decodes the JSON response into out (if non-nil).
// Any transport error or non-2xx status is returned as ErrIndexUnavailable
// together with the HTTP status (0 when no response was received).
func (x *Index) do(ctx context.Context, method, u string, body, out any) (int, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encoding qdrant request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return 0, fmt.Errorf("creating qdrant request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if x.apiKey != "" {
		req.Header.Set("api-key", x.apiKey)
	}

	resp, err := x.client.Do(req)
	if err != nil {
		return 0, vectorindex.Unavailable("qdrant "+method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return resp.StatusCode, vectorindex.Unavailable("qdrant "+method,
			fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg))))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, vectorindex.Unavailable("decoding qdrant response", err)
		}
	}
	return resp.StatusCode, nil
}
