package dexcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tatianab/trainer-tales/internal/models"
)

// ErrUnknownEntry is returned by a Source when the reference data does not exist.
var ErrUnknownEntry = errors.New("dexcache: unknown canon entry")

// Source fetches canon reference data on a cache miss.
type Source interface {
	Fetch(ctx context.Context, kind models.CanonKind, key string) (map[string]any, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, kind models.CanonKind, key string) (map[string]any, error)

func (f SourceFunc) Fetch(ctx context.Context, kind models.CanonKind, key string) (map[string]any, error) {
	return f(ctx, kind, key)
}

var endpoints = map[models.CanonKind]string{
	models.KindPokemon:         "pokemon",
	models.KindMoves:           "move",
	models.KindAbilities:       "ability",
	models.KindTypes:           "type",
	models.KindSpecies:         "pokemon-species",
	models.KindEvolutionChains: "evolution-chain",
	models.KindItems:           "item",
	models.KindLocations:       "location",
	models.KindGenerations:     "generation",
}

// HTTPSource reads a PokeAPI-compatible REST service.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPSource returns a source rooted at baseURL.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *HTTPSource) Fetch(ctx context.Context, kind models.CanonKind, key string) (map[string]any, error) {
	endpoint, ok := endpoints[kind]
	if !ok {
		return nil, fmt.Errorf("dexcache: no endpoint for kind %q", kind)
	}
	u := s.BaseURL + "/" + endpoint + "/" + url.PathEscape(strings.ToLower(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s: %w", kind, key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownEntry, kind, key)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s/%s: unexpected status %s", kind, key, resp.Status)
	}
	var payload map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", kind, key, err)
	}
	return Compact(payload), nil
}

const (
	compactDepth = 3
	compactItems = 8
)

// Compact trims a reference payload before it is stored in a session:
// nesting is cut at a fixed depth and lists keep their first few items.
func Compact(payload map[string]any) map[string]any {
	out, _ := compact(payload, 0).(map[string]any)
	return out
}

func compact(v any, depth int) any {
	switch t := v.(type) {
	case map[string]any:
		if depth >= compactDepth {
			return nil
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			if c := compact(val, depth+1); c != nil {
				out[k] = c
			}
		}
		return out
	case []any:
		if depth >= compactDepth {
			return nil
		}
		n := min(len(t), compactItems)
		out := make([]any, 0, n)
		for _, val := range t[:n] {
			if c := compact(val, depth+1); c != nil {
				out = append(out, c)
			}
		}
		return out
	}
	return v
}
