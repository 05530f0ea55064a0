// Package promptcache caches chat responses keyed by a normalized request
// fingerprint. Only deterministic-enough requests are cacheable: low
// temperature and, unless multi-step caching is enabled, a single user turn.
package promptcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/featherdev/feather/internal/llm"
	"github.com/featherdev/feather/internal/stablejson"
)

const keyVersion = "v1"

// Config tunes cacheability and retention.
type Config struct {
	TTL time.Duration
	// MaxTemperature is the highest temperature still considered
	// deterministic enough to cache. Defaults to 0.3.
	MaxTemperature float64
	// AllowMultiStep admits requests with assistant/tool history. When
	// false only single-turn requests (exactly one user message) qualify.
	AllowMultiStep bool
	// Logger receives non-fatal cache write failures. Nil discards them.
	Logger *log.Logger
}

// Cache wraps a Store with fingerprinting and deep-clone semantics.
type Cache struct {
	store Store
	cfg   Config
}

// Decision is the result of Prepare: whether the request is cacheable,
// under which key, and a hit if the store already has a live record.
type Decision struct {
	Cacheable bool
	Key       string
	Hit       *llm.ChatResponse
}

// New creates a cache over the given store.
func New(store Store, cfg Config) *Cache {
	if cfg.MaxTemperature <= 0 {
		cfg.MaxTemperature = 0.3
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	return &Cache{store: store, cfg: cfg}
}

// Prepare computes the cache decision for a request and probes the store.
// Hits are returned as deep clones so callers can never mutate the cached
// record.
func (c *Cache) Prepare(ctx context.Context, provider, model string, req llm.ChatRequest) Decision {
	if !c.cacheable(req) {
		return Decision{}
	}
	key, err := Key(provider, model, req)
	if err != nil {
		return Decision{}
	}
	d := Decision{Cacheable: true, Key: key}

	rec, err := c.store.Get(ctx, key)
	if err != nil || rec == nil {
		return d
	}
	clone, err := cloneResponse(rec.Response)
	if err != nil {
		return d
	}
	d.Hit = &clone
	return d
}

// Write persists a response under a previously prepared decision.
func (c *Cache) Write(ctx context.Context, d Decision, resp llm.ChatResponse) error {
	if !d.Cacheable || d.Key == "" {
		return nil
	}
	clone, err := cloneResponse(resp)
	if err != nil {
		return fmt.Errorf("clone response: %w", err)
	}
	return c.store.Set(ctx, d.Key, &Record{Response: clone, CreatedAt: time.Now()}, c.cfg.TTL)
}

func (c *Cache) cacheable(req llm.ChatRequest) bool {
	if len(req.Messages) == 0 {
		return false
	}
	if req.Temperature != nil && *req.Temperature > c.cfg.MaxTemperature {
		return false
	}
	if c.cfg.AllowMultiStep {
		return true
	}
	users := 0
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleUser:
			users++
		case llm.RoleAssistant, llm.RoleTool:
			return false
		}
	}
	return users == 1
}

// Key computes the stable fingerprint "prompt:v1:<sha256>" for a request.
// Whitespace runs in message content are collapsed so semantically identical
// prompts share a key.
func Key(provider, model string, req llm.ChatRequest) (string, error) {
	payload := map[string]any{
		"version":  keyVersion,
		"provider": provider,
		"model":    model,
		"request":  sanitize(req),
	}
	canonical, err := stablejson.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canonical))
	return "prompt:" + keyVersion + ":" + hex.EncodeToString(sum[:]), nil
}

// sanitize normalizes the request into a plain map: whitespace collapsed,
// unset optional fields stripped, message order preserved.
func sanitize(req llm.ChatRequest) map[string]any {
	msgs := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		entry := map[string]any{
			"role":    string(m.Role),
			"content": strings.Join(strings.Fields(m.Content), " "),
		}
		if m.ToolName != "" {
			entry["tool"] = m.ToolName
		}
		if m.Value != nil {
			entry["value"] = m.Value
		}
		msgs = append(msgs, entry)
	}
	out := map[string]any{
		"model":    req.Model,
		"messages": msgs,
	}
	if req.Temperature != nil {
		out["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		out["maxTokens"] = *req.MaxTokens
	}
	if req.TopP != nil {
		out["topP"] = *req.TopP
	}
	return out
}

// cloneResponse deep-clones via a JSON round trip; the Raw payload is
// provider JSON and survives the trip.
func cloneResponse(resp llm.ChatResponse) (llm.ChatResponse, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return llm.ChatResponse{}, err
	}
	var out llm.ChatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return llm.ChatResponse{}, err
	}
	return out, nil
}
