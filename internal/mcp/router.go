package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/parleyhq/parley/internal/llm"
)

var (
	// ErrAllProvidersUnreachable is returned by Connect when no configured
	// server could be reached.
	ErrAllProvidersUnreachable = errors.New("all MCP servers unreachable")

	// ErrToolNotFound is returned by Invoke for names absent from the catalog.
	ErrToolNotFound = errors.New("tool not found")
)

// Provider is one connected MCP server as the router sees it.
type Provider interface {
	Name() string
	Tools() []ToolSpec
	CallTool(ctx context.Context, name string, args json.RawMessage) (string, error)
	Close() error
}

// DialFunc opens a connection to one configured server. The default dial
// starts a Client; tests substitute fakes.
type DialFunc func(ctx context.Context, name string, cfg ServerConfig) (Provider, error)

func defaultDial(ctx context.Context, name string, cfg ServerConfig) (Provider, error) {
	client := NewClient(name, cfg)
	if err := client.Start(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// Router aggregates tool catalogs from multiple MCP servers into one flat
// namespace and routes invocations to the owning server. Name collisions
// resolve to the server registered last (sorted server-name order), with a
// logged warning. A router with a subset of its servers connected is still
// functional; losing every server is the only connect failure.
type Router struct {
	log  zerolog.Logger
	dial DialFunc

	mu        sync.RWMutex
	providers []Provider
	byTool    map[string]Provider
	catalog   []ToolSpec
}

func NewRouter(log zerolog.Logger) *Router {
	return &Router{
		log:    log,
		dial:   defaultDial,
		byTool: make(map[string]Provider),
	}
}

// SetDialFunc overrides how servers are dialed. Call before Connect.
func (r *Router) SetDialFunc(dial DialFunc) {
	r.dial = dial
}

// Connect dials every configured server concurrently and rebuilds the
// catalog and routing table from scratch, replacing any previous cycle's
// providers. Each failure is logged and skipped; catalogs from the successes
// merge in sorted server-name order so collision resolution is deterministic
// regardless of connect timing.
func (r *Router) Connect(ctx context.Context, cfg *Config) error {
	names := cfg.ServerNames()
	if len(names) == 0 {
		return nil
	}

	type dialResult struct {
		provider Provider
		err      error
	}
	results := make([]dialResult, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string, serverCfg ServerConfig) {
			defer wg.Done()
			provider, err := r.dial(ctx, name, serverCfg)
			results[i] = dialResult{provider: provider, err: err}
		}(i, name, cfg.Servers[name])
	}
	wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Each connect cycle rebuilds the routing state wholesale: providers from
	// a previous cycle are closed and replaced, never accumulated.
	if len(r.providers) > 0 {
		r.closeAll(r.providers)
		r.providers = nil
		r.byTool = make(map[string]Provider)
		r.catalog = nil
	}

	connected := 0
	for i, name := range names {
		if results[i].err != nil {
			r.log.Warn().Str("server", name).Err(results[i].err).
				Msg("MCP server unreachable, continuing without it")
			continue
		}
		connected++
		r.register(results[i].provider)
	}

	if connected == 0 {
		return fmt.Errorf("%w (%d configured)", ErrAllProvidersUnreachable, len(names))
	}
	r.log.Info().Int("connected", connected).Int("configured", len(names)).
		Int("tools", len(r.catalog)).Msg("MCP servers connected")
	return nil
}

// register merges one provider's tools into the flat namespace. Caller holds
// the lock.
func (r *Router) register(provider Provider) {
	r.providers = append(r.providers, provider)
	for _, tool := range provider.Tools() {
		if prev, exists := r.byTool[tool.Name]; exists {
			r.log.Warn().Str("tool", tool.Name).
				Str("server", provider.Name()).
				Str("replaces", prev.Name()).
				Msg("duplicate tool name, later server wins")
			for i := range r.catalog {
				if r.catalog[i].Name == tool.Name {
					r.catalog[i] = tool
					break
				}
			}
		} else {
			r.catalog = append(r.catalog, tool)
		}
		r.byTool[tool.Name] = provider
	}
}

// Catalog returns the aggregated deduplicated tool list. Empty before
// Connect and after Close.
func (r *Router) Catalog() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSpec, len(r.catalog))
	copy(out, r.catalog)
	return out
}

// call routes one invocation to the owning server.
func (r *Router) call(ctx context.Context, name string, args json.RawMessage) (string, error) {
	r.mu.RLock()
	provider, ok := r.byTool[name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return provider.CallTool(ctx, name, args)
}

// Invoke executes a tool and returns its result. Unknown names return
// ErrToolNotFound; every other failure is folded into an IsError result so a
// misbehaving server degrades a single call, never the caller's turn.
func (r *Router) Invoke(ctx context.Context, name string, args json.RawMessage) (llm.ToolResult, error) {
	output, err := r.call(ctx, name, args)
	if errors.Is(err, ErrToolNotFound) {
		return llm.ToolResult{}, err
	}
	if err != nil {
		return llm.ToolResult{Name: name, Content: fmt.Sprintf("Error: %v", err), IsError: true}, nil
	}
	return llm.ToolResult{Name: name, Content: output}, nil
}

// Close shuts down every provider concurrently, best-effort, and clears the
// catalog and routing table. A closed router reports an empty catalog and
// ErrToolNotFound for every invocation.
func (r *Router) Close() {
	r.mu.Lock()
	providers := r.providers
	r.providers = nil
	r.byTool = make(map[string]Provider)
	r.catalog = nil
	r.mu.Unlock()

	r.closeAll(providers)
}

// closeAll shuts the given providers down concurrently, best-effort.
func (r *Router) closeAll(providers []Provider) {
	var wg sync.WaitGroup
	for _, provider := range providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			if err := p.Close(); err != nil {
				r.log.Warn().Str("server", p.Name()).Err(err).Msg("error closing MCP server")
			}
		}(provider)
	}
	wg.Wait()
}
