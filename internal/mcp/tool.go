package mcp

import (
	"context"
	"encoding/json"

	"github.com/parleyhq/parley/internal/llm"
)

// RouterTool exposes one catalog entry as an llm.Tool. Execution failures
// surface as errors; the engine folds them into error results for the model.
type RouterTool struct {
	router *Router
	spec   ToolSpec
}

func NewRouterTool(router *Router, spec ToolSpec) *RouterTool {
	return &RouterTool{router: router, spec: spec}
}

func (t *RouterTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        t.spec.Name,
		Description: t.spec.Description,
		Schema:      t.spec.Schema,
	}
}

func (t *RouterTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return t.router.call(ctx, t.spec.Name, args)
}

// RegisterTools registers the router's full catalog into the tool registry.
func RegisterTools(router *Router, registry *llm.ToolRegistry) {
	for _, spec := range router.Catalog() {
		registry.Register(NewRouterTool(router, spec))
	}
}
