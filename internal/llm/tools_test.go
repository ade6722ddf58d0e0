package llm

import "testing"

func TestToolRegistry_RegisterGetUnregister(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&sumTool{})
	registry.Register(failingTool{})

	if _, ok := registry.Get("sum"); !ok {
		t.Fatal("sum not registered")
	}
	specs := registry.AllSpecs()
	if len(specs) != 2 || specs[0].Name != "sum" || specs[1].Name != "flaky" {
		t.Fatalf("specs = %+v, want registration order sum, flaky", specs)
	}

	registry.Unregister("sum")
	if _, ok := registry.Get("sum"); ok {
		t.Error("sum still resolvable after Unregister")
	}
	specs = registry.AllSpecs()
	if len(specs) != 1 || specs[0].Name != "flaky" {
		t.Errorf("specs after unregister = %+v", specs)
	}

	// Unknown names are a no-op.
	registry.Unregister("missing")

	// Re-registering an existing name replaces it without duplicating order.
	registry.Register(failingTool{})
	if got := registry.AllSpecs(); len(got) != 1 {
		t.Errorf("specs after re-register = %+v", got)
	}
}
