package vlm

import (
	"context"
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

// Property coverage for chain construction: manual providers only run when
// explicitly named, the chain never repeats a provider, stubs always run
// last, and every eligible provider gets a turn before the request fails.
func TestChainConstructionProperties(t *testing.T) {
	families := []string{FamilyStub, FamilyManual, FamilyGemini, FamilyOpenAI, FamilyHuggingFace}

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "providers")

		registry := NewRegistry()
		nonManual := 0
		for i := 0; i < n; i++ {
			family := rapid.SampledFrom(families).Draw(t, fmt.Sprintf("family%d", i))
			if family != FamilyManual {
				nonManual++
			}
			registry.Register(&fakeProvider{name: fmt.Sprintf("p%d", i), family: family})
		}

		store := &fakeStore{}
		for _, family := range families {
			if rapid.Bool().Draw(t, "avail_"+family) {
				store.records = append(store.records, ModelRecord{
					MCode: family, Family: family, IsAvailable: true,
				})
			}
		}

		o := NewOrchestrator(registry, store, OrchestratorOptions{})
		chain := o.buildChain(context.Background(), "")

		if len(chain) == 0 {
			t.Fatalf("chain must never be empty when providers are registered")
		}

		primaryFamily := chain[0].Describe().Family
		if nonManual > 0 && primaryFamily == FamilyManual {
			t.Fatalf("manual provider selected without explicit request")
		}

		seen := map[string]bool{}
		sawStub := false
		for i, p := range chain {
			name := p.Name()
			if seen[name] {
				t.Fatalf("provider %s appears twice in chain", name)
			}
			seen[name] = true

			family := p.Describe().Family
			if i > 0 && family == FamilyManual {
				t.Fatalf("manual provider in fallback chain")
			}
			if i > 0 {
				if family == FamilyStub {
					sawStub = true
				} else if sawStub {
					t.Fatalf("non-stub provider %s after stub in chain", name)
				}
			}
		}

		// when the primary is not manual, every non-manual provider is in the chain
		if primaryFamily != FamilyManual && len(seen) != nonManual {
			t.Fatalf("chain covers %d providers, want %d", len(seen), nonManual)
		}
	})
}
