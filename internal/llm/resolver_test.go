package llm

import (
	"testing"

	"waifu-chat/internal/config"
)

func TestResolveOrdersByPriority(t *testing.T) {
	snapshot := []config.ProviderConfig{
		{Name: config.ProviderOpenRouter, APIKey: "k1", Priority: 2},
		{Name: config.ProviderOpenAI, APIKey: "k2", Priority: 1},
		{Name: config.ProviderYandex, APIKey: "k3", FolderID: "f", Priority: 3},
	}

	chain := Resolve(snapshot)
	if len(chain) != 3 {
		t.Fatalf("got %d providers, want 3", len(chain))
	}
	want := []string{config.ProviderOpenAI, config.ProviderOpenRouter, config.ProviderYandex}
	for i, name := range want {
		if chain[i].Name != name {
			t.Fatalf("position %d: got %s want %s", i, chain[i].Name, name)
		}
	}
}

func TestResolveStableTieBreak(t *testing.T) {
	snapshot := []config.ProviderConfig{
		{Name: config.ProviderOpenRouter, APIKey: "k1", Priority: 1},
		{Name: config.ProviderOpenAI, APIKey: "k2", Priority: 1},
	}

	chain := Resolve(snapshot)
	if len(chain) != 2 || chain[0].Name != config.ProviderOpenRouter || chain[1].Name != config.ProviderOpenAI {
		t.Fatalf("ties must keep declaration order, got %+v", chain)
	}
}

func TestResolveExcludesUnconfigured(t *testing.T) {
	snapshot := []config.ProviderConfig{
		{Name: config.ProviderOpenRouter, Priority: 1},                             // no key
		{Name: config.ProviderYandex, APIKey: "token", Priority: 2},                // no folder
		{Name: config.ProviderOpenAI, APIKey: "k", Priority: 3},                    // ok
		{Name: config.ProviderYandex, APIKey: "token", FolderID: "f", Priority: 4}, // ok
	}

	chain := Resolve(snapshot)
	if len(chain) != 2 {
		t.Fatalf("got %d providers, want 2: %+v", len(chain), chain)
	}
	if chain[0].Name != config.ProviderOpenAI || chain[1].Name != config.ProviderYandex {
		t.Fatalf("unexpected chain: %+v", chain)
	}

	if got := Resolve(nil); len(got) != 0 {
		t.Fatalf("empty snapshot must resolve to an empty chain, got %+v", got)
	}
}
