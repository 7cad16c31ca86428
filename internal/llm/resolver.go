package llm

import (
	"sort"

	"waifu-chat/internal/config"
)

// Resolve turns a configuration snapshot into the ordered fallback
// chain for one chat turn. Providers without a resolvable credential
// are excluded; the rest are sorted by ascending priority, ties kept
// in declaration order. An empty result is valid and means the caller
// should fall back to the static default reply.
func Resolve(snapshot []config.ProviderConfig) []config.ProviderConfig {
	chain := make([]config.ProviderConfig, 0, len(snapshot))
	for _, p := range snapshot {
		if configured(p) {
			chain = append(chain, p)
		}
	}
	sort.SliceStable(chain, func(i, j int) bool {
		return chain[i].Priority < chain[j].Priority
	})
	return chain
}

func configured(p config.ProviderConfig) bool {
	if p.APIKey == "" {
		return false
	}
	if p.Name == config.ProviderYandex && p.FolderID == "" {
		return false
	}
	return true
}
