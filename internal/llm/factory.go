package llm

import (
	"fmt"
	"strings"

	"waifu-chat/internal/config"
)

// NewClient creates the client variant matching a resolved provider
// config. Clients are constructed per chat turn so credential or model
// changes picked up by the snapshot take effect immediately.
func NewClient(pc config.ProviderConfig) (Client, error) {
	switch strings.ToLower(pc.Name) {
	case config.ProviderOpenRouter:
		return NewOpenRouter(pc.APIKey, pc.Endpoint, pc.Model), nil
	case config.ProviderOpenAI:
		return NewOpenAI(pc.APIKey, pc.Endpoint, pc.Model), nil
	case config.ProviderYandex:
		return NewYandex(pc.APIKey, pc.FolderID)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", pc.Name)
	}
}
