package parser

import (
	"fmt"
	"sort"

	"docmeta/internal/config"
	"docmeta/internal/port"
)

// ProviderFactory is a function that creates a DocumentExtractor from a provider config.
type ProviderFactory func(cfg *config.ParserProviderConfig) (port.DocumentExtractor, error)

// registry of provider factories, populated by init() in each provider package
// or explicitly via RegisterProvider.
var providers = map[string]ProviderFactory{}

// RegisterProvider registers a provider factory by name.
func RegisterProvider(name string, factory ProviderFactory) {
	providers[name] = factory
}

// Providers lists the registered provider names.
func Providers() []string {
	out := make([]string, 0, len(providers))
	for name := range providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NewExtractor creates a DocumentExtractor from a provider config using the registered factory.
func NewExtractor(cfg *config.ParserProviderConfig) (port.DocumentExtractor, error) {
	factory, ok := providers[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown parser provider: %s", cfg.Provider)
	}
	return factory(cfg)
}
