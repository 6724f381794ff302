// Package builtin registers the tools that ship with the assistant.
package builtin

import (
	"fmt"

	"github.com/longregen/marlowe/internal/convctx"
	"github.com/longregen/marlowe/internal/memory"
	"github.com/longregen/marlowe/internal/tools"
)

// RegisterAll wires the built-in tools into the registry. Call once during
// startup, before Seal.
func RegisterAll(reg *tools.Registry, retriever *memory.Retriever, prefs *convctx.PreferencesStore) error {
	if err := RegisterMemorySearch(reg, retriever); err != nil {
		return fmt.Errorf("register memory search: %w", err)
	}
	if err := RegisterUserContext(reg, prefs); err != nil {
		return fmt.Errorf("register user context: %w", err)
	}
	return nil
}
