package builtin

import (
	"context"

	"github.com/longregen/marlowe/internal/convctx"
	"github.com/longregen/marlowe/internal/tools"
)

// RegisterUserContext registers the always-available profile and
// preferences lookup. It is marked AlwaysInclude so the prefilter keeps
// it in every model call.
func RegisterUserContext(reg *tools.Registry, prefs *convctx.PreferencesStore) error {
	def := tools.Definition{
		Name:          "user_context",
		Description:   "Returns the user's profile and preferences (name, timezone, communication style, interests).",
		Category:      "context",
		Keywords:      []string{"profile", "preferences", "settings", "timezone", "name"},
		AlwaysInclude: true,
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}

	return reg.Register(def, func(ctx context.Context, params map[string]any) (any, error) {
		userID, _ := params[tools.UserIDParam].(string)
		return map[string]any{
			"profile":     prefs.GetProfile(userID),
			"preferences": prefs.Get(userID),
		}, nil
	})
}
