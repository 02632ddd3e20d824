package resilience

import (
	"context"

	"github.com/surajgopal85/talktor/pkg/provider/translate"
)

// TranslatorFallback implements [translate.Translator] with automatic
// failover across multiple translation backends. Each backend has its own
// circuit breaker. Registering [translate.Echo] as the last fallback makes
// the chain total: conversations degrade to untranslated pass-through
// instead of losing turns.
type TranslatorFallback struct {
	group *FallbackGroup[translate.Translator]
}

// Compile-time interface assertion.
var _ translate.Translator = (*TranslatorFallback)(nil)

// NewTranslatorFallback creates a [TranslatorFallback] with primary as the
// preferred backend, registered under its own Name.
func NewTranslatorFallback(primary translate.Translator, cfg FallbackConfig) *TranslatorFallback {
	return &TranslatorFallback{
		group: NewFallbackGroup(primary, primary.Name(), cfg),
	}
}

// AddFallback registers an additional translation backend, registered under
// its own Name.
func (f *TranslatorFallback) AddFallback(t translate.Translator) {
	f.group.AddFallback(t.Name(), t)
}

// Name identifies the chain by its primary backend.
func (f *TranslatorFallback) Name() string {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].name
	}
	return ""
}

// Translate runs the request against the first healthy backend. The returned
// Result carries the name of the backend that actually answered, which is how
// the conversation layer detects echo fallbacks.
func (f *TranslatorFallback) Translate(ctx context.Context, req translate.Request) (translate.Result, error) {
	return ExecuteWithResult(f.group, func(t translate.Translator) (translate.Result, error) {
		res, err := t.Translate(ctx, req)
		if err == nil && res.Provider == "" {
			res.Provider = t.Name()
		}
		return res, err
	})
}
