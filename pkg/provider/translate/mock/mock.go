// Package mock provides a test double for the translate.Translator interface.
package mock

import (
	"context"
	"sync"

	"github.com/surajgopal85/talktor/pkg/provider/translate"
)

// Translator is a mock implementation of translate.Translator.
// Zero values for response fields cause Translate to return an empty Result
// and nil error. Set Err to inject errors.
type Translator struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// Result is returned by Translate when Results is exhausted.
	Result translate.Result

	// Results, when non-empty, is consumed one element per call before
	// falling back to Result.
	Results []translate.Result

	// Err, if non-nil, is returned as the error from Translate.
	Err error

	// TranslateFunc, if set, overrides the canned behaviour entirely.
	TranslateFunc func(ctx context.Context, req translate.Request) (translate.Result, error)

	// Calls records every invocation of Translate in order.
	Calls []translate.Request
}

// Name implements translate.Translator.
func (t *Translator) Name() string {
	if t.ProviderName == "" {
		return "mock"
	}
	return t.ProviderName
}

// Translate records the call and returns the configured result.
func (t *Translator) Translate(ctx context.Context, req translate.Request) (translate.Result, error) {
	t.mu.Lock()
	t.Calls = append(t.Calls, req)
	fn := t.TranslateFunc
	var (
		res translate.Result
		err error
	)
	if fn == nil {
		if t.Err != nil {
			err = t.Err
		} else if len(t.Results) > 0 {
			res = t.Results[0]
			t.Results = t.Results[1:]
		} else {
			res = t.Result
		}
	}
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return res, err
}

// Reset clears all recorded calls. Thread-safe.
func (t *Translator) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = nil
}

// Ensure Translator implements translate.Translator at compile time.
var _ translate.Translator = (*Translator)(nil)
