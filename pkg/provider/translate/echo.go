package translate

import "context"

// ProviderEcho is the provider name reported by [Echo]. Callers use it to
// recognise untranslated pass-through results.
const ProviderEcho = "echo"

// Echo is the translator of last resort. It returns the source text
// unchanged so a conversation degrades to untranslated pass-through instead
// of dropping turns when every real backend is down.
type Echo struct{}

var _ Translator = Echo{}

func (Echo) Name() string {
	return ProviderEcho
}

func (Echo) Translate(_ context.Context, req Request) (Result, error) {
	return Result{Text: req.Text, DetectedSource: req.SourceLang, Provider: ProviderEcho}, nil
}
