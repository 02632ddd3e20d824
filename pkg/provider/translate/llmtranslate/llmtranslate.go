// Package llmtranslate provides a translate.Translator that runs translations
// through a chat-completion model. Unlike the plain REST backends it receives
// the medication terms extracted from the utterance and instructs the model to
// keep them intact, which matters for drug names that machine translation
// otherwise localises or mangles.
package llmtranslate

import (
	"context"
	"fmt"
	"strings"

	"github.com/surajgopal85/talktor/pkg/provider/llm"
	"github.com/surajgopal85/talktor/pkg/provider/translate"
)

// translationPrompt is the system prompt sent with every translation request.
const translationPrompt = `You are a medical interpreter for live doctor-patient conversations.
Translate the user's message exactly, preserving clinical meaning, medication names, and dosages.
Keep the register simple and spoken, the way an interpreter would say it out loud.
Reply with the translation only, no preamble, quotes, or notes.`

// Ensure Provider implements the translate.Translator interface.
var _ translate.Translator = (*Provider)(nil)

// Provider implements translate.Translator on top of any llm.Provider.
type Provider struct {
	llm llm.Provider
}

// New creates a Provider backed by the given completion provider.
func New(provider llm.Provider) *Provider {
	return &Provider{llm: provider}
}

// Name implements translate.Translator.
func (p *Provider) Name() string { return "llm" }

// Translate implements translate.Translator.
func (p *Provider) Translate(ctx context.Context, req translate.Request) (translate.Result, error) {
	if req.TargetLang == "" {
		return translate.Result{}, fmt.Errorf("llmtranslate: target language must not be empty")
	}

	resp, err := p.llm.Complete(ctx, llm.Request{
		SystemPrompt: translationPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: buildPrompt(req)},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return translate.Result{}, fmt.Errorf("llmtranslate: %w", err)
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return translate.Result{}, fmt.Errorf("llmtranslate: model returned empty translation")
	}

	return translate.Result{
		Text:     text,
		Provider: p.Name(),
	}, nil
}

// buildPrompt formats the request into a single user message.
func buildPrompt(req translate.Request) string {
	var sb strings.Builder

	source := req.SourceLang
	if source == "" || source == "auto" {
		source = "detect automatically"
	}
	fmt.Fprintf(&sb, "Source language: %s\n", source)
	fmt.Fprintf(&sb, "Target language: %s\n", req.TargetLang)
	if len(req.Medications) > 0 {
		fmt.Fprintf(&sb, "Medications mentioned (keep these terms recognisable): %s\n",
			strings.Join(req.Medications, ", "))
	}
	fmt.Fprintf(&sb, "\nText:\n%s", req.Text)

	return sb.String()
}
