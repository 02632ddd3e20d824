// Package googlerest provides a translate.Translator backed by the Google
// Cloud Translation v2 REST API (API-key authentication).
package googlerest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/surajgopal85/talktor/pkg/provider/translate"
)

// DefaultBaseURL is the production Translation v2 endpoint.
const DefaultBaseURL = "https://translation.googleapis.com/language/translate/v2"

// Ensure Provider implements the translate.Translator interface.
var _ translate.Translator = (*Provider)(nil)

// Provider implements translate.Translator using the Translation v2 REST API.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithBaseURL overrides the API endpoint. Used in tests to point at a local
// server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithHTTPClient replaces the default HTTP client (10 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// New constructs a Provider. apiKey must not be empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("googlerest: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements translate.Translator.
func (p *Provider) Name() string { return "google" }

// request/response wire shapes for the v2 API.
type apiRequest struct {
	Q      []string `json:"q"`
	Source string   `json:"source,omitempty"`
	Target string   `json:"target"`
	Format string   `json:"format"`
}

type apiResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText         string `json:"translatedText"`
			DetectedSourceLanguage string `json:"detectedSourceLanguage"`
		} `json:"translations"`
	} `json:"data"`
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Translate implements translate.Translator. Medication context is ignored;
// the v2 API has no vocabulary-pinning mechanism.
func (p *Provider) Translate(ctx context.Context, req translate.Request) (translate.Result, error) {
	if req.TargetLang == "" {
		return translate.Result{}, errors.New("googlerest: target language must not be empty")
	}

	body := apiRequest{
		Q:      []string{req.Text},
		Target: req.TargetLang,
		Format: "text",
	}
	// Omitting source requests detection.
	if req.SourceLang != "" && req.SourceLang != "auto" {
		body.Source = req.SourceLang
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return translate.Result{}, fmt.Errorf("googlerest: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"?key="+p.apiKey, bytes.NewReader(payload))
	if err != nil {
		return translate.Result{}, fmt.Errorf("googlerest: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return translate.Result{}, fmt.Errorf("googlerest: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return translate.Result{}, fmt.Errorf("googlerest: read response: %w", err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return translate.Result{}, fmt.Errorf("googlerest: parse response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := parsed.Error.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return translate.Result{}, fmt.Errorf("googlerest: server returned HTTP %d: %s", resp.StatusCode, msg)
	}
	if len(parsed.Data.Translations) == 0 {
		return translate.Result{}, errors.New("googlerest: empty translations in response")
	}

	t := parsed.Data.Translations[0]
	return translate.Result{
		Text:           t.TranslatedText,
		DetectedSource: t.DetectedSourceLanguage,
		Provider:       p.Name(),
	}, nil
}
