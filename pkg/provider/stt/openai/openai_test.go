package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/surajgopal85/talktor/pkg/audio"
)

func TestNew_EmptyAPIKey_ReturnsError(t *testing.T) {
	_, err := New("", "")
	if err == nil {
		t.Fatal("expected error for empty apiKey, got nil")
	}
}

func TestNew_DefaultModel(t *testing.T) {
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != DefaultModel {
		t.Errorf("model = %q, want %q", p.model, DefaultModel)
	}
}

func TestTranscribe_UploadsWAVAndParsesText(t *testing.T) {
	var gotPath, gotAuth, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if lang := r.FormValue("language"); lang != "es" {
			t.Errorf("language form field = %q, want es", lang)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"me duele la cabeza"}`))
	}))
	defer srv.Close()

	p, err := New("sk-test", "whisper-1", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pcm := make([]byte, audio.STTSampleRate) // half a second of silence
	tr, err := p.Transcribe(context.Background(), pcm, audio.STTSampleRate, "es")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if !strings.HasSuffix(gotPath, "/audio/transcriptions") {
		t.Errorf("request path = %q", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if !strings.HasPrefix(gotContentType, "multipart/form-data") {
		t.Errorf("Content-Type = %q, want multipart", gotContentType)
	}
	if tr.Text != "me duele la cabeza" {
		t.Errorf("Text = %q", tr.Text)
	}
	if tr.Language != "es" {
		t.Errorf("Language = %q, want the hint echoed back", tr.Language)
	}
	if tr.Duration <= 0 {
		t.Errorf("Duration = %v, want > 0", tr.Duration)
	}
}

func TestTranscribe_AutoHintOmitsLanguage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(1 << 20)
		if lang := r.FormValue("language"); lang != "" {
			t.Errorf("language form field = %q, want omitted for auto", lang)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"hello"}`))
	}))
	defer srv.Close()

	p, _ := New("sk-test", "", WithBaseURL(srv.URL))
	tr, err := p.Transcribe(context.Background(), make([]byte, 3200), audio.STTSampleRate, "auto")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Language != "" {
		t.Errorf("Language = %q, want empty when detection was requested", tr.Language)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	p, _ := New("sk-bad", "", WithBaseURL(srv.URL))
	if _, err := p.Transcribe(context.Background(), make([]byte, 3200), audio.STTSampleRate, ""); err == nil {
		t.Fatal("expected error for HTTP 401, got nil")
	}
}
