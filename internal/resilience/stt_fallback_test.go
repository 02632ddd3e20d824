package resilience

import (
	"context"
	"errors"
	"testing"

	sttmock "github.com/surajgopal85/talktor/pkg/provider/stt/mock"
	"github.com/surajgopal85/talktor/pkg/types"
)

func TestTranscriberFallback_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Provider{
		Result: types.Transcription{Text: "hello", Language: "en", Confidence: 0.9},
	}
	secondary := &sttmock.Provider{}

	fb := NewTranscriberFallback(primary, "whisper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("openai", secondary)

	tr, err := fb.Transcribe(context.Background(), []byte{1, 0}, 16000, "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "hello" {
		t.Fatalf("text = %q, want hello", tr.Text)
	}
	if len(primary.Calls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.Calls))
	}
	if len(secondary.Calls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.Calls))
	}
}

func TestTranscriberFallback_Failover(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("primary down")}
	secondary := &sttmock.Provider{
		Result: types.Transcription{Text: "me duele", Language: "es", Confidence: 0.8},
	}

	fb := NewTranscriberFallback(primary, "whisper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("openai", secondary)

	tr, err := fb.Transcribe(context.Background(), []byte{1, 0}, 16000, "es")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "me duele" {
		t.Fatalf("text = %q, want the fallback's transcription", tr.Text)
	}
	if len(secondary.Calls) != 1 {
		t.Fatalf("secondary called %d times, want 1", len(secondary.Calls))
	}
	// The language hint travels the whole chain.
	if secondary.Calls[0].HintLanguage != "es" {
		t.Fatalf("hint = %q, want es", secondary.Calls[0].HintLanguage)
	}
}

func TestTranscriberFallback_AllFail(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("primary down")}
	secondary := &sttmock.Provider{Err: errors.New("secondary down")}

	fb := NewTranscriberFallback(primary, "whisper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("openai", secondary)

	_, err := fb.Transcribe(context.Background(), []byte{1, 0}, 16000, "en")
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
