package whisper_test

import (
	"context"
	"os"
	"testing"

	"github.com/surajgopal85/talktor/pkg/audio"
	"github.com/surajgopal85/talktor/pkg/provider/stt/whisper"
)

// testModelPath returns the path to a whisper GGML model for integration
// tests, read from WHISPER_MODEL_PATH. If unset the test is skipped.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping whisper integration test")
	}
	return p
}

func TestNew_EmptyPath_ReturnsError(t *testing.T) {
	_, err := whisper.New("")
	if err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNew_InvalidPath_ReturnsError(t *testing.T) {
	_, err := whisper.New("/nonexistent/path/to/model.bin")
	if err == nil {
		t.Fatal("expected error for invalid model path, got nil")
	}
}

func TestTranscribe_Silence(t *testing.T) {
	p, err := whisper.New(testModelPath(t), whisper.WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	// One second of silence at the STT rate transcribes to empty or
	// near-empty text without error.
	silence := make([]byte, audio.STTSampleRate*2)
	tr, err := p.Transcribe(context.Background(), silence, audio.STTSampleRate, "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Duration <= 0 {
		t.Errorf("Duration = %v, want > 0", tr.Duration)
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	p, err := whisper.New(testModelPath(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, make([]byte, 3200), audio.STTSampleRate, ""); err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}
