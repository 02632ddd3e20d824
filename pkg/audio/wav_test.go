package audio_test

import (
	"testing"

	"github.com/surajgopal85/talktor/pkg/audio"
)

func TestWAVRoundTrip(t *testing.T) {
	pcm := samplesToBytes([]int16{100, -200, 300, -400})
	wav := audio.EncodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("encoded size: got %d, want %d", len(wav), 44+len(pcm))
	}

	decoded, rate, channels, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rate != 16000 {
		t.Errorf("sample rate: got %d, want 16000", rate)
	}
	if channels != 1 {
		t.Errorf("channels: got %d, want 1", channels)
	}
	got := bytesToSamples(decoded)
	want := []int16{100, -200, 300, -400}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDecodeWAV_NotWAV(t *testing.T) {
	if _, _, _, err := audio.DecodeWAV([]byte("definitely not a wav file, far too short?")); err == nil {
		t.Error("expected error for non-WAV input")
	}
}

func TestDecodeWAV_TruncatedData(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200, 300, 400})
	wav := audio.EncodeWAV(pcm, 16000, 1)
	// Cut the data chunk short.
	if _, _, _, err := audio.DecodeWAV(wav[:len(wav)-4]); err == nil {
		t.Error("expected error for truncated data chunk")
	}
}

func TestDecodeWAV_SkipsExtraChunks(t *testing.T) {
	pcm := samplesToBytes([]int16{42, 43})
	wav := audio.EncodeWAV(pcm, 8000, 2)

	// Splice a LIST chunk between fmt and data, as many recorders emit.
	list := append([]byte("LIST"), 0x04, 0x00, 0x00, 0x00)
	list = append(list, []byte("INFO")...)
	spliced := append([]byte{}, wav[:36]...)
	spliced = append(spliced, list...)
	spliced = append(spliced, wav[36:]...)

	decoded, rate, channels, err := audio.DecodeWAV(spliced)
	if err != nil {
		t.Fatalf("decode with LIST chunk: %v", err)
	}
	if rate != 8000 || channels != 2 {
		t.Errorf("format: got %dHz %dch, want 8000Hz 2ch", rate, channels)
	}
	if len(decoded) != len(pcm) {
		t.Errorf("payload length: got %d, want %d", len(decoded), len(pcm))
	}
}
