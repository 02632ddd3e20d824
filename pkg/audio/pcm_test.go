package audio_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/surajgopal85/talktor/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestRMS_Silence(t *testing.T) {
	pcm := samplesToBytes(make([]int16, 160))
	if got := audio.RMS(pcm); got != 0 {
		t.Errorf("RMS of silence: got %f, want 0", got)
	}
}

func TestRMS_ConstantAmplitude(t *testing.T) {
	// A constant-amplitude signal has RMS equal to that amplitude.
	samples := make([]int16, 320)
	for i := range samples {
		samples[i] = 1000
	}
	got := audio.RMS(samplesToBytes(samples))
	if math.Abs(got-1000) > 0.01 {
		t.Errorf("RMS of constant 1000: got %f, want 1000", got)
	}
}

func TestRMS_Empty(t *testing.T) {
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS of empty buffer: got %f, want 0", got)
	}
	if got := audio.RMS([]byte{0x01}); got != 0 {
		t.Errorf("RMS of sub-sample buffer: got %f, want 0", got)
	}
}

func TestNormalizedRMS(t *testing.T) {
	samples := make([]int16, 160)
	for i := range samples {
		samples[i] = 32767
	}
	got := audio.NormalizedRMS(samplesToBytes(samples))
	if math.Abs(got-1.0) > 0.001 {
		t.Errorf("normalized RMS of full-scale signal: got %f, want 1.0", got)
	}
}

func TestDuration(t *testing.T) {
	// 16000 samples of 16 kHz mono is exactly one second.
	pcm := make([]byte, 16000*2)
	got := audio.Duration(pcm, 16000, 1)
	if got.Seconds() != 1.0 {
		t.Errorf("duration: got %v, want 1s", got)
	}
}

func TestDuration_InvalidFormat(t *testing.T) {
	pcm := make([]byte, 3200)
	if got := audio.Duration(pcm, 0, 1); got != 0 {
		t.Errorf("duration with zero rate: got %v, want 0", got)
	}
	if got := audio.Duration(pcm, 16000, 0); got != 0 {
		t.Errorf("duration with zero channels: got %v, want 0", got)
	}
}

func TestInt16RoundTrip(t *testing.T) {
	want := []int16{0, 1, -1, 32767, -32768, 12345}
	got := audio.BytesToInt16s(audio.Int16sToBytes(want))
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestBytesToFloat32(t *testing.T) {
	pcm := samplesToBytes([]int16{0, 16384, -16384, 32767})
	got := audio.BytesToFloat32(pcm)
	if len(got) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(got))
	}
	if got[0] != 0 {
		t.Errorf("sample 0: got %f, want 0", got[0])
	}
	if math.Abs(float64(got[1])-0.5) > 0.001 {
		t.Errorf("sample 1: got %f, want 0.5", got[1])
	}
	if math.Abs(float64(got[2])+0.5) > 0.001 {
		t.Errorf("sample 2: got %f, want -0.5", got[2])
	}
	if got[3] <= 0.99 || got[3] > 1.0 {
		t.Errorf("sample 3: got %f, want just below 1.0", got[3])
	}
}
