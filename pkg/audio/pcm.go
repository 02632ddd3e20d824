// Package audio provides the PCM helpers shared by the ingest pipeline and the
// speech providers: energy measurement, WAV framing, sample-rate and channel
// conversion, and Opus transcoding for clients that negotiate it.
//
// All functions operate on 16-bit signed little-endian PCM unless stated
// otherwise.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	// BitsPerSample is fixed at 16 for the signed little-endian PCM used
	// throughout the pipeline.
	BitsPerSample = 16

	// MaxSampleValue is the largest magnitude a 16-bit PCM sample can carry.
	// Normalised energy levels divide by this.
	MaxSampleValue = 32767.0

	// STTSampleRate is the mono sample rate the transcription providers expect.
	STTSampleRate = 16000
)

// RMS returns the root-mean-square energy of a PCM buffer in raw sample units
// (0–32 767). Returns 0 for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// NormalizedRMS returns the RMS energy scaled into [0, 1]. Voice-activity
// thresholds are expressed against this scale.
func NormalizedRMS(pcm []byte) float64 {
	return RMS(pcm) / MaxSampleValue
}

// Duration returns the playback duration of a PCM buffer. Returns 0 for
// invalid sample rates or channel counts.
func Duration(pcm []byte, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	bytesPerSec := sampleRate * channels * (BitsPerSample / 8)
	return time.Duration(len(pcm)) * time.Second / time.Duration(bytesPerSec)
}

// Int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16s converts little-endian bytes to a slice of int16 PCM samples.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

// BytesToFloat32 converts little-endian int16 PCM to float32 samples in
// [-1, 1], the representation the whisper.cpp bindings consume.
func BytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/2)
	for i := range out {
		s := int16(b[i*2]) | int16(b[i*2+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out
}
