package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// Clients that negotiate encoding "opus" on the audio stream send 20 ms mono
// frames at the STT sample rate.
const (
	opusChannels    = 1
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = STTSampleRate * opusFrameSizeMs / 1000 // 320
)

// OpusDecoder decodes a single participant's Opus frame stream into PCM.
// Each stream needs its own decoder so codec state carries across frames.
// Not safe for concurrent use.
type OpusDecoder struct {
	dec *gopus.Decoder
}

// NewOpusDecoder creates a decoder configured for 16 kHz mono ingest audio.
func NewOpusDecoder() (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(STTSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec}, nil
}

// Decode decodes one Opus frame into interleaved PCM int16 samples and returns
// the result as a byte slice (little-endian int16 pairs).
func (d *OpusDecoder) Decode(frame []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(frame, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return Int16sToBytes(pcm), nil
}

// OpusEncoder encodes 16 kHz mono PCM into Opus frames. Not safe for
// concurrent use.
type OpusEncoder struct {
	enc *gopus.Encoder
}

// NewOpusEncoder creates an encoder matching the decoder's configuration.
func NewOpusEncoder() (*OpusEncoder, error) {
	enc, err := gopus.NewEncoder(STTSampleRate, opusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}
	return &OpusEncoder{enc: enc}, nil
}

// Encode encodes exactly one 20 ms frame of PCM (as little-endian bytes) into
// an Opus packet.
func (e *OpusEncoder) Encode(pcm []byte) ([]byte, error) {
	samples := BytesToInt16s(pcm)
	frame, err := e.enc.Encode(samples, opusFrameSize, len(pcm))
	if err != nil {
		return nil, fmt.Errorf("audio: opus encode: %w", err)
	}
	return frame, nil
}
