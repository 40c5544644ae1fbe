// Package speech implements the speech-to-text pipeline's
// resampling and chunk-accumulation steps (§4.8). The recognition
// engine itself is pluggable behind Recognizer: no Vosk model is
// bundled.
package speech

import (
	resampler "github.com/tphakala/go-audio-resampler"
)

// TargetChunkMS is the accumulation window before a chunk is handed
// to the recognizer (500ms, matching the source's TARGET_CHUNK_MS).
const TargetChunkMS = 500

// TargetSampleRate is the recognizer's expected input rate.
const TargetSampleRate = 16000

// Resampler converts PCM captured at an arbitrary WebRTC Opus
// decode rate down to mono 16kHz for the recognizer, wrapping the
// pack's resampler the same way the voice-assistant example wraps it
// behind a narrow interface.
type Resampler struct {
	r          *resampler.Resampler
	sourceRate int
}

// NewResampler builds a Resampler from sourceRate (typically 48000
// for WebRTC Opus) down to TargetSampleRate.
func NewResampler(sourceRate int) (*Resampler, error) {
	r, err := resampler.New(sourceRate, TargetSampleRate, 1)
	if err != nil {
		return nil, err
	}
	return &Resampler{r: r, sourceRate: sourceRate}, nil
}

// Resample converts one block of mono PCM samples at sourceRate to
// mono PCM at TargetSampleRate.
func (rs *Resampler) Resample(pcm []int16) ([]int16, error) {
	return rs.r.Process(pcm)
}

// Accumulator buffers resampled mono 16kHz PCM until it has at least
// one TargetChunkMS-worth of samples, then hands it to the
// recognizer (§4.8).
type Accumulator struct {
	buf          []int16
	samplesPerCh int
}

// NewAccumulator returns an empty Accumulator sized for
// TargetChunkMS at TargetSampleRate.
func NewAccumulator() *Accumulator {
	return &Accumulator{samplesPerCh: TargetSampleRate * TargetChunkMS / 1000}
}

// Append adds resampled PCM and reports whether a full chunk is now
// ready via Take.
func (a *Accumulator) Append(pcm []int16) bool {
	a.buf = append(a.buf, pcm...)
	return len(a.buf) >= a.samplesPerCh
}

// Take removes and returns exactly one chunk's worth of samples,
// retaining any remainder for the next chunk.
func (a *Accumulator) Take() []int16 {
	if len(a.buf) < a.samplesPerCh {
		return nil
	}
	chunk := make([]int16, a.samplesPerCh)
	copy(chunk, a.buf[:a.samplesPerCh])
	a.buf = a.buf[a.samplesPerCh:]
	return chunk
}

// Recognizer is the speech-to-text engine's inference surface.
type Recognizer interface {
	Recognize(pcm16kHzMono []int16) (text string, err error)
}
