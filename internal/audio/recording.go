// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Recorder writes delivered frames to a 16-bit mono WAV file. It runs on the
// consumer side; Write must not be called concurrently with Start or Stop.
type Recorder struct {
	sampleRate  int
	frameLength int

	isRecording int32 // Atomic flag for thread-safe state
	outputFile  *os.File
	wavEncoder  *wav.Encoder
	sampleBuf   *audio.IntBuffer // Reusable buffer for format conversion
	frames      atomic.Uint64
}

// NewRecorder sizes the conversion buffer for frames of frameLength samples.
func NewRecorder(sampleRate, frameLength int) *Recorder {
	return &Recorder{sampleRate: sampleRate, frameLength: frameLength}
}

func (r *Recorder) StartRecording(filename string) error {
	if atomic.LoadInt32(&r.isRecording) == 1 {
		return fmt.Errorf("already recording")
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	r.outputFile = file

	r.wavEncoder = wav.NewEncoder(file, r.sampleRate, 16, 1, 1)

	r.sampleBuf = &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  r.sampleRate,
		},
		Data:           make([]int, r.frameLength),
		SourceBitDepth: 16,
	}
	r.frames.Store(0)

	atomic.StoreInt32(&r.isRecording, 1)

	return nil
}

// Recording reports whether frames are being written.
func (r *Recorder) Recording() bool {
	return atomic.LoadInt32(&r.isRecording) == 1
}

// Frames returns the number of frames written since StartRecording.
func (r *Recorder) Frames() uint64 {
	return r.frames.Load()
}

// Write appends one frame. It is a no-op when not recording.
func (r *Recorder) Write(samples []int16) error {
	if atomic.LoadInt32(&r.isRecording) == 0 || r.wavEncoder == nil {
		return nil
	}

	if cap(r.sampleBuf.Data) < len(samples) {
		r.sampleBuf.Data = make([]int, len(samples))
	}
	r.sampleBuf.Data = r.sampleBuf.Data[:len(samples)]
	for i, sample := range samples {
		r.sampleBuf.Data[i] = int(sample)
	}

	if err := r.wavEncoder.Write(r.sampleBuf); err != nil {
		return fmt.Errorf("writing WAV frame: %w", err)
	}
	r.frames.Add(1)
	return nil
}

func (r *Recorder) StopRecording() error {
	if atomic.LoadInt32(&r.isRecording) == 0 {
		return nil
	}

	atomic.StoreInt32(&r.isRecording, 0)

	if r.wavEncoder != nil {
		if err := r.wavEncoder.Close(); err != nil {
			return err
		}
		r.wavEncoder = nil
	}

	if r.outputFile != nil {
		if err := r.outputFile.Close(); err != nil {
			return err
		}
		r.outputFile = nil
	}

	return nil
}
