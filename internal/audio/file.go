// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pvrec/internal/capture"
	"pvrec/internal/log"

	"github.com/go-audio/wav"
	mp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

var (
	ErrUnsupportedFormat = errors.New("audio: unsupported file format")
	ErrEmptyRecording    = errors.New("audio: recording holds no samples")
)

// FileOptions controls how a recording is replayed.
type FileOptions struct {
	// ChunkFrames is the number of sample frames (PCM) or bytes per channel
	// (PDM) handed to the sink per transfer.
	ChunkFrames int
	// Realtime paces transfers at the recording's sample rate. Otherwise, when
	// the sink is a capture.Backlog, each transfer waits until the previous
	// frame has been read, so ChunkFrames must not exceed the frame length.
	Realtime bool
	// Loop restarts from the beginning at end of file.
	Loop bool
	// PDMChannels and PDMRate describe raw .pdm files, which carry no header.
	PDMChannels int
	PDMRate     int
}

// backlogPoll is how often a fast replay rechecks an unread frame.
const backlogPoll = 200 * time.Microsecond

// FileDriver replays a decoded recording through a capture.Sink. WAV and MP3
// files are delivered as PCM, .pdm files as raw bitstream.
type FileDriver struct {
	path       string
	opts       FileOptions
	sampleRate int
	channels   int
	pcm        []int16
	pdm        []byte

	mu     sync.Mutex // held for the duration of every sink call
	paused bool
	resume chan struct{}
	quit   chan struct{}
	done   chan struct{}
}

var _ capture.Driver = (*FileDriver)(nil)

// OpenFile decodes the recording at path into memory.
func OpenFile(path string, opts FileOptions) (*FileDriver, error) {
	if opts.ChunkFrames <= 0 {
		opts.ChunkFrames = 256
	}
	d := &FileDriver{path: path, opts: opts}

	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		err = d.decodeWAV()
	case ".mp3":
		err = d.decodeMP3()
	case ".ogg":
		err = d.decodeOgg()
	case ".pdm", ".raw":
		err = d.loadPDM()
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	if len(d.pcm) == 0 && len(d.pdm) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyRecording, path)
	}

	log.Debugf("audio: loaded %s (%d Hz, %d channel(s), pdm=%v)", path, d.sampleRate, d.channels, d.IsPDM())
	return d, nil
}

// SampleRate is the recording's rate: PCM samples or PDM bits per second.
func (d *FileDriver) SampleRate() int { return d.sampleRate }

// Channels is the number of interleaved channels in the recording.
func (d *FileDriver) Channels() int { return d.channels }

// IsPDM reports whether transfers carry PDM bitstream.
func (d *FileDriver) IsPDM() bool { return d.pdm != nil }

// Duration is the playing time of one pass through the recording.
func (d *FileDriver) Duration() time.Duration {
	if d.IsPDM() {
		bits := len(d.pdm) / d.channels * 8
		return time.Duration(bits) * time.Second / time.Duration(d.sampleRate)
	}
	return time.Duration(len(d.pcm)/d.channels) * time.Second / time.Duration(d.sampleRate)
}

func (d *FileDriver) decodeWAV() error {
	f, err := os.Open(d.path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return fmt.Errorf("%w: invalid WAV file %s", ErrUnsupportedFormat, d.path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return fmt.Errorf("decoding %s: %w", d.path, err)
	}

	d.sampleRate = int(dec.SampleRate)
	d.channels = int(dec.NumChans)
	d.pcm = make([]int16, len(buf.Data))
	shift := int(dec.BitDepth) - 16
	for i, v := range buf.Data {
		switch {
		case dec.BitDepth == 8:
			d.pcm[i] = int16((v - 128) << 8)
		case shift > 0:
			d.pcm[i] = int16(v >> shift)
		default:
			d.pcm[i] = int16(v)
		}
	}
	return nil
}

func (d *FileDriver) decodeMP3() error {
	f, err := os.Open(d.path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", d.path, err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", d.path, err)
	}

	// go-mp3 always produces 16-bit little-endian stereo.
	d.sampleRate = dec.SampleRate()
	d.channels = 2
	d.pcm = make([]int16, len(raw)/2)
	for i := range d.pcm {
		d.pcm[i] = int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
	}
	return nil
}

func (d *FileDriver) decodeOgg() error {
	f, err := os.Open(d.path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := oggvorbis.NewReader(f)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", d.path, err)
	}
	d.sampleRate = dec.SampleRate()
	d.channels = dec.Channels()

	buf := make([]float32, 4096*d.channels)
	for {
		n, err := dec.Read(buf)
		for _, v := range buf[:n] {
			d.pcm = append(d.pcm, floatToInt16(v))
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("decoding %s: %w", d.path, err)
		}
	}
}

func floatToInt16(v float32) int16 {
	switch {
	case v >= 1:
		return 32767
	case v <= -1:
		return -32768
	}
	return int16(v * 32767)
}

func (d *FileDriver) loadPDM() error {
	if d.opts.PDMChannels <= 0 || d.opts.PDMRate <= 0 {
		return fmt.Errorf("%w: raw PDM needs channel count and bit rate", ErrUnsupportedFormat)
	}
	raw, err := os.ReadFile(d.path)
	if err != nil {
		return err
	}
	d.pdm = raw
	d.sampleRate = d.opts.PDMRate
	d.channels = d.opts.PDMChannels
	return nil
}

// chunkPeriod is the playing time of one transfer.
func (d *FileDriver) chunkPeriod() time.Duration {
	units := time.Duration(d.opts.ChunkFrames)
	if d.IsPDM() {
		units *= 8
	}
	return units * time.Second / time.Duration(d.sampleRate)
}

func (d *FileDriver) Start(sink capture.Sink) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.quit != nil {
		return fmt.Errorf("audio: replay of %s already running", d.path)
	}
	d.paused = false
	d.resume = make(chan struct{}, 1)
	d.quit = make(chan struct{})
	d.done = make(chan struct{})
	go d.run(sink, d.quit, d.done)
	return nil
}

func (d *FileDriver) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = true
	return nil
}

func (d *FileDriver) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = false
	select {
	case d.resume <- struct{}{}:
	default:
	}
	return nil
}

func (d *FileDriver) Stop() error {
	d.mu.Lock()
	quit, done := d.quit, d.done
	d.quit = nil
	d.mu.Unlock()
	if quit == nil {
		return nil
	}
	close(quit)
	<-done
	return nil
}

// Done is closed when a non-looping replay reaches the end of the file or
// the driver is stopped. It is nil before Start.
func (d *FileDriver) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

func (d *FileDriver) run(sink capture.Sink, quit, done chan struct{}) {
	defer close(done)

	var tick, poll <-chan time.Time
	backlog, _ := sink.(capture.Backlog)
	switch {
	case d.opts.Realtime:
		t := time.NewTicker(d.chunkPeriod())
		defer t.Stop()
		tick = t.C
	case backlog != nil:
		t := time.NewTicker(backlogPoll)
		defer t.Stop()
		poll = t.C
	}

	pos := 0
	for {
		if tick != nil {
			select {
			case <-quit:
				return
			case <-tick:
			}
		} else {
			select {
			case <-quit:
				return
			default:
			}
			for backlog != nil && backlog.FramePending() {
				select {
				case <-quit:
					return
				case <-poll:
				}
			}
		}

		d.mu.Lock()
		for d.paused {
			d.mu.Unlock()
			select {
			case <-quit:
				return
			case <-d.resume:
			}
			d.mu.Lock()
		}
		next, more := d.deliver(sink, pos)
		d.mu.Unlock()

		if !more {
			log.Debugf("audio: replay of %s finished", d.path)
			return
		}
		pos = next
	}
}

// deliver hands the chunk at pos to the sink and returns the next position.
func (d *FileDriver) deliver(sink capture.Sink, pos int) (int, bool) {
	step := d.opts.ChunkFrames * d.channels
	total := len(d.pcm)
	if d.IsPDM() {
		total = len(d.pdm)
	}

	if pos >= total {
		if !d.opts.Loop {
			return pos, false
		}
		pos = 0
	}
	end := min(pos+step, total)
	if d.IsPDM() {
		sink.OnPDM(d.pdm[pos:end])
	} else {
		sink.OnPCM(d.pcm[pos:end])
	}
	return end, true
}
