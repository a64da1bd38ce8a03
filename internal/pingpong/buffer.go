// SPDX-License-Identifier: MIT
/*
Package pingpong implements the lossy, single-producer/single-consumer double
buffer that hands fixed-length frames of 16-bit samples from a capture callback
to a polling consumer.

Thread Safety:
  - Exactly one producer (PushSample, Write) and one consumer (GetFrame).
  - The producer owns writeSlot and fillPos; the consumer owns the consumed token.
  - The ready token is the only field the consumer reads that the producer writes,
    and it is published with an atomic store after the slot is complete.
  - Neither side blocks, allocates or takes a lock.

Frame Delivery:
  - Every completed frame is returned at most once.
  - When the producer completes a second frame before the consumer polls, the
    older frame is dropped and only the newer one is visible (overrun).
*/
package pingpong

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// NoSlot is reported by ReadySlot and LastConsumedSlot before any frame exists.
const NoSlot = -1

var (
	// ErrInvalidFrameLength is returned by New when frameLength is not positive.
	ErrInvalidFrameLength = errors.New("pingpong: frame length must be positive")
	// ErrAllocation is returned by New when the slot memory cannot be obtained.
	ErrAllocation = errors.New("pingpong: slot allocation failed")
)

// Frame is a read-only view of one completed slot. Samples alias the buffer's
// storage and stay valid until the producer completes the next frame.
type Frame struct {
	Samples []int16
	Seq     uint64 // 1-based completion number since the last Reset.
	Slot    int
}

// Buffer is the ping-pong accumulator. The zero value is not usable; use New.
type Buffer struct {
	slots       [2][]int16
	frameLength int

	// Producer-owned.
	writeSlot int
	fillPos   int
	seq       uint64

	// ready holds the token of the newest complete frame, consumed the token of
	// the last frame handed to the consumer. A token is seq<<1 | slot; 0 means none.
	ready    atomic.Uint64
	consumed atomic.Uint64

	// Diagnostics, written by the consumer only.
	delivered atomic.Uint64
	overruns  atomic.Uint64
}

// New allocates both slots for frameLength samples. The returned buffer is in
// its initial state: nothing ready, nothing consumed, filling slot 0.
func New(frameLength int) (b *Buffer, err error) {
	if frameLength <= 0 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidFrameLength, frameLength)
	}

	defer func() {
		if r := recover(); r != nil {
			b, err = nil, fmt.Errorf("%w: %v", ErrAllocation, r)
		}
	}()

	b = &Buffer{frameLength: frameLength}
	b.slots[0] = make([]int16, frameLength)
	b.slots[1] = make([]int16, frameLength)
	return b, nil
}

// FrameLength returns the fixed number of samples per frame.
func (b *Buffer) FrameLength() int {
	return b.frameLength
}

// PushSample appends one sample to the slot being filled. When the slot becomes
// full it is published as the ready frame and filling moves to the other slot.
// Producer only.
func (b *Buffer) PushSample(sample int16) {
	b.slots[b.writeSlot][b.fillPos] = sample
	b.fillPos++
	if b.fillPos == b.frameLength {
		b.publish()
	}
}

// Write appends samples in order, with the same publish semantics as calling
// PushSample for each one. Producer only.
func (b *Buffer) Write(samples []int16) {
	for len(samples) > 0 {
		n := copy(b.slots[b.writeSlot][b.fillPos:], samples)
		samples = samples[n:]
		b.fillPos += n
		if b.fillPos == b.frameLength {
			b.publish()
		}
	}
}

// publish makes the current write slot the ready frame and flips to the other
// slot. The atomic store orders the slot contents before the token.
func (b *Buffer) publish() {
	b.seq++
	b.ready.Store(b.seq<<1 | uint64(b.writeSlot))
	b.writeSlot = 1 - b.writeSlot
	b.fillPos = 0
}

// GetFrame returns the newest complete frame if it has not been returned yet.
// The second result is false when no new frame is ready; that is the normal
// outcome of polling faster than frames complete. Consumer only.
func (b *Buffer) GetFrame() (Frame, bool) {
	token := b.ready.Load()
	last := b.consumed.Load()
	if token == 0 || token == last {
		return Frame{}, false
	}
	b.consumed.Store(token)

	seq, slot := token>>1, int(token&1)
	if dropped := seq - (last >> 1) - 1; dropped > 0 {
		b.overruns.Add(dropped)
	}
	b.delivered.Add(1)

	return Frame{Samples: b.slots[slot], Seq: seq, Slot: slot}, true
}

// Pending reports whether a complete frame is waiting for the consumer. It may
// be called from either side.
func (b *Buffer) Pending() bool {
	token := b.ready.Load()
	return token != 0 && token != b.consumed.Load()
}

// Reset returns the buffer to the state New produced. It must only be called
// while neither the producer nor the consumer is running. Diagnostic counters
// are kept.
func (b *Buffer) Reset() {
	b.writeSlot = 0
	b.fillPos = 0
	b.seq = 0
	b.ready.Store(0)
	b.consumed.Store(0)
}

// WriteSlot returns the index of the slot being filled. Producer context only.
func (b *Buffer) WriteSlot() int {
	return b.writeSlot
}

// FillPosition returns the offset within the write slot. Producer context only.
func (b *Buffer) FillPosition() int {
	return b.fillPos
}

// ReadySlot returns the slot of the newest complete frame, or NoSlot.
func (b *Buffer) ReadySlot() int {
	return tokenSlot(b.ready.Load())
}

// LastConsumedSlot returns the slot last handed to the consumer, or NoSlot.
func (b *Buffer) LastConsumedSlot() int {
	return tokenSlot(b.consumed.Load())
}

// Delivered returns the number of frames returned by GetFrame.
func (b *Buffer) Delivered() uint64 {
	return b.delivered.Load()
}

// Overruns returns the number of complete frames that were replaced by a newer
// frame before the consumer saw them. The count is settled when the consumer
// next receives a frame.
func (b *Buffer) Overruns() uint64 {
	return b.overruns.Load()
}

func tokenSlot(token uint64) int {
	if token == 0 {
		return NoSlot
	}
	return int(token & 1)
}
