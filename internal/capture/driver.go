// SPDX-License-Identifier: MIT
package capture

// Sink receives notifications from a capture driver. Data calls arrive on the
// driver's own thread or goroutine, one at a time, and must return quickly.
// OnTransferError may come from a different goroutine, such as a watchdog.
type Sink interface {
	// OnPCM delivers interleaved PCM samples from a half or full transfer.
	// The slice is only valid for the duration of the call.
	OnPCM(samples []int16)
	// OnPDM delivers a chunk of raw PDM bitstream.
	OnPDM(bits []byte)
	// OnTransferError reports a failed transfer.
	OnTransferError(err error)
}

// Driver abstracts the hardware or host API that produces samples.
type Driver interface {
	// Start begins streaming into sink.
	Start(sink Sink) error
	// Pause suspends streaming. No sink calls may be in flight once it returns.
	Pause() error
	// Resume continues a paused stream.
	Resume() error
	// Stop halts streaming. No sink calls may be in flight once it returns.
	Stop() error
}

// Backlog is implemented by sinks that can tell a driver whether the last
// completed frame is still unread. Drivers that are free to wait, such as file
// replay, hold the next transfer until FramePending reports false.
type Backlog interface {
	FramePending() bool
}
