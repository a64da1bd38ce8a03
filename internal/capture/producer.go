// SPDX-License-Identifier: MIT
package capture

import "pvrec/internal/dsp"

// OnPCM buffers the configured channel of an interleaved PCM transfer. Calls
// outside Recording are ignored.
func (s *Session) OnPCM(samples []int16) {
	s.inflight.Add(1)
	defer s.inflight.Add(-1)

	if State(s.state.Load()) != StateRecording {
		return
	}
	s.transfers.Add(1)
	s.push(samples)
}

// OnPDM decimates a PDM transfer and buffers the configured channel. Input is
// consumed in whole decimator blocks; a trailing partial block is dropped.
// Sessions not configured for PDM count the transfer as rejected.
func (s *Session) OnPDM(bits []byte) {
	s.inflight.Add(1)
	defer s.inflight.Add(-1)

	if State(s.state.Load()) != StateRecording {
		return
	}
	if s.decim == nil {
		s.rejected.Add(1)
		return
	}
	s.transfers.Add(1)

	block := s.decim.InputBytes()
	for len(bits) >= block {
		n := s.decim.Process(bits[:block], s.scratch)
		s.push(s.scratch[:n])
		bits = bits[block:]
	}
}

// OnTransferError moves a Recording or Paused session to Faulted. Only the
// first error is kept.
func (s *Session) OnTransferError(err error) {
	s.inflight.Add(1)
	defer s.inflight.Add(-1)

	if !s.state.CompareAndSwap(int32(StateRecording), int32(StateFaulted)) &&
		!s.state.CompareAndSwap(int32(StatePaused), int32(StateFaulted)) {
		return
	}
	s.faultErr = err
	s.faultSet.Store(true)
	select {
	case s.faulted <- struct{}{}:
	default:
	}
}

// push selects the configured channel, conditions it and appends it to the
// buffer.
func (s *Session) push(samples []int16) {
	ch, stride := s.cfg.Channel, s.cfg.Channels

	if s.cfg.Mode == dsp.ModeHighPass {
		f := s.filters.Channel(ch)
		for i := ch; i < len(samples); i += stride {
			s.buf.PushSample(f.Filter(samples[i]))
		}
		return
	}

	if stride == 1 {
		s.buf.Write(samples)
		return
	}
	for i := ch; i < len(samples); i += stride {
		s.buf.PushSample(samples[i])
	}
}
