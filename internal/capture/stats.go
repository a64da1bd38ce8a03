// SPDX-License-Identifier: MIT
package capture

// Stats is a point-in-time snapshot of session counters. Safe to take from any
// goroutine.
type Stats struct {
	State     State
	Delivered uint64 // frames returned by GetFrame
	Overruns  uint64 // frames replaced before the consumer saw them
	Transfers uint64 // producer callbacks accepted while recording
	Rejected  uint64 // PDM transfers received by a PCM session
	Faulted   bool
}

// Stats returns the current counters. Buffer counters survive Stop and are
// zero after Close.
func (s *Session) Stats() Stats {
	st := Stats{
		State:     s.State(),
		Transfers: s.transfers.Load(),
		Rejected:  s.rejected.Load(),
		Faulted:   s.faultSet.Load(),
	}
	if st.State != StateUninitialized {
		s.mu.Lock()
		if buf := s.buf; buf != nil {
			st.Delivered = buf.Delivered()
			st.Overruns = buf.Overruns()
		}
		s.mu.Unlock()
	}
	return st
}
