// SPDX-License-Identifier: MIT
package utils

import "sync"

// MockTransport records everything sent through it instead of transmitting.
// It satisfies transport.Transport and is safe for concurrent use.
type MockTransport struct {
	mu     sync.Mutex
	events []any
	closed bool

	// SendErr, when set, is returned by every Send and nothing is recorded.
	SendErr error
}

// Send stores data for later inspection.
func (m *MockTransport) Send(data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.events = append(m.events, data)
	return nil
}

// Close marks the transport closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Events returns a copy of everything sent so far.
func (m *MockTransport) Events() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.events...)
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
