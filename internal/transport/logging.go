// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"

	"pvrec/internal/log"
)

// LoggingTransport implements the Transport interface by writing events to
// the debug log as JSON.
type LoggingTransport struct{}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	log.Infof("transport: using LoggingTransport")
	return &LoggingTransport{}
}

// Send logs the event. Marshal failures are returned so misuse shows up in
// tests; a running pipeline only logs them.
func (lt *LoggingTransport) Send(data any) error {
	if log.GetLevel() > log.LevelDebug {
		return nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	log.Debugf("transport: %s", b)
	return nil
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
