// SPDX-License-Identifier: MIT
package capture

import "errors"

var (
	// ErrConfiguration rejects an invalid session configuration at New.
	ErrConfiguration = errors.New("capture: invalid configuration")
	// ErrAllocation reports that buffer memory could not be obtained.
	ErrAllocation = errors.New("capture: buffer allocation failed")
	// ErrHardwareTransfer wraps a transfer error reported by the driver. The
	// session is Faulted and must be stopped and re-initialised.
	ErrHardwareTransfer = errors.New("capture: hardware transfer error")
	// ErrInvalidState is returned by a lifecycle call made from a state that
	// does not allow it.
	ErrInvalidState = errors.New("capture: invalid state for operation")
)
