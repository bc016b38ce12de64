// Package gcmerr defines the fatal error kinds of the data-exchange core.
//
// Every kind here is fatal to the step: nothing is retried, since a corrupt
// halo propagates silently into subsequent physics steps. Callers wrap the
// sentinel with fmt.Errorf("%w") so errors.Is still matches the kind.
package gcmerr

import "errors"

// Sentinel kinds. Wrap with fmt.Errorf("context: %w", Kind) at the call site.
var (
	// UnknownZone is returned when a ZoneMap lookup falls outside [0, N).
	UnknownZone = errors.New("gcm3d: unknown zone")

	// DescriptorMismatch means index-count headers disagreed between the
	// two sides of a pairing. Indicates a setup bug.
	DescriptorMismatch = errors.New("gcm3d: descriptor mismatch")

	// ProtocolDesync means a sentinel drain counter went negative or a
	// probe returned an unexpected payload size.
	ProtocolDesync = errors.New("gcm3d: protocol desync")

	// Transport wraps a single underlying transport diagnostic string.
	Transport = errors.New("gcm3d: transport error")
)

// Wrap attaches msg as context to err, preserving errors.Is against any
// sentinel err already wraps. Returns nil if err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrapped{msg: msg, cause: err}
}

type wrapped struct {
	msg   string
	cause error
}

func (w *wrapped) Error() string { return w.msg + ": " + w.cause.Error() }
func (w *wrapped) Unwrap() error { return w.cause }
