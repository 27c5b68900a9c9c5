package harvest

import (
	"errors"
	"fmt"
)

// ErrNotFound marks a missing page or record. The orchestrator treats it as
// the pagination terminator; store implementations return it for absent keys.
var ErrNotFound = errors.New("not found")

// OrphanReason is the machine-readable cause recorded on an OrphanRecord.
type OrphanReason string

const (
	ReasonBadTitle          OrphanReason = "BAD_TITLE"
	ReasonNoMetadataMatch   OrphanReason = "NO_METADATA_MATCH"
	ReasonMagnetParseFailed OrphanReason = "MAGNET_PARSE_FAILED"
	ReasonAPITimeout        OrphanReason = "API_TIMEOUT"
)

// ResolutionError is returned when the full resolution waterfall fails to
// produce a usable identity.
type ResolutionError struct {
	Reason OrphanReason
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// TransientError wraps server/network failures from provider clients so the
// retry policy can distinguish them from terminal ones (bad request, no match).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err carries a TransientError anywhere in its chain.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
