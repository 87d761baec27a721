package call

import (
	"errors"

	"github.com/BioHazard786/roomcall/internal/callerr"
)

var (
	ErrConnection        = callerr.ErrConnection
	ErrMediaAcquisition  = callerr.ErrMediaAcquisition
	ErrNegotiation       = callerr.ErrNegotiation
	ErrStateConflict     = callerr.ErrStateConflict
	ErrRelayDisconnected = callerr.ErrRelayDisconnected
	ErrTransportFailed   = callerr.ErrTransportFailed
	ErrEmptyMessage      = callerr.ErrEmptyMessage
)

// Error is the wrapper every call error is reported in.
type Error = callerr.Error

// classify makes sure err matches sentinel, wrapping it when a lower layer
// returned something else.
func classify(op string, sentinel, err error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return callerr.Join(op, sentinel, err)
}
