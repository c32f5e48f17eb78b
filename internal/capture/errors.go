package capture

import "errors"

// ErrTransport marks failures of the socket or the engine that end a session.
var ErrTransport = errors.New("capture: transport failure")

// ErrNegotiation is returned when the engine rejects the offer.
var ErrNegotiation = errors.New("capture: negotiation failed")
