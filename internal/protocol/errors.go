// internal/protocol/errors.go
package protocol

import "errors"

var (
	// ErrSerialOpen is returned when a single attempt to open the device fails
	ErrSerialOpen = errors.New("serial port open failed")
	// ErrSerialFault is returned by ReadLine when the device raised an I/O fault; the handle is closed
	ErrSerialFault = errors.New("serial port fault")
	// ErrRetriesExhausted is returned when a retry profile ran out of attempts
	ErrRetriesExhausted = errors.New("retry attempts exhausted")
	// ErrLinkNotOpen is returned when an operation needs an open link
	ErrLinkNotOpen = errors.New("link not open")
	// ErrSendFailed is returned when the transport rejected an outgoing message
	ErrSendFailed = errors.New("send failed")
	// ErrSocketClosed reports that the remote closed the connection
	ErrSocketClosed = errors.New("socket closed by remote")
)
