package blynk

import "errors"

// Domain-specific errors for the Blynk session.
var (
	// ErrNotConnected is returned when an operation requires a live session.
	ErrNotConnected = errors.New("blynk: not connected")

	// ErrConnectionFailed is returned when dialling or logging in fails.
	ErrConnectionFailed = errors.New("blynk: connection failed")

	// ErrLoginRejected is returned when the server answers LOGIN with a
	// non-OK status (usually an invalid token).
	ErrLoginRejected = errors.New("blynk: login rejected")

	// ErrSendFailed is returned when a frame cannot be written.
	ErrSendFailed = errors.New("blynk: send failed")

	// ErrPayloadTooLarge is returned when an outbound payload does not fit
	// the frame length field. The session stays up.
	ErrPayloadTooLarge = errors.New("blynk: payload too large")

	// ErrProtocolDesync is returned when a frame header declares a payload
	// the session cannot trust. The stream is dropped and re-established.
	ErrProtocolDesync = errors.New("blynk: protocol desync")

	// ErrMalformedPayload is returned when a pin payload cannot be decoded.
	ErrMalformedPayload = errors.New("blynk: malformed payload")

	// ErrInvalidPin is returned when a pin number is outside 0-255.
	ErrInvalidPin = errors.New("blynk: invalid pin")

	// ErrUnknownProperty is returned for widget property names the server
	// does not accept.
	ErrUnknownProperty = errors.New("blynk: unknown widget property")

	// ErrClosed is returned when the client has been closed.
	ErrClosed = errors.New("blynk: client closed")
)
