package blynk

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Command is the first byte of every Blynk frame.
type Command uint8

// Blynk command codes. The numeric values are fixed by the server.
const (
	CmdResponse             Command = 0
	CmdRegister             Command = 1
	CmdLogin                Command = 2
	CmdSaveProfile          Command = 3
	CmdLoadProfile          Command = 4
	CmdGetToken             Command = 5
	CmdPing                 Command = 6
	CmdActivate             Command = 7
	CmdDeactivate           Command = 8
	CmdRefresh              Command = 9
	CmdGetGraphData         Command = 10
	CmdGetGraphDataResponse Command = 11
	CmdTweet                Command = 12
	CmdEmail                Command = 13
	CmdNotify               Command = 14
	CmdBridge               Command = 15
	CmdHardwareSync         Command = 16
	CmdInternal             Command = 17
	CmdSMS                  Command = 18
	CmdSetWidgetProperty    Command = 19
	CmdHardware             Command = 20
	CmdRedirect             Command = 41
	CmdDebugPrint           Command = 55
)

var commandNames = map[Command]string{
	CmdResponse:             "RESPONSE",
	CmdRegister:             "REGISTER",
	CmdLogin:                "LOGIN",
	CmdSaveProfile:          "SAVE_PROF",
	CmdLoadProfile:          "LOAD_PROF",
	CmdGetToken:             "GET_TOKEN",
	CmdPing:                 "PING",
	CmdActivate:             "ACTIVATE",
	CmdDeactivate:           "DEACTIVATE",
	CmdRefresh:              "REFRESH",
	CmdGetGraphData:         "GET_GRAPH_DATA",
	CmdGetGraphDataResponse: "GET_GRAPH_DATA_RESPONSE",
	CmdTweet:                "TWEET",
	CmdEmail:                "EMAIL",
	CmdNotify:               "NOTIFY",
	CmdBridge:               "BRIDGE",
	CmdHardwareSync:         "HARDWARE_SYNC",
	CmdInternal:             "INTERNAL",
	CmdSMS:                  "SMS",
	CmdSetWidgetProperty:    "SET_WIDGET_PROPERTY",
	CmdHardware:             "HARDWARE",
	CmdRedirect:             "REDIRECT",
	CmdDebugPrint:           "DEBUG_PRINT",
}

// String returns the protocol name of the command.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(c))
}

// Known reports whether c is part of the command enumeration.
func (c Command) Known() bool {
	_, ok := commandNames[c]
	return ok
}

// Status is the code carried by a RESPONSE frame in place of the length.
type Status uint16

// Response status codes.
const (
	StatusQuotaLimit          Status = 1
	StatusIllegalCommand      Status = 2
	StatusNotRegistered       Status = 3
	StatusAlreadyRegistered   Status = 4
	StatusNotAuthenticated    Status = 5
	StatusNotAllowed          Status = 6
	StatusDeviceNotInNetwork  Status = 7
	StatusNoActiveDashboard   Status = 8
	StatusInvalidToken        Status = 9
	StatusIllegalCommandBody  Status = 11
	StatusTimeout             Status = 16
	StatusNoData              Status = 17
	StatusDeviceWentOffline   Status = 18
	StatusServerException     Status = 19
	StatusNotSupportedVersion Status = 20
	StatusEnergyLimit         Status = 21
	StatusOK                  Status = 200
)

// String returns a readable status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusIllegalCommand:
		return "ILLEGAL_COMMAND"
	case StatusNotAuthenticated:
		return "NOT_AUTHENTICATED"
	case StatusInvalidToken:
		return "INVALID_TOKEN"
	case StatusIllegalCommandBody:
		return "ILLEGAL_COMMAND_BODY"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusServerException:
		return "SERVER_EXCEPTION"
	default:
		return fmt.Sprintf("STATUS(%d)", uint16(s))
	}
}

// HeaderSize is the fixed size of a frame header:
// command(1) + message id(2) + length or status(2).
const HeaderSize = 5

// DefaultMaxPayload is the largest payload accepted from the server unless
// configured otherwise.
const DefaultMaxPayload = 1024

// MaxWirePayload is the largest payload the 16-bit length field can carry.
const MaxWirePayload = math.MaxUint16

// Frame is one decoded protocol message.
//
// For CmdResponse the header's length field carries Status and the frame
// has no payload.
type Frame struct {
	Command Command
	ID      uint16
	Status  Status
	Payload []byte
}

// Encode serialises the frame into wire format. Payloads longer than
// MaxWirePayload must be rejected before encoding.
func (f Frame) Encode() []byte {
	if f.Command == CmdResponse {
		buf := make([]byte, HeaderSize)
		buf[0] = byte(f.Command)
		binary.BigEndian.PutUint16(buf[1:3], f.ID)
		binary.BigEndian.PutUint16(buf[3:5], uint16(f.Status))
		return buf
	}

	buf := make([]byte, HeaderSize+len(f.Payload))
	buf[0] = byte(f.Command)
	binary.BigEndian.PutUint16(buf[1:3], f.ID)
	binary.BigEndian.PutUint16(buf[3:5], uint16(len(f.Payload)))
	copy(buf[HeaderSize:], f.Payload)
	return buf
}

// Decoder accumulates bytes from the stream and yields complete frames.
// A frame split across reads stays buffered until the rest arrives.
//
// Decoder is not safe for concurrent use; the receive loop owns it.
type Decoder struct {
	buf        []byte
	maxPayload int
}

// NewDecoder creates a Decoder rejecting payloads larger than maxPayload.
// A non-positive maxPayload selects DefaultMaxPayload.
func NewDecoder(maxPayload int) *Decoder {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Decoder{
		buf:        make([]byte, 0, HeaderSize+maxPayload),
		maxPayload: maxPayload,
	}
}

// Feed appends freshly read bytes to the accumulator.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next extracts one complete frame.
//
// It returns ok=false when more bytes are needed. A declared payload larger
// than the configured maximum returns ErrProtocolDesync; the caller must
// drop the connection because the next frame boundary is unknown.
func (d *Decoder) Next() (Frame, bool, error) {
	if len(d.buf) < HeaderSize {
		return Frame{}, false, nil
	}

	cmd := Command(d.buf[0])
	id := binary.BigEndian.Uint16(d.buf[1:3])
	field := binary.BigEndian.Uint16(d.buf[3:5])

	if cmd == CmdResponse {
		d.consume(HeaderSize)
		return Frame{Command: cmd, ID: id, Status: Status(field)}, true, nil
	}

	length := int(field)
	if length > d.maxPayload {
		return Frame{}, false, fmt.Errorf("%w: %s declares %d bytes (max %d)",
			ErrProtocolDesync, cmd, length, d.maxPayload)
	}

	total := HeaderSize + length
	if len(d.buf) < total {
		return Frame{}, false, nil
	}

	payload := make([]byte, length)
	copy(payload, d.buf[HeaderSize:total])
	d.consume(total)

	return Frame{Command: cmd, ID: id, Payload: payload}, true, nil
}

// Buffered returns the number of bytes waiting for a complete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset discards any buffered bytes.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

func (d *Decoder) consume(n int) {
	remaining := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:remaining]
}
