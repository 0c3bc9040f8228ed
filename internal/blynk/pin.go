package blynk

import (
	"fmt"
	"strconv"
	"strings"
)

// Pin bounds accepted by the server.
const (
	MinPin = 0
	MaxPin = 255
)

// fieldSep separates payload fields.
const fieldSep = "\x00"

// PinKind distinguishes virtual from digital pin traffic.
type PinKind uint8

// Pin kinds carried by HARDWARE and BRIDGE payloads.
const (
	PinVirtual PinKind = iota + 1
	PinDigital
)

// String returns "virtual" or "digital".
func (k PinKind) String() string {
	switch k {
	case PinVirtual:
		return "virtual"
	case PinDigital:
		return "digital"
	default:
		return "unknown"
	}
}

// PinValue is one value field of a pin payload. Fields that parse as a
// 32-bit integer keep their numeric form; everything else stays text.
type PinValue struct {
	text  string
	n     int64
	isInt bool
}

// ParsePinValue classifies a raw payload field.
func ParsePinValue(s string) PinValue {
	if n, err := strconv.ParseInt(s, 10, 32); err == nil {
		return PinValue{text: s, n: n, isInt: true}
	}
	return PinValue{text: s}
}

// Int returns the numeric value and whether the field was an integer.
func (v PinValue) Int() (int64, bool) {
	return v.n, v.isInt
}

// String returns the textual form. Integers are rendered canonically, so
// "007" becomes "7".
func (v PinValue) String() string {
	if v.isInt {
		return strconv.FormatInt(v.n, 10)
	}
	return v.text
}

// Raw returns the field exactly as received.
func (v PinValue) Raw() string {
	return v.text
}

// PinEvent is a pin update pushed by the server.
type PinEvent struct {
	Kind   PinKind
	Pin    int
	Values []PinValue
}

// First returns the first value of the event, if any.
func (e PinEvent) First() (PinValue, bool) {
	if len(e.Values) == 0 {
		return PinValue{}, false
	}
	return e.Values[0], true
}

// ParsePinPayload decodes a HARDWARE or BRIDGE payload:
//
//	vw\0<pin>\0<value>[\0<value>...]   virtual pin update
//	dw\0<pin>\0<0|1>                   digital pin update
//
// Digital values are normalised to "1" or "0".
func ParsePinPayload(payload []byte) (PinEvent, error) {
	fields := strings.Split(string(payload), fieldSep)
	if len(fields) < 2 {
		return PinEvent{}, fmt.Errorf("%w: %d field(s)", ErrMalformedPayload, len(fields))
	}

	pin, err := parsePin(fields[1])
	if err != nil {
		return PinEvent{}, err
	}

	switch fields[0] {
	case "vw":
		values := make([]PinValue, 0, len(fields)-2)
		for _, f := range fields[2:] {
			values = append(values, ParsePinValue(f))
		}
		return PinEvent{Kind: PinVirtual, Pin: pin, Values: values}, nil

	case "dw":
		if len(fields) < 3 {
			return PinEvent{}, fmt.Errorf("%w: digital write without value", ErrMalformedPayload)
		}
		n, err := strconv.Atoi(fields[2])
		if err != nil {
			return PinEvent{}, fmt.Errorf("%w: digital value %q", ErrMalformedPayload, fields[2])
		}
		state := "0"
		if n == 1 {
			state = "1"
		}
		return PinEvent{Kind: PinDigital, Pin: pin, Values: []PinValue{ParsePinValue(state)}}, nil

	default:
		return PinEvent{}, fmt.Errorf("%w: unsupported sub-type %q", ErrMalformedPayload, fields[0])
	}
}

func parsePin(s string) (int, error) {
	pin, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %w: %q", ErrMalformedPayload, ErrInvalidPin, s)
	}
	if err := validatePin(pin); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return pin, nil
}

func validatePin(pin int) error {
	if pin < MinPin || pin > MaxPin {
		return fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	return nil
}

// formatValue renders a value for the wire. Commas become decimal points so
// locale-formatted numbers are understood by the server.
func formatValue(v any) string {
	return strings.ReplaceAll(fmt.Sprint(v), ",", ".")
}

func joinFields(fields ...string) []byte {
	return []byte(strings.Join(fields, fieldSep))
}

// virtualWritePayload builds "vw\0pin\0v1\0v2...". The last value carries no
// trailing separator.
func virtualWritePayload(pin int, values ...any) []byte {
	fields := make([]string, 0, 2+len(values))
	fields = append(fields, "vw", strconv.Itoa(pin))
	for _, v := range values {
		fields = append(fields, formatValue(v))
	}
	return joinFields(fields...)
}

func virtualReadPayload(pin int) []byte {
	return joinFields("vr", strconv.Itoa(pin))
}

func digitalWritePayload(pin int, on bool) []byte {
	return joinFields("dw", strconv.Itoa(pin), boolField(on))
}

func widgetPropertyPayload(pin int, property WidgetProperty, value any) []byte {
	return joinFields(strconv.Itoa(pin), string(property), fmt.Sprint(value))
}

// bridgePayload prefixes an inner command with the bridge channel.
func bridgePayload(target int, inner []byte) []byte {
	prefix := strconv.Itoa(target) + fieldSep
	out := make([]byte, 0, len(prefix)+len(inner))
	out = append(out, prefix...)
	return append(out, inner...)
}

func bridgeAuthPayload(target int, token string) []byte {
	return joinFields(strconv.Itoa(target), "i", token)
}

func boolField(on bool) string {
	if on {
		return "1"
	}
	return "0"
}

// WidgetProperty names a property accepted by SET_WIDGET_PROPERTY.
type WidgetProperty string

// Widget properties understood by the server.
const (
	PropColor     WidgetProperty = "color"
	PropLabel     WidgetProperty = "label"
	PropMax       WidgetProperty = "max"
	PropMin       WidgetProperty = "min"
	PropOnLabel   WidgetProperty = "onLabel"
	PropOffLabel  WidgetProperty = "offLabel"
	PropIsEnabled WidgetProperty = "isEnabled"
	PropIsOnPlay  WidgetProperty = "isOnPlay"
)

// Valid reports whether p is one of the known widget properties.
func (p WidgetProperty) Valid() bool {
	switch p {
	case PropColor, PropLabel, PropMax, PropMin,
		PropOnLabel, PropOffLabel, PropIsEnabled, PropIsOnPlay:
		return true
	default:
		return false
	}
}
