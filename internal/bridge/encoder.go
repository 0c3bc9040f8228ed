package bridge

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Encoder converts a value between the MQTT and Blynk vocabularies.
//
// Encoders are pure functions of the input value and the owning entry's
// extra data. The set is closed; see LookupEncoder.
type Encoder struct {
	name       string
	toDevice   func(e *Entry, value string) string
	fromDevice func(e *Entry, value string) string
}

// Name returns the canonical encoder name.
func (c Encoder) Name() string { return c.name }

// ToDevice converts an MQTT payload into a pin value.
func (c Encoder) ToDevice(e *Entry, value string) string {
	return c.toDevice(e, value)
}

// FromDevice converts a pin value into an MQTT payload.
func (c Encoder) FromDevice(e *Entry, value string) string {
	return c.fromDevice(e, value)
}

// Canonical encoder names.
const (
	EncoderStraight       = "Straight"
	EncoderOnOff          = "OnOff"
	EncoderLed            = "Led"
	EncoderOnOffSegmented = "OnOffSegmented"
	EncoderSubOrAddOne    = "SubOrAddOne"
	EncoderTerminal       = "Terminal"
	EncoderStringMap      = "StringMap"
)

var encoders = map[string]Encoder{
	EncoderStraight: {
		name:       EncoderStraight,
		toDevice:   identity,
		fromDevice: identity,
	},
	EncoderOnOff: {
		name:       EncoderOnOff,
		toDevice:   identity,
		fromDevice: positiveAs("1"),
	},
	EncoderLed: {
		name:       EncoderLed,
		toDevice:   positiveAs("255"),
		fromDevice: positiveAs("1"),
	},
	EncoderOnOffSegmented: {
		name: EncoderOnOffSegmented,
		toDevice: func(_ *Entry, v string) string {
			if v == "1" {
				return "1"
			}
			return "2"
		},
		fromDevice: func(_ *Entry, v string) string {
			if v == "1" {
				return "1"
			}
			return "0"
		},
	},
	EncoderSubOrAddOne: {
		name:       EncoderSubOrAddOne,
		toDevice:   addInt(1),
		fromDevice: addInt(-1),
	},
	EncoderTerminal: {
		name: EncoderTerminal,
		toDevice: func(_ *Entry, v string) string {
			return strings.ReplaceAll(v, ", ", "\n") + "\n"
		},
		fromDevice: identity,
	},
	EncoderStringMap: {
		name: EncoderStringMap,
		toDevice: func(e *Entry, v string) string {
			return e.stringMap().keyFor(v)
		},
		fromDevice: func(e *Entry, v string) string {
			return e.stringMap().valueFor(v)
		},
	},
}

// legacyNames maps older configuration spellings to canonical names.
var legacyNames = map[string]string{
	"StraightType":    EncoderStraight,
	"OnOffType":       EncoderOnOff,
	"LedType":         EncoderLed,
	"TerminalType":    EncoderTerminal,
	"SubOrAddOneType": EncoderSubOrAddOne,
	"StringMapType":   EncoderStringMap,
}

// LookupEncoder resolves an encoder by canonical or legacy name.
// Names are case-sensitive.
func LookupEncoder(name string) (Encoder, error) {
	if canonical, ok := legacyNames[name]; ok {
		name = canonical
	}
	enc, ok := encoders[name]
	if !ok {
		return Encoder{}, fmt.Errorf("%w: %q (valid: %s)",
			ErrUnknownEncoder, name, strings.Join(EncoderNames(), ", "))
	}
	return enc, nil
}

// EncoderNames returns the canonical encoder names, sorted.
func EncoderNames() []string {
	names := make([]string, 0, len(encoders))
	for name := range encoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func identity(_ *Entry, v string) string { return v }

// positiveAs returns on for values numerically greater than zero, else "0".
// Unparsable values count as zero.
func positiveAs(on string) func(*Entry, string) string {
	return func(_ *Entry, v string) string {
		if parseNumber(v) > 0 {
			return on
		}
		return "0"
	}
}

// addInt shifts integer values by delta. Non-integers pass through.
func addInt(delta int64) func(*Entry, string) string {
	return func(_ *Entry, v string) string {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return v
		}
		return strconv.FormatInt(n+delta, 10)
	}
}

func parseNumber(v string) float64 {
	v = strings.ReplaceAll(strings.TrimSpace(v), ",", ".")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

// stringTable is a parsed "key=value,key=value" list, in declaration order.
type stringTable []stringPair

type stringPair struct {
	key, value string
}

// parseStringTable parses extra data such as "0=off, 1=low, 2=high".
// Pairs without "=" are skipped.
func parseStringTable(extra string) stringTable {
	var table stringTable
	for _, part := range strings.Split(extra, ",") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		table = append(table, stringPair{
			key:   strings.TrimSpace(key),
			value: strings.TrimSpace(value),
		})
	}
	return table
}

// valueFor is the forward lookup, defaulting to "0".
func (t stringTable) valueFor(key string) string {
	for _, p := range t {
		if p.key == key {
			return p.value
		}
	}
	return "0"
}

// keyFor is the reverse lookup, defaulting to "0".
func (t stringTable) keyFor(value string) string {
	for _, p := range t {
		if p.value == value {
			return p.key
		}
	}
	return "0"
}
