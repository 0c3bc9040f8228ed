package bridge

import (
	"errors"
	"testing"
)

func mustEncoder(t *testing.T, name string) Encoder {
	t.Helper()
	enc, err := LookupEncoder(name)
	if err != nil {
		t.Fatalf("LookupEncoder(%q) error = %v", name, err)
	}
	return enc
}

func TestEncoders(t *testing.T) {
	tests := []struct {
		encoder  string
		extra    string
		toDevice bool
		in       string
		want     string
	}{
		{EncoderStraight, "", true, "abc", "abc"},
		{EncoderStraight, "", false, "21.5", "21.5"},

		{EncoderOnOff, "", true, "whatever", "whatever"},
		{EncoderOnOff, "", false, "1", "1"},
		{EncoderOnOff, "", false, "0.1", "1"},
		{EncoderOnOff, "", false, "0", "0"},
		{EncoderOnOff, "", false, "-3", "0"},
		{EncoderOnOff, "", false, "on", "0"},

		{EncoderLed, "", true, "0.5", "255"},
		{EncoderLed, "", true, "0", "0"},
		{EncoderLed, "", true, "-1", "0"},
		{EncoderLed, "", true, "garbage", "0"},
		{EncoderLed, "", false, "255", "1"},
		{EncoderLed, "", false, "0", "0"},

		{EncoderOnOffSegmented, "", true, "1", "1"},
		{EncoderOnOffSegmented, "", true, "anything-else", "2"},
		{EncoderOnOffSegmented, "", true, "0", "2"},
		{EncoderOnOffSegmented, "", false, "1", "1"},
		{EncoderOnOffSegmented, "", false, "0", "0"},
		{EncoderOnOffSegmented, "", false, "2", "0"},

		{EncoderSubOrAddOne, "", true, "4", "5"},
		{EncoderSubOrAddOne, "", false, "5", "4"},
		{EncoderSubOrAddOne, "", true, "-1", "0"},
		{EncoderSubOrAddOne, "", true, "x", "x"},
		{EncoderSubOrAddOne, "", false, "1.5", "1.5"},

		{EncoderTerminal, "", true, "a, b, c", "a\nb\nc\n"},
		{EncoderTerminal, "", true, "", "\n"},
		{EncoderTerminal, "", false, "typed", "typed"},

		{EncoderStringMap, "0=off, 1=low, 2=high", true, "low", "1"},
		{EncoderStringMap, "0=off, 1=low, 2=high", true, "missing", "0"},
		{EncoderStringMap, "0=off, 1=low, 2=high", false, "2", "high"},
		{EncoderStringMap, "0=off, 1=low, 2=high", false, "9", "0"},
		{EncoderStringMap, "", false, "1", "0"},
	}

	for _, tt := range tests {
		dir := "fromDevice"
		if tt.toDevice {
			dir = "toDevice"
		}
		t.Run(tt.encoder+"/"+dir+"/"+tt.in, func(t *testing.T) {
			enc := mustEncoder(t, tt.encoder)
			e := &Entry{Encoder: enc, ExtraData: tt.extra}

			var got string
			if tt.toDevice {
				got = enc.ToDevice(e, tt.in)
			} else {
				got = enc.FromDevice(e, tt.in)
			}
			if got != tt.want {
				t.Errorf("%s.%s(%q) = %q, want %q", tt.encoder, dir, tt.in, got, tt.want)
			}
		})
	}
}

func TestEncoderRoundTrip(t *testing.T) {
	tests := []struct {
		encoder string
		extra   string
		device  []string
		pubsub  []string
	}{
		{EncoderStraight, "", []string{"", "0", "21.5"}, []string{"hello", "-1"}},
		{EncoderSubOrAddOne, "", []string{"0", "5", "-7"}, []string{"4", "1000"}},
		{EncoderStringMap, "0=off,1=low,2=high", []string{"0", "1", "2"}, []string{"off", "low", "high"}},
	}

	for _, tt := range tests {
		t.Run(tt.encoder, func(t *testing.T) {
			enc := mustEncoder(t, tt.encoder)
			e := &Entry{Encoder: enc, ExtraData: tt.extra}

			for _, v := range tt.device {
				if got := enc.ToDevice(e, enc.FromDevice(e, v)); got != v {
					t.Errorf("toDevice(fromDevice(%q)) = %q", v, got)
				}
			}
			for _, v := range tt.pubsub {
				if got := enc.FromDevice(e, enc.ToDevice(e, v)); got != v {
					t.Errorf("fromDevice(toDevice(%q)) = %q", v, got)
				}
			}
		})
	}
}

func TestLookupEncoder(t *testing.T) {
	legacy := map[string]string{
		"StraightType":    EncoderStraight,
		"OnOffType":       EncoderOnOff,
		"LedType":         EncoderLed,
		"TerminalType":    EncoderTerminal,
		"SubOrAddOneType": EncoderSubOrAddOne,
		"StringMapType":   EncoderStringMap,
	}
	for name, want := range legacy {
		if got := mustEncoder(t, name).Name(); got != want {
			t.Errorf("LookupEncoder(%q).Name() = %q, want %q", name, got, want)
		}
	}

	for _, name := range EncoderNames() {
		if got := mustEncoder(t, name).Name(); got != name {
			t.Errorf("LookupEncoder(%q).Name() = %q", name, got)
		}
	}

	for _, name := range []string{"", "straight", "Dimmer", "OnOffSegmentedType"} {
		if _, err := LookupEncoder(name); !errors.Is(err, ErrUnknownEncoder) {
			t.Errorf("LookupEncoder(%q) error = %v, want ErrUnknownEncoder", name, err)
		}
	}
}

func TestParseStringTable(t *testing.T) {
	table := parseStringTable(" a = 1 ,broken, b=2,c=")
	want := stringTable{{"a", "1"}, {"b", "2"}, {"c", ""}}
	if len(table) != len(want) {
		t.Fatalf("parseStringTable() = %v, want %v", table, want)
	}
	for i := range want {
		if table[i] != want[i] {
			t.Errorf("pair %d = %v, want %v", i, table[i], want[i])
		}
	}

	// First declaration wins both ways.
	dup := parseStringTable("1=on,2=on,1=off")
	if got := dup.keyFor("on"); got != "1" {
		t.Errorf("keyFor(on) = %q, want 1", got)
	}
	if got := dup.valueFor("1"); got != "on" {
		t.Errorf("valueFor(1) = %q, want on", got)
	}
}
