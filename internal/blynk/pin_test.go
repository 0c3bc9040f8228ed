package blynk

import (
	"errors"
	"testing"
)

func TestParsePinPayload(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantKind   PinKind
		wantPin    int
		wantValues []string
		wantErr    bool
	}{
		{
			name:       "virtual single value",
			payload:    "vw\x005\x00123",
			wantKind:   PinVirtual,
			wantPin:    5,
			wantValues: []string{"123"},
		},
		{
			name:       "virtual multiple values keep order",
			payload:    "vw\x0010\x001\x00abc\x002.5",
			wantKind:   PinVirtual,
			wantPin:    10,
			wantValues: []string{"1", "abc", "2.5"},
		},
		{
			name:       "virtual without values",
			payload:    "vw\x007",
			wantKind:   PinVirtual,
			wantPin:    7,
			wantValues: []string{},
		},
		{
			name:       "integer canonicalised",
			payload:    "vw\x001\x00007",
			wantKind:   PinVirtual,
			wantPin:    1,
			wantValues: []string{"7"},
		},
		{
			name:       "digital on",
			payload:    "dw\x0013\x001",
			wantKind:   PinDigital,
			wantPin:    13,
			wantValues: []string{"1"},
		},
		{
			name:       "digital other number is off",
			payload:    "dw\x0013\x005",
			wantKind:   PinDigital,
			wantPin:    13,
			wantValues: []string{"0"},
		},
		{name: "empty", payload: "", wantErr: true},
		{name: "sub-type only", payload: "vw", wantErr: true},
		{name: "non-numeric pin", payload: "vw\x00x\x001", wantErr: true},
		{name: "pin out of range", payload: "vw\x00256\x001", wantErr: true},
		{name: "digital without value", payload: "dw\x001", wantErr: true},
		{name: "digital non-numeric", payload: "dw\x001\x00on", wantErr: true},
		{name: "unsupported sub-type", payload: "ar\x001", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParsePinPayload([]byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedPayload) {
					t.Errorf("ParsePinPayload() error = %v, want ErrMalformedPayload", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePinPayload() error = %v", err)
			}
			if ev.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", ev.Kind, tt.wantKind)
			}
			if ev.Pin != tt.wantPin {
				t.Errorf("Pin = %d, want %d", ev.Pin, tt.wantPin)
			}
			if len(ev.Values) != len(tt.wantValues) {
				t.Fatalf("Values = %v, want %v", ev.Values, tt.wantValues)
			}
			for i, want := range tt.wantValues {
				if got := ev.Values[i].String(); got != want {
					t.Errorf("Values[%d] = %q, want %q", i, got, want)
				}
			}
		})
	}
}

func TestParsePinValue(t *testing.T) {
	v := ParsePinValue("-42")
	if n, ok := v.Int(); !ok || n != -42 {
		t.Errorf("Int() = %d, %v; want -42, true", n, ok)
	}

	v = ParsePinValue("1.5")
	if _, ok := v.Int(); ok {
		t.Error("Int() ok = true for 1.5")
	}
	if v.String() != "1.5" {
		t.Errorf("String() = %q, want 1.5", v.String())
	}

	v = ParsePinValue("0042")
	if v.String() != "42" || v.Raw() != "0042" {
		t.Errorf("String() = %q Raw() = %q; want 42, 0042", v.String(), v.Raw())
	}

	// Out of 32-bit range stays text.
	v = ParsePinValue("99999999999")
	if _, ok := v.Int(); ok {
		t.Error("Int() ok = true for value beyond int32")
	}
}

func TestPayloadBuilders(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want string
	}{
		{"virtual write single", virtualWritePayload(5, "42"), "vw\x005\x0042"},
		{"virtual write multi", virtualWritePayload(1, 1, "a", 2.5), "vw\x001\x001\x00a\x002.5"},
		{"virtual write comma", virtualWritePayload(3, "21,5"), "vw\x003\x0021.5"},
		{"virtual write no values", virtualWritePayload(3), "vw\x003"},
		{"virtual read", virtualReadPayload(8), "vr\x008"},
		{"digital on", digitalWritePayload(13, true), "dw\x0013\x001"},
		{"digital off", digitalWritePayload(13, false), "dw\x0013\x000"},
		{"widget property", widgetPropertyPayload(4, PropLabel, "Temp"), "4\x00label\x00Temp"},
		{"bridge virtual", bridgePayload(64, virtualWritePayload(1, 9)), "64\x00vw\x001\x009"},
		{"bridge digital", bridgePayload(64, digitalWritePayload(2, true)), "64\x00dw\x002\x001"},
		{"bridge auth", bridgeAuthPayload(64, "tok"), "64\x00i\x00tok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.got) != tt.want {
				t.Errorf("payload = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestWidgetPropertyValid(t *testing.T) {
	for _, p := range []WidgetProperty{PropColor, PropLabel, PropMax, PropMin, PropOnLabel, PropOffLabel, PropIsEnabled, PropIsOnPlay} {
		if !p.Valid() {
			t.Errorf("%q.Valid() = false", p)
		}
	}
	if WidgetProperty("size").Valid() {
		t.Error(`"size".Valid() = true`)
	}
}
