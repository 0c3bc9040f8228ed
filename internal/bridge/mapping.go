package bridge

import (
	"fmt"
	"strings"

	"github.com/cziter15/BlynkMqttBridge/internal/infrastructure/config"
)

// Entry is one topic ⇄ pin mapping. Entries are immutable once placed in a
// Table.
type Entry struct {
	// Topic is subscribed to and used for replies unless ReplyTopic is set.
	Topic string

	// ReplyTopic overrides the outbound topic.
	ReplyTopic string

	// Pin is the Blynk virtual pin.
	Pin int

	Encoder   Encoder
	ExtraData string

	// Ack writes the untransformed value back to the pin after each update.
	Ack bool

	// SuppressRetain publishes without the retain flag.
	SuppressRetain bool

	lookup stringTable
}

// OutTopic returns the topic outbound values are published on.
func (e *Entry) OutTopic() string {
	if e.ReplyTopic != "" {
		return e.ReplyTopic
	}
	return e.Topic
}

func (e *Entry) stringMap() stringTable {
	if e.lookup != nil {
		return e.lookup
	}
	return parseStringTable(e.ExtraData)
}

// Table is the read-only mapping table. Lookups never lock.
type Table struct {
	entries []*Entry
	byTopic map[string]*Entry
	byPin   map[int]*Entry
	listen  []string
}

// NewTable builds a table from entries. When two entries share a topic or a
// pin, the one declared first wins that lookup.
func NewTable(entries []Entry) (*Table, error) {
	t := &Table{
		entries: make([]*Entry, 0, len(entries)),
		byTopic: make(map[string]*Entry, len(entries)),
		byPin:   make(map[int]*Entry, len(entries)),
	}

	for i := range entries {
		e := entries[i]
		if strings.TrimSpace(e.Topic) == "" {
			return nil, fmt.Errorf("%w: entry %d: topic is required", ErrInvalidMapping, i)
		}
		if e.Encoder.toDevice == nil || e.Encoder.fromDevice == nil {
			return nil, fmt.Errorf("%w: entry %d (%s): encoder is required", ErrInvalidMapping, i, e.Topic)
		}
		if e.Encoder.name == EncoderStringMap {
			e.lookup = parseStringTable(e.ExtraData)
		}

		ep := &e
		t.entries = append(t.entries, ep)
		if _, dup := t.byTopic[e.Topic]; !dup {
			t.byTopic[e.Topic] = ep
			t.listen = append(t.listen, e.Topic)
		}
		if _, dup := t.byPin[e.Pin]; !dup {
			t.byPin[e.Pin] = ep
		}
	}

	return t, nil
}

// TableFromConfig resolves encoder names and builds the table. It fails on
// the first unknown encoder or missing field.
func TableFromConfig(topics []config.TopicConfig) (*Table, error) {
	entries := make([]Entry, 0, len(topics))
	for i, tc := range topics {
		if tc.Pin == nil {
			return nil, fmt.Errorf("%w: topics[%d] (%s): pin is required", ErrInvalidMapping, i, tc.Topic)
		}
		if tc.Type == "" {
			return nil, fmt.Errorf("%w: topics[%d] (%s): type is required", ErrInvalidMapping, i, tc.Topic)
		}
		enc, err := LookupEncoder(tc.Type)
		if err != nil {
			return nil, fmt.Errorf("topics[%d] (%s): %w", i, tc.Topic, err)
		}
		entries = append(entries, Entry{
			Topic:          tc.Topic,
			ReplyTopic:     tc.ReplyTopic,
			Pin:            *tc.Pin,
			Encoder:        enc,
			ExtraData:      tc.ExtraData,
			Ack:            tc.Ack,
			SuppressRetain: tc.NoRetain,
		})
	}
	return NewTable(entries)
}

// ByTopic returns the entry listening on topic.
func (t *Table) ByTopic(topic string) (*Entry, bool) {
	e, ok := t.byTopic[topic]
	return e, ok
}

// ByPin returns the entry bound to pin.
func (t *Table) ByPin(pin int) (*Entry, bool) {
	e, ok := t.byPin[pin]
	return e, ok
}

// IsListenTopic reports whether topic is subscribed by the bridge.
func (t *Table) IsListenTopic(topic string) bool {
	_, ok := t.byTopic[topic]
	return ok
}

// ListenTopics returns the distinct listen topics in declaration order.
func (t *Table) ListenTopics() []string {
	out := make([]string, len(t.listen))
	copy(out, t.listen)
	return out
}

// Len returns the number of entries, duplicates included.
func (t *Table) Len() int {
	return len(t.entries)
}

// Entries returns copies of all entries in declaration order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = *e
	}
	return out
}
