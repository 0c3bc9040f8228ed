package bridge

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

type routerFixture struct {
	router   *Router
	device   *mockDevice
	pubsub   *mockPubSub
	recorder *mockRecorder
}

func newRouterFixture(t *testing.T, entries ...Entry) *routerFixture {
	t.Helper()

	table, err := NewTable(entries)
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	f := &routerFixture{
		device:   newMockDevice(),
		pubsub:   newMockPubSub(),
		recorder: &mockRecorder{},
	}
	f.router, err = NewRouter(RouterOptions{
		Table:    table,
		Device:   f.device,
		PubSub:   f.pubsub,
		EchoTTL:  time.Minute,
		Recorder: f.recorder,
	})
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return f
}

func entry(t *testing.T, topic string, pin int, encoder string) Entry {
	t.Helper()
	return Entry{Topic: topic, Pin: pin, Encoder: mustEncoder(t, encoder)}
}

func TestNewRouterRequiresDependencies(t *testing.T) {
	table, _ := NewTable(nil)
	tests := []struct {
		name string
		opts RouterOptions
	}{
		{"no table", RouterOptions{Device: newMockDevice(), PubSub: newMockPubSub()}},
		{"no device", RouterOptions{Table: table, PubSub: newMockPubSub()}},
		{"no pubsub", RouterOptions{Table: table, Device: newMockDevice()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRouter(tt.opts); !errors.Is(err, ErrMissingDependency) {
				t.Errorf("NewRouter() error = %v, want ErrMissingDependency", err)
			}
		})
	}
}

func TestOnPubSubMessageWritesPin(t *testing.T) {
	f := newRouterFixture(t, entry(t, "home/led", 4, EncoderLed))

	f.router.OnPubSubMessage("home/led", []byte("0.5"))

	want := []pinWrite{{pin: 4, value: "255"}}
	if got := f.device.getWrites(); !reflect.DeepEqual(got, want) {
		t.Errorf("writes = %v, want %v", got, want)
	}

	transfers := f.recorder.getTransfers()
	if len(transfers) != 1 {
		t.Fatalf("transfers = %d, want 1", len(transfers))
	}
	tr := transfers[0]
	if tr.Direction != ToDevice || tr.Input != "0.5" || tr.Output != "255" || tr.Encoder != EncoderLed || tr.Time.IsZero() {
		t.Errorf("transfer = %+v", tr)
	}
	if f.router.Stats().ToDevice != 1 {
		t.Errorf("ToDevice = %d, want 1", f.router.Stats().ToDevice)
	}
}

func TestOnPubSubMessageUnmappedIgnored(t *testing.T) {
	f := newRouterFixture(t, entry(t, "home/led", 4, EncoderLed))

	f.router.OnPubSubMessage("home/other", []byte("1"))

	if len(f.device.getWrites()) != 0 {
		t.Error("unmapped topic produced a write")
	}
	if f.router.Stats().Dropped != 0 {
		t.Error("routing miss counted as drop")
	}
}

func TestOnPubSubMessageDeviceOffline(t *testing.T) {
	f := newRouterFixture(t, entry(t, "home/led", 4, EncoderLed))
	f.device.setConnected(false)

	f.router.OnPubSubMessage("home/led", []byte("1"))

	if len(f.device.getWrites()) != 0 {
		t.Error("write issued while offline")
	}
	if drops := f.recorder.getDrops(); len(drops) != 1 || drops[0] != DropDeviceOffline {
		t.Errorf("drops = %v, want [device_offline]", drops)
	}

	// Nothing is buffered for later.
	f.device.setConnected(true)
	if len(f.device.getWrites()) != 0 {
		t.Error("offline message replayed")
	}
}

func TestOnPinUpdatePublishes(t *testing.T) {
	f := newRouterFixture(t,
		Entry{Topic: "home/mode", ReplyTopic: "home/mode/state", Pin: 2, Encoder: mustEncoder(t, EncoderStringMap), ExtraData: "0=auto,1=manual"},
		Entry{Topic: "home/volatile", Pin: 3, Encoder: mustEncoder(t, EncoderStraight), SuppressRetain: true},
	)

	f.router.OnPinUpdate(2, "1")
	f.router.OnPinUpdate(3, "x")
	f.router.OnPinUpdate(99, "ignored")

	want := []publish{
		{topic: "home/mode/state", payload: "manual", retain: true},
		{topic: "home/volatile", payload: "x", retain: false},
	}
	if got := f.pubsub.getPublishes(); !reflect.DeepEqual(got, want) {
		t.Errorf("publishes = %v, want %v", got, want)
	}

	// Reply topic is not subscribed, so no echo is expected for it.
	if got := f.router.echoes.Pending("home/mode/state"); got != 0 {
		t.Errorf("Pending(reply topic) = %d, want 0", got)
	}
	if got := f.router.echoes.Pending("home/volatile"); got != 1 {
		t.Errorf("Pending(home/volatile) = %d, want 1", got)
	}
}

func TestOnPinUpdatePubSubOffline(t *testing.T) {
	f := newRouterFixture(t, Entry{Topic: "t", Pin: 1, Encoder: mustEncoder(t, EncoderStraight), Ack: true})
	f.pubsub.setConnected(false)

	f.router.OnPinUpdate(1, "5")

	if len(f.pubsub.getPublishes()) != 0 || len(f.device.getWrites()) != 0 {
		t.Error("offline pin update was routed")
	}
	if f.router.echoes.Len() != 0 {
		t.Error("marker added while offline")
	}
}

func TestOnPinUpdateAck(t *testing.T) {
	f := newRouterFixture(t, Entry{Topic: "home/light", Pin: 7, Encoder: mustEncoder(t, EncoderOnOff), Ack: true})

	f.router.OnPinUpdate(7, "255")

	publishes := f.pubsub.getPublishes()
	if len(publishes) != 1 || publishes[0].topic != "home/light" || publishes[0].payload != "1" {
		t.Errorf("publishes = %v, want one on home/light with 1", publishes)
	}
	want := []pinWrite{{pin: 7, value: "255"}}
	if got := f.device.getWrites(); !reflect.DeepEqual(got, want) {
		t.Errorf("writes = %v, want %v", got, want)
	}
	if f.router.Stats().Acks != 1 {
		t.Errorf("Acks = %d, want 1", f.router.Stats().Acks)
	}
}

func TestEchoSuppression(t *testing.T) {
	f := newRouterFixture(t, entry(t, "home/temp", 5, EncoderStraight))

	f.router.OnPinUpdate(5, "21")

	// The broker delivers our own publish back.
	f.router.OnPubSubMessage("home/temp", []byte("21"))
	if len(f.device.getWrites()) != 0 {
		t.Fatal("echo produced a pin write")
	}

	// The next distinct message routes normally.
	f.router.OnPubSubMessage("home/temp", []byte("22"))
	want := []pinWrite{{pin: 5, value: "22"}}
	if got := f.device.getWrites(); !reflect.DeepEqual(got, want) {
		t.Errorf("writes = %v, want %v", got, want)
	}

	stats := f.router.Stats()
	if stats.EchoesSuppressed != 1 || stats.PendingEchoes != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestEchoCountedPerPublish(t *testing.T) {
	f := newRouterFixture(t, entry(t, "t", 1, EncoderStraight))

	f.router.OnPinUpdate(1, "a")
	f.router.OnPinUpdate(1, "b")
	f.router.OnPubSubMessage("t", []byte("a"))
	f.router.OnPubSubMessage("t", []byte("b"))

	if len(f.device.getWrites()) != 0 {
		t.Error("echo of second publish produced a pin write")
	}
}

func TestFailedPublishRemovesMarker(t *testing.T) {
	f := newRouterFixture(t, entry(t, "t", 1, EncoderStraight))
	f.pubsub.failPublish = true

	f.router.OnPinUpdate(1, "a")

	if f.router.echoes.Len() != 0 {
		t.Error("marker left after failed publish")
	}
	f.router.OnPubSubMessage("t", []byte("external"))
	if len(f.device.getWrites()) != 1 {
		t.Error("external message swallowed after failed publish")
	}
	if drops := f.recorder.getDrops(); len(drops) != 1 || drops[0] != DropPublishFailed {
		t.Errorf("drops = %v, want [publish_failed]", drops)
	}
}

func TestEchoExpires(t *testing.T) {
	table, _ := NewTable([]Entry{entry(t, "t", 1, EncoderStraight)})
	device := newMockDevice()
	r, err := NewRouter(RouterOptions{Table: table, Device: device, PubSub: newMockPubSub(), EchoTTL: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}

	r.OnPinUpdate(1, "a")
	time.Sleep(50 * time.Millisecond)
	r.OnPubSubMessage("t", []byte("b"))

	if len(device.getWrites()) != 1 {
		t.Error("expired marker still suppressed a message")
	}
}

func TestOnPubSubConnected(t *testing.T) {
	f := newRouterFixture(t,
		entry(t, "a", 1, EncoderStraight),
		entry(t, "b", 2, EncoderStraight),
		entry(t, "a", 3, EncoderStraight),
		Entry{Topic: "c", ReplyTopic: "c/out", Pin: 4, Encoder: mustEncoder(t, EncoderStraight)},
	)

	f.router.OnPinUpdate(1, "stale")
	f.router.OnPubSubConnected()

	subs := f.pubsub.getSubscribes()
	if len(subs) != 1 {
		t.Fatalf("subscribe calls = %d, want 1", len(subs))
	}
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(subs[0], want) {
		t.Errorf("topics = %v, want %v", subs[0], want)
	}

	if f.router.echoes.Len() != 0 {
		t.Error("stale marker survived reconnect")
	}
	f.router.OnPubSubMessage("a", []byte("fresh"))
	if len(f.device.getWrites()) != 1 {
		t.Error("message after reconnect was treated as echo")
	}
}

func TestOnPubSubConnectedEmptyTable(t *testing.T) {
	f := newRouterFixture(t)
	f.router.OnPubSubConnected()
	if len(f.pubsub.getSubscribes()) != 0 {
		t.Error("empty table issued a subscribe")
	}
}

func TestRouterSendFailure(t *testing.T) {
	f := newRouterFixture(t, entry(t, "t", 1, EncoderStraight))
	f.device.failWrite = true

	f.router.OnPubSubMessage("t", []byte("1"))

	if f.router.Stats().Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", f.router.Stats().Dropped)
	}
	if len(f.recorder.getTransfers()) != 0 {
		t.Error("failed send recorded as transfer")
	}
}
