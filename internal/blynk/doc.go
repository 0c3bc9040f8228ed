// Package blynk implements a device-side client for the Blynk binary protocol.
//
// # Wire format
//
// Every frame starts with a 5-byte header:
//
//	byte 0     command code
//	bytes 1-2  message id, big-endian
//	bytes 3-4  payload length, big-endian (status code for RESPONSE)
//
// Payload fields are separated by a single 0x00 byte. Pin traffic uses
// HARDWARE frames with "vw" (virtual write), "dw" (digital write) and
// HARDWARE_SYNC with "vr" (virtual read request).
//
// # Session
//
// Client keeps exactly one session open. Start runs a fixed-interval tick:
// a live session is pinged, a dead one is torn down and dialled again. Any
// I/O error drops the session and the next tick restores it, so callers
// only ever see IsConnected flip. Sends while disconnected return
// ErrNotConnected and are not queued.
//
// A frame header declaring more than MaxPayload bytes means the stream can
// no longer be trusted; the session is dropped rather than resynchronised.
//
// # Usage
//
//	client := blynk.New(blynk.Config{Address: "blynk.example.com:8080", Token: token})
//	client.SetLogger(logger)
//	client.SetOnPinEvent(func(ev blynk.PinEvent) { ... })
//	client.Start(ctx)
//	defer client.Close()
//
//	client.VirtualWrite(5, 21.5)
package blynk
