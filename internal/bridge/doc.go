// Package bridge translates values between MQTT topics and Blynk virtual pins.
//
// A static Table maps each topic to one pin and one Encoder. The Router
// applies the table in both directions:
//
//	MQTT message  -> Table.ByTopic -> Encoder.ToDevice   -> Blynk virtual write
//	Blynk update  -> Table.ByPin   -> Encoder.FromDevice -> MQTT publish
//
// Publishing to a topic the bridge also subscribes to would feed the value
// straight back to the device. The Router therefore marks each such publish
// in an EchoSet and discards the matching inbound message. Markers expire
// after a short TTL and are cleared whenever the MQTT session reconnects.
//
// Supervisor owns both transports and wires their callbacks to the Router.
// HealthReporter publishes a retained status document when a status topic is
// configured.
package bridge
