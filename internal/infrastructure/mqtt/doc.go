// Package mqtt is the bridge's MQTT transport, built on paho.mqtt.golang.
//
// The client offers the six operations the router needs: start, subscribe,
// publish, close and two callbacks for connection changes and messages.
// Everything else (reconnect cadence, TLS, credentials) stays here.
//
// # Reconnection
//
// paho retries the initial connect and every later loss with exponential
// backoff between reconnect.initial_delay and reconnect.max_delay. Sessions
// are clean, so subscriptions are dropped by the broker on disconnect; the
// bridge re-subscribes from the connection callback.
//
// # Last will
//
// WithWill registers a retained message the broker publishes when the bridge
// vanishes without a clean disconnect. The bridge uses it to mark its status
// topic offline.
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT, mqtt.WithWill(statusTopic, lwt, 1))
//	client.SetOnConnectionChange(func(up bool) { ... })
//	client.SetOnMessage(func(topic string, payload []byte) { ... })
//	if err := client.Start(); err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
