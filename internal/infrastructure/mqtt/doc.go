// Package mqtt manages a single long-lived MQTT session on top of
// paho.mqtt.golang.
//
// This package manages:
//   - Immutable session configuration built through a validating Builder
//   - Connection lifecycle (connect, disconnect, close) with a small state machine
//   - Asynchronous publish/subscribe with acknowledgements
//   - Bridging of paho callbacks and tokens into a stable EventSink contract
//   - Optional Last Will and Testament plus online/offline status topic
//
// # Architecture
//
// The Session exclusively owns the paho client. Every public operation
// returns as soon as the request has been handed to paho; completion is
// observed through the EventSink registered by the most recent Connect
// call, or through the Ack returned by Publish/Subscribe.
//
//	caller ──Connect/Publish/Subscribe──▶ Session ──▶ paho ──▶ broker
//	caller ◀──────── EventSink ◀──────── Session ◀── paho callbacks/tokens
//
// # Event Delivery
//
// The sink is swapped atomically on each Connect and read at dispatch time,
// so a replaced sink never receives later events. Events raised after Close
// are dropped. Sink panics are recovered and logged.
//
// Consumers that prefer a single stream can use ChannelSink, which turns
// the five callbacks into tagged Event values.
//
// # Security Considerations
//
//   - Use ssl://, tls://, mqtts:// or wss:// addresses for production brokers
//   - The password is never logged; Config.LogValue redacts it
//
// # Usage
//
//	cfg, err := mqtt.NewBuilder().
//	    ServerAddress("tcp://10.0.2.2:1883").
//	    ClientID("dev1").
//	    KeepAliveInterval(20).
//	    Build(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	session, err := mqtt.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	sink := mqtt.NewChannelSink(64)
//	_ = session.Connect(sink)
//	for ev := range sink.Events() {
//	    if ev.Kind == mqtt.EventConnectSucceeded {
//	        session.Subscribe([]string{"a", "b", "c"}, []byte{0, 1, 2})
//	    }
//	}
package mqtt
