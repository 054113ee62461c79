// Package gateway implements the MQTT to exmebus delivery loop.
//
// Machines publish signal updates as JSON. The gateway parses each message
// into exmebus "own data signal" records, encodes every record into a binary
// frame and writes it to the local collector.
//
//	MQTT handler → inbox (bounded) → Run: Parse → Encode → Collector.Write
//
// # States
//
// Run is a single consumer that moves between three states:
//
//   - StateConnected: messages are parsed and forwarded.
//   - StateReconnectingStream: a frame write failed. The frame is dropped
//     (or spooled), the collector stream is reopened once and the loop
//     returns to connected.
//   - StateReconnectingSubscribe: the MQTT connection dropped. The
//     subscriber is reconnected under the RetryPolicy and, when configured,
//     its subscriptions re-issued. This runs on a separate goroutine; Run
//     keeps forwarding whatever reaches the inbox meanwhile.
//
// Malformed events are logged and skipped; they never change state.
//
// # Usage
//
//	gw, err := gateway.New(gateway.Options{
//	    TopicPrefix: cfg.MQTT.TopicPrefix,
//	    Resubscribe: cfg.MQTT.Resubscribe,
//	    Retry:       gateway.RetryPolicy{Interval: cfg.GetReconnectInterval()},
//	    Collector:   collector,
//	    Subscriber:  mqttClient,
//	    Logger:      log,
//	})
//	handler := func(msg mqtt.Message) error {
//	    return gw.Enqueue(gateway.Message{Topic: msg.Topic, Payload: msg.Payload})
//	}
//	mqttClient.SetDefaultHandler(handler)
//	mqttClient.SetOnDisconnect(gw.ConnectionLost)
//	go func() { runErr <- gw.Run(ctx) }()
//
//	// Run is consuming before CONNACK, so a resumed session's backlog
//	// cannot fill the inbox with nobody reading it.
//	err = mqttClient.Connect()
//	err = mqttClient.Subscribe(topic, 1, handler)
package gateway
