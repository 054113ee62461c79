// Package mqtt provides the gateway's MQTT subscribe channel.
//
// This package manages:
//   - Connection to the broker with a persistent session
//   - Last will on the "status" topic for crash detection
//   - Topic subscriptions, tracked for re-subscription
//   - Caller-driven reconnection (paho auto-reconnect is off)
//   - Connection health monitoring
//
// # Architecture
//
// Machines publish signal updates to <prefix><machine_id>/json. One gateway
// instance per machine subscribes there and forwards records to the local
// exmebus collector.
//
//	Machine → MQTT Broker → exmebus gateway → collector
//
// # Reconnection
//
// When the broker connection drops, the callback registered with
// SetOnDisconnect fires. The owner then calls Reconnect until it succeeds
// and optionally Resubscribe. Keeping this outside paho lets the gateway
// apply its own retry policy and report its state.
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT, mqtt.SessionFromConfig(cfg))
//	handler := func(msg mqtt.Message) error {
//	    return gw.HandleMessage(msg.Topic, msg.Payload)
//	}
//	// Messages a persistent session redelivers arrive before any route
//	// exists and go to the default handler.
//	client.SetDefaultHandler(handler)
//	if err := client.Connect(); err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err := client.Subscribe(cfg.SubscribeTopic(), 2, handler)
package mqtt
