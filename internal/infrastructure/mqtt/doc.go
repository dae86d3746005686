// Package mqtt provides MQTT client connectivity for the home-awareness hub.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//   - Topic builders under a configurable prefix
//
// # Architecture
//
// The hub mirrors selected bus events to MQTT so that home dashboards and
// other automation can follow presence changes, and accepts commands on
// MQTT that are republished on the bus. See package mqttbridge.
//
//	event bus ↔ mqttbridge ↔ Client ↔ MQTT broker ↔ dashboards
//
// # Security Considerations
//
//   - Enable TLS when the broker is not on the local host (cfg.Broker.TLS=true)
//   - Credentials are validated against the broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.SubscribeCommands(1, func(name string, data map[string]any) error {
//	    _, err := eventBus.Publish(name, bus.Event{Data: data})
//	    return err
//	})
//
//	client.PublishEnvelope("tracking.event.user_enter", map[string]any{"user": "alice"}, 1)
//	client.PublishRetained(client.Topics().PresenceState(), state, 1)
package mqtt
