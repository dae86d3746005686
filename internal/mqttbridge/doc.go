// Package mqttbridge mirrors bus events onto MQTT and MQTT commands onto
// the bus.
//
// Outbound, every event named in mqtt.forward_events is published as a JSON
// envelope on <prefix>/event/<name>, and every presence change refreshes
// the retained <prefix>/presence/state snapshot. Both run as deferred
// handlers so that a slow broker never stalls dispatch.
//
// Inbound, messages on <prefix>/command/<name> are decoded and published on
// the bus as <name>. The payload may be a full envelope or a bare JSON
// object, which becomes the event data.
package mqttbridge
