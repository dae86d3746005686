// Package events names the bus events exchanged by the hub's collaborators
// and defines their payloads.
package events

import "time"

// Presence.
const (
	// UserEnter is published when a tracked user's device appears.
	UserEnter = "tracking.event.user_enter"

	// UserExit is published when a tracked user's device has been gone for
	// longer than the exit timeout.
	UserExit = "tracking.event.user_exit"

	// TrackingInitialize is published when the first user arrives home.
	TrackingInitialize = "tracking.action.initialize"

	// TrackingShutdown is published when the last user leaves.
	TrackingShutdown = "tracking.action.shutdown"

	// WifiInitialized is published once the Wi-Fi scanner starts.
	WifiInitialized = "tracker.wifi.initialized"
)

// Hub services.
const (
	ConfigChanged      = "config.changed"
	AlarmTriggered     = "alarm.triggered"
	PlayerStateChanged = "player.state_changed"
)

// UserEvent identifies a tracked user and the device that gave them away.
type UserEvent struct {
	Name string `json:"user"`
	MAC  string `json:"mac"`
}

// ConfigChangedEvent reports a settings value written at runtime.
type ConfigChangedEvent struct {
	Module string `json:"module"`
	Item   string `json:"item"`
	Value  any    `json:"value"`
}

// AlarmEvent is published when a scheduled alarm fires.
type AlarmEvent struct {
	ID      string    `json:"id"`
	Label   string    `json:"label"`
	Spec    string    `json:"spec"`
	Once    bool      `json:"once"`
	FiredAt time.Time `json:"fired_at"`
}

// PlayerStateEvent reports a media player command that was carried out.
type PlayerStateEvent struct {
	Command string `json:"command"`
	Status  string `json:"status,omitempty"`
	Volume  int    `json:"volume,omitempty"`
	Reason  string `json:"reason,omitempty"`
}
