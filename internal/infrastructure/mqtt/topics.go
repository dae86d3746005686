package mqtt

import "strings"

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "homeaware"

// Topics builds the hub's MQTT topics under a common prefix.
//
//	<prefix>/system/status      retained online/offline status (LWT)
//	<prefix>/event/<name>       bus events mirrored to MQTT
//	<prefix>/presence/state     retained snapshot of who is home
//	<prefix>/command/<name>     inbound messages republished on the bus
//
// Event names keep their dots; MQTT treats them as plain characters.
type Topics struct {
	Prefix string
}

// NewTopics returns topic builders for prefix. Surrounding slashes are
// trimmed; an empty prefix falls back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) root() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// SystemStatus returns the retained status topic.
//
// Example: homeaware/system/status
func (t Topics) SystemStatus() string {
	return t.root() + "/system/status"
}

// Event returns the topic a bus event is mirrored to.
//
// Example: homeaware/event/tracking.action.shutdown
func (t Topics) Event(name string) string {
	return t.root() + "/event/" + name
}

// AllEvents matches every mirrored event.
func (t Topics) AllEvents() string {
	return t.root() + "/event/+"
}

// PresenceState returns the retained presence snapshot topic.
func (t Topics) PresenceState() string {
	return t.root() + "/presence/state"
}

// Command returns the inbound command topic for an event name.
//
// Example: homeaware/command/tracking.event.user_enter
func (t Topics) Command(name string) string {
	return t.root() + "/command/" + name
}

// AllCommands matches every inbound command topic.
func (t Topics) AllCommands() string {
	return t.root() + "/command/+"
}

// CommandName returns the event name carried by a command topic, and false
// if topic is not a command topic under this prefix.
func (t Topics) CommandName(topic string) (string, bool) {
	return t.suffix(topic, "/command/")
}

// EventName returns the event name carried by an event topic.
func (t Topics) EventName(topic string) (string, bool) {
	return t.suffix(topic, "/event/")
}

func (t Topics) suffix(topic, kind string) (string, bool) {
	name, ok := strings.CutPrefix(topic, t.root()+kind)
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// All matches every topic under the prefix.
func (t Topics) All() string {
	return t.root() + "/#"
}
