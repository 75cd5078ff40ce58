package mqtt

import "strings"

// DefaultTopicPrefix is the root of every gridhost topic.
const DefaultTopicPrefix = "gridhost"

// Topics builds gridhost MQTT topic names under a prefix.
//
//	{prefix}/event/{name}   inbound events from external producers
//	{prefix}/fanout/{name}  mirror of every broadcast event
//	{prefix}/system/status  retained online/offline status (LWT)
//
// The zero value uses DefaultTopicPrefix.
type Topics struct {
	Prefix string
}

// NewTopics returns topic builders rooted at prefix.
func NewTopics(prefix string) Topics {
	return Topics{Prefix: strings.Trim(prefix, "/")}
}

func (t Topics) root() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// Event returns the inbound topic for an event name.
//
// Example: gridhost/event/gridUpdated
func (t Topics) Event(name string) string {
	return t.root() + "/event/" + name
}

// AllEvents returns the wildcard matching every inbound event.
func (t Topics) AllEvents() string {
	return t.root() + "/event/+"
}

// Fanout returns the mirror topic for an event name.
//
// Example: gridhost/fanout/gridCreated
func (t Topics) Fanout(name string) string {
	return t.root() + "/fanout/" + name
}

// SystemStatus returns the retained service status topic.
func (t Topics) SystemStatus() string {
	return t.root() + "/system/status"
}

// EventName extracts the event name from an inbound event topic.
// It reports false for topics outside {prefix}/event/ or with an empty name.
func (t Topics) EventName(topic string) (string, bool) {
	name, ok := strings.CutPrefix(topic, t.root()+"/event/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
