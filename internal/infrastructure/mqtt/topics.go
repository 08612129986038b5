package mqtt

import (
	"fmt"
	"strings"
)

// Topic roots.
const (
	// TopicPrefixEvents is the IS-07 event root; grains for a source are
	// published at {prefix}/{sourceId}/{eventType}.
	TopicPrefixEvents = "x-nmos/events/1.0"

	// TopicPrefixNode carries node status and client presence.
	TopicPrefixNode = "nmos-core"
)

// Topics builds MQTT topic strings. The zero value is ready to use.
type Topics struct{}

// Event returns the topic grains of sourceID with eventType are published on.
func (Topics) Event(sourceID, eventType string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixEvents, sourceID, eventType)
}

// SourceEvents matches every event type of one source.
func (Topics) SourceEvents(sourceID string) string {
	return fmt.Sprintf("%s/%s/+", TopicPrefixEvents, sourceID)
}

// AllEvents matches every source and event type.
func (Topics) AllEvents() string {
	return TopicPrefixEvents + "/+/+"
}

// NodeStatus is the retained status topic of a node.
func (Topics) NodeStatus(nodeID string) string {
	return fmt.Sprintf("%s/node/%s/status", TopicPrefixNode, nodeID)
}

// ClientStatus is the retained presence topic of an MQTT client; the broker
// publishes the will message here on unexpected disconnect.
func (Topics) ClientStatus(clientID string) string {
	return fmt.Sprintf("%s/client/%s/status", TopicPrefixNode, clientID)
}

// ParseEventTopic splits an event topic into source ID and event type.
// Event types may contain slashes ("number/float64/dB").
func ParseEventTopic(topic string) (sourceID, eventType string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefixEvents+"/")
	if !found {
		return "", "", false
	}
	sourceID, eventType, found = strings.Cut(rest, "/")
	if !found || sourceID == "" || eventType == "" {
		return "", "", false
	}
	return sourceID, eventType, true
}

// TopicMatches reports whether topic falls under the subscription filter
// pattern, with "+" matching one level and a trailing "#" any number
// (including none). Wildcards in the first level never match "$" topics.
func TopicMatches(pattern, topic string) bool {
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(pattern, "+") || strings.HasPrefix(pattern, "#")) {
		return false
	}
	pl, tl := strings.Split(pattern, "/"), strings.Split(topic, "/")
	for i, p := range pl {
		if p == "#" {
			return i == len(pl)-1
		}
		if i >= len(tl) || (p != "+" && p != tl[i]) {
			return false
		}
	}
	return len(pl) == len(tl)
}
