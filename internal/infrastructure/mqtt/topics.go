package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the base of every service topic.
//
// Layout: tfbridge/{category}/{thing_id}[/{channel_id}]
const TopicPrefix = "tfbridge"

// Topics provides builders for the service MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.ChannelState("weather-garden", "temperatureStation")
//	// Returns: "tfbridge/state/weather-garden/temperatureStation"
type Topics struct{}

// =============================================================================
// Thing Topics
// =============================================================================

// ThingStatus returns the retained status topic of a thing.
//
// Example: tfbridge/status/temp-office
func (Topics) ThingStatus(thingID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefix, thingID)
}

// ChannelState returns the retained state topic of a channel.
//
// Example: tfbridge/state/temp-office/temperature
func (Topics) ChannelState(thingID, channelID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, thingID, channelID)
}

// ChannelTrigger returns the topic trigger events of a channel are published on.
//
// Example: tfbridge/trigger/touch-hall/electrode3
func (Topics) ChannelTrigger(thingID, channelID string) string {
	return fmt.Sprintf("%s/trigger/%s/%s", TopicPrefix, thingID, channelID)
}

// ChannelCommand returns the topic commands for a channel are received on.
//
// Example: tfbridge/command/relay-pump/relay0
func (Topics) ChannelCommand(thingID, channelID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, thingID, channelID)
}

// Ack returns the topic command acknowledgements for a thing are published on.
//
// Example: tfbridge/ack/relay-pump
func (Topics) Ack(thingID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, thingID)
}

// Diagnostic returns the topic conversion diagnostics for a thing are published on.
//
// Example: tfbridge/diagnostic/temp-office
func (Topics) Diagnostic(thingID string) string {
	return fmt.Sprintf("%s/diagnostic/%s", TopicPrefix, thingID)
}

// =============================================================================
// Service Topics
// =============================================================================

// Health returns the retained service health topic. It doubles as the
// Last Will topic.
//
// Example: tfbridge/health
func (Topics) Health() string {
	return TopicPrefix + "/health"
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllChannelCommands returns a pattern matching every channel command.
//
// Pattern: tfbridge/command/+/+
func (Topics) AllChannelCommands() string {
	return TopicPrefix + "/command/+/+"
}

// AllChannelStates returns a pattern matching every channel state.
//
// Pattern: tfbridge/state/+/+
func (Topics) AllChannelStates() string {
	return TopicPrefix + "/state/+/+"
}

// AllThingStatuses returns a pattern matching every thing status.
//
// Pattern: tfbridge/status/+
func (Topics) AllThingStatuses() string {
	return TopicPrefix + "/status/+"
}

// AllTopics returns a pattern matching all service topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: tfbridge/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// ParseChannelTopic splits a tfbridge/{category}/{thing}/{channel} topic.
// ok is false when the topic does not have that shape.
func ParseChannelTopic(topic string) (category, thingID, channelID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix {
		return "", "", "", false
	}
	for _, p := range parts[1:] {
		if p == "" {
			return "", "", "", false
		}
	}
	return parts[1], parts[2], parts[3], true
}
