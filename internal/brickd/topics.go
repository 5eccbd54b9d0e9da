package brickd

import "strings"

// DefaultTopicPrefix is the topic prefix of the tinkerforge_mqtt proxy.
const DefaultTopicPrefix = "tinkerforge"

const ipConnectionTopic = "ip_connection"

// Topics builds proxy topics under a prefix.
//
//	<prefix>/callback/<device_topic>/<uid>/<callback>
//	<prefix>/register/<device_topic>/<uid>/<callback>
//	<prefix>/request/<device_topic>/<uid>/<function>
//	<prefix>/response/<device_topic>/<uid>/<function>
type Topics struct {
	prefix string
}

// NewTopics returns topic builders for prefix (DefaultTopicPrefix when empty).
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic prefix.
func (t Topics) Prefix() string { return t.prefix }

// Enumerate is the topic enumeration callbacks arrive on.
func (t Topics) Enumerate() string {
	return t.prefix + "/callback/" + ipConnectionTopic + "/enumerate"
}

// EnumerateRegister enables enumeration callbacks.
func (t Topics) EnumerateRegister() string {
	return t.prefix + "/register/" + ipConnectionTopic + "/enumerate"
}

// EnumerateRequest triggers an enumeration of all connected devices.
func (t Topics) EnumerateRequest() string {
	return t.prefix + "/request/" + ipConnectionTopic + "/enumerate"
}

// Callback is the topic a device callback arrives on.
func (t Topics) Callback(deviceTopic, uid, callback string) string {
	return t.join("callback", deviceTopic, uid, callback)
}

// Register enables or disables a device callback.
func (t Topics) Register(deviceTopic, uid, callback string) string {
	return t.join("register", deviceTopic, uid, callback)
}

// Request calls a device function.
func (t Topics) Request(deviceTopic, uid, function string) string {
	return t.join("request", deviceTopic, uid, function)
}

// Response is the topic a function result arrives on.
func (t Topics) Response(deviceTopic, uid, function string) string {
	return t.join("response", deviceTopic, uid, function)
}

// AllCallbacks matches every device callback.
func (t Topics) AllCallbacks() string {
	return t.prefix + "/callback/+/+/+"
}

// AllResponses matches every device function response.
func (t Topics) AllResponses() string {
	return t.prefix + "/response/+/+/+"
}

func (t Topics) join(kind, deviceTopic, uid, name string) string {
	return t.prefix + "/" + kind + "/" + deviceTopic + "/" + uid + "/" + name
}

// deviceMessage is a parsed device callback or response topic.
type deviceMessage struct {
	response    bool
	deviceTopic string
	uid         string
	function    string
}

// parse splits a device callback or response topic.
func (t Topics) parse(topic string) (deviceMessage, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix+"/")
	if !ok {
		return deviceMessage{}, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[1] == "" || parts[2] == "" || parts[3] == "" {
		return deviceMessage{}, false
	}
	switch parts[0] {
	case "callback":
		return deviceMessage{deviceTopic: parts[1], uid: parts[2], function: parts[3]}, true
	case "response":
		return deviceMessage{response: true, deviceTopic: parts[1], uid: parts[2], function: parts[3]}, true
	default:
		return deviceMessage{}, false
	}
}
