// Package mqtt is the broker connection of the bridge.
//
// One connection carries two kinds of traffic: the tinkerforge_mqtt proxy
// topics the energy switch pollers and device clients use, and the
// service topics (tfbridge/...) that thing statuses, channel states,
// trigger events and command acknowledgements are published on.
//
//	brickd ↔ tinkerforge_mqtt ↔ broker ↔ tfbridge ↔ broker ↔ consumers
//
// The connection registers a retained will on tfbridge/health shaped like
// the health reporter's messages, so a crashed bridge shows up as
// "offline" to the same consumers that read its periodic health.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Bridge.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllChannelCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        _, thingID, channelID, _ := mqtt.ParseChannelTopic(topic)
//	        return handle(thingID, channelID, payload)
//	    })
//
// Enable TLS (mqtt.broker.tls) whenever the broker is not on localhost.
package mqtt
