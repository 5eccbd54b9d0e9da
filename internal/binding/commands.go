package binding

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/tinkerforge-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/tinkerforge-bridge/internal/thing"
)

const (
	commandTimeout = 10 * time.Second

	categoryCommand = "command"
	sourceMQTT      = "mqtt"
)

// handleCommandMessage executes a command received on
// tfbridge/command/{thing}/{channel} and publishes the acknowledgment.
func (b *Binding) handleCommandMessage(topic string, payload []byte) {
	category, thingID, channelID, ok := mqtt.ParseChannelTopic(topic)
	if !ok || category != categoryCommand {
		b.getLogger().Debug("ignoring message on command subscription", "topic", topic)
		return
	}

	msg := decodeCommand(payload)
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	ack := b.ExecuteCommand(ctx, thingID, channelID, msg)
	b.publishJSON(b.topics.Ack(thingID), ack, false)
}

// ExecuteCommand parses and runs a command message, returning its
// acknowledgment. Failures are reported in the ack, never returned.
func (b *Binding) ExecuteCommand(ctx context.Context, thingID, channelID string, msg CommandMessage) AckMessage {
	b.commandsReceived.Add(1)
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	cmd, err := thing.ParseCommand(msg.Command)
	if err == nil {
		err = b.SendCommand(ctx, thingID, channelID, cmd)
	}
	if err != nil {
		b.commandsFailed.Add(1)
		b.getLogger().Warn("command failed",
			"command_id", msg.ID,
			"thing", thingID,
			"channel", channelID,
			"command", msg.Command,
			"source", msg.Source,
			"error", err,
		)
	} else {
		b.getLogger().Debug("command accepted", "command_id", msg.ID, "thing", thingID, "channel", channelID, "command", msg.Command)
	}
	return newAck(msg, thingID, channelID, err)
}

// decodeCommand accepts a JSON CommandMessage or a bare command string.
func decodeCommand(payload []byte) CommandMessage {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var msg CommandMessage
		if err := json.Unmarshal(trimmed, &msg); err == nil {
			if msg.Source == "" {
				msg.Source = sourceMQTT
			}
			return msg
		}
	}
	return CommandMessage{
		Timestamp: time.Now().UTC(),
		Command:   string(trimmed),
		Source:    sourceMQTT,
	}
}
