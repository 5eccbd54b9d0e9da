package tplink

import "github.com/nerrad567/tinkerforge-bridge/internal/thing"

// ThingType is the thing type of an HS110 energy switch.
const ThingType = "hs110"

// Energy channel IDs.
const (
	ChannelEnergyCurrent = "energyCurrent"
	ChannelEnergyTotal   = "energyTotal"
	ChannelEnergyVoltage = "energyVoltage"
	ChannelEnergyPower   = "energyPower"
)

// Channels lists the energy channels in publishing order.
var Channels = []string{ChannelEnergyCurrent, ChannelEnergyTotal, ChannelEnergyVoltage, ChannelEnergyPower}

// EnergySwitch maps realtime readings onto channel states.
type EnergySwitch struct{}

// UpdateChannel returns the state of channelID for rt. Channels the
// switch does not have are UNDEF.
func (EnergySwitch) UpdateChannel(channelID string, rt Realtime) thing.State {
	switch channelID {
	case ChannelEnergyCurrent:
		return thing.NewQuantity(rt.Current, thing.Ampere)
	case ChannelEnergyTotal:
		return thing.NewQuantity(rt.Total, thing.KilowattHour)
	case ChannelEnergyVoltage:
		return thing.NewQuantity(rt.Voltage, thing.Volt)
	case ChannelEnergyPower:
		return thing.NewQuantity(rt.Power, thing.Watt)
	default:
		return thing.Undef
	}
}
