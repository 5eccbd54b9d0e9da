// Package tinkerforge binds Tinkerforge bricklets to Things.
//
// A BridgeHandler owns one brickd.Client and reports whether the brickd
// proxy is reachable. Every bricklet Thing is driven by the same generic
// Handler, parameterized by a DeviceTypeSpec from the DeviceTypes table:
//
//	┌──────────┐  status/state  ┌─────────┐ listeners ┌───────────────┐  MQTT  ┌───────┐
//	│ Callback │◄───────────────│ Handler │◄──────────│ BridgeHandler │◄──────►│ proxy │
//	└──────────┘                └─────────┘           │ (brickd.Client)│        └───────┘
//	                                                  └───────────────┘
//
// # Lifecycle
//
// A handler moves UNINITIALIZED → WAITING_FOR_BRIDGE → ONLINE once the
// bridge is online and the proxy has announced a device of the expected
// type under the configured uid. A device removal (OFFLINE/GONE) or a
// bridge outage (OFFLINE/BRIDGE_OFFLINE) takes it offline; an enumerate
// ADD or the bridge coming back re-enables it. There are no retries.
//
// # Conversion
//
// Device values reach the host through one path, ChannelSpec.Convert,
// whether they arrive as notifications, on channel link, or through a
// REFRESH command. A value whose kind does not match its channel raises
// a thing.Diagnostic instead of a state.
//
// # Thread Safety
//
// All exported types are safe for concurrent use. Handlers never hold
// their lock while calling back into the host.
package tinkerforge
