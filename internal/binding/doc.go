// Package binding runs the thing handlers of tfbridge and connects them
// to the rest of the system.
//
// It is the host side of the handler contract in package thing: every
// status, state and trigger event a handler reports arrives here and is
// stored in the registry, recorded in the state history, published on
// MQTT, written to InfluxDB and pushed to WebSocket subscribers.
//
// # Architecture
//
//	┌──────────────┐  commands  ┌──────────────┐  brickd MQTT  ┌────────────┐
//	│ MQTT / API   │───────────►│   Binding    │◄─────────────►│ brickd     │
//	│ clients      │◄───────────│ (this pkg)   │               │ proxy      │
//	└──────────────┘  states    └──────┬───────┘               └────────────┘
//	                                   │
//	                         registry, history, InfluxDB
//
// Bridge things (type "brickd") start first. Device things resolve their
// bridge lazily, so a thing whose bridge is added later is initialized
// again once the bridge starts.
//
// # MQTT Topics
//
//	tfbridge/status/{thing}              retained StatusMessage
//	tfbridge/state/{thing}/{channel}     retained StateMessage, linked channels only
//	tfbridge/trigger/{thing}/{channel}   TriggerMessage
//	tfbridge/command/{thing}/{channel}   CommandMessage or bare command text
//	tfbridge/ack/{thing}                 AckMessage
//	tfbridge/diagnostic/{thing}          thing.Diagnostic
//	tfbridge/health                      retained HealthMessage
//
// Example:
//
//	mosquitto_pub -t tfbridge/command/relay-hall/relay0 -m ON
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
package binding
