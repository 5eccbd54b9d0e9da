// Package brickd is a client for Tinkerforge devices behind the brickd
// MQTT proxy (tinkerforge_mqtt).
//
// The proxy announces devices on <prefix>/callback/ip_connection/enumerate
// and publishes device callbacks and function responses as JSON. The
// client turns those into Devices with typed Channels and notifies
// listeners:
//
//   - DeviceAdminListener on ADD and REMOVE of a device
//   - CallbackListener on every value change of a registered device UID
//
// Values are raw, exactly as the device reports them. Scaling to physical
// units happens in the handler layer.
//
// # Usage
//
//	client := brickd.NewClient(brickd.Options{Transport: transport, Logger: log})
//	client.RegisterDeviceAdminListener(handler)
//	client.RegisterCallbackListener(handler, "XYZ")
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//
// A client without a Transport is fed directly through AddDevice and
// Dispatch.
package brickd
