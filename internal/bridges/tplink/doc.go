// Package tplink maps TP-Link HS110 energy meter readings onto Thing channels.
//
// The package does not talk to the plug. An external poller publishes the
// plug's get_realtime responses to an MQTT topic; the Handler subscribes
// to that topic and publishes the energy channels of its thing.
//
// Both firmware response shapes are understood:
//
//	{"emeter":{"get_realtime":{"current":1.0,"voltage":230.0,"power":20.0,"total":10.0,"err_code":0}}}
//	{"emeter":{"get_realtime":{"current_ma":1000,"voltage_mv":230000,"power_mw":20000,"total_wh":10000,"err_code":0}}}
package tplink
