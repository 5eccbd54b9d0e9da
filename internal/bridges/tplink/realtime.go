package tplink

import (
	"encoding/json"
	"fmt"
)

// Realtime is one energy meter reading in base units.
type Realtime struct {
	Current float64 `json:"current"` // A
	Voltage float64 `json:"voltage"` // V
	Power   float64 `json:"power"`   // W
	Total   float64 `json:"total"`   // kWh
}

// realtimeResponse covers both firmware generations. Older firmware
// reports base units, newer firmware milli-units and Wh.
type realtimeResponse struct {
	Current   *float64 `json:"current"`
	Voltage   *float64 `json:"voltage"`
	Power     *float64 `json:"power"`
	Total     *float64 `json:"total"`
	CurrentMA *float64 `json:"current_ma"`
	VoltageMV *float64 `json:"voltage_mv"`
	PowerMW   *float64 `json:"power_mw"`
	TotalWH   *float64 `json:"total_wh"`
	ErrCode   int      `json:"err_code"`
	ErrMsg    string   `json:"err_msg"`
}

type envelope struct {
	Emeter *struct {
		GetRealtime *realtimeResponse `json:"get_realtime"`
	} `json:"emeter"`
}

// DecodeRealtime decodes a get_realtime response. The emeter envelope is
// optional.
func DecodeRealtime(payload []byte) (Realtime, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Realtime{}, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}

	var resp realtimeResponse
	switch {
	case env.Emeter != nil && env.Emeter.GetRealtime != nil:
		resp = *env.Emeter.GetRealtime
	case env.Emeter != nil:
		return Realtime{}, fmt.Errorf("%w: emeter without get_realtime", ErrInvalidResponse)
	default:
		if err := json.Unmarshal(payload, &resp); err != nil {
			return Realtime{}, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
		}
	}

	if resp.ErrCode != 0 {
		return Realtime{}, fmt.Errorf("%w: %d %s", ErrDeviceError, resp.ErrCode, resp.ErrMsg)
	}

	var rt Realtime
	var ok bool
	if rt.Current, ok = pick(resp.Current, resp.CurrentMA, 1000); !ok {
		return Realtime{}, fmt.Errorf("%w: missing current", ErrInvalidResponse)
	}
	if rt.Voltage, ok = pick(resp.Voltage, resp.VoltageMV, 1000); !ok {
		return Realtime{}, fmt.Errorf("%w: missing voltage", ErrInvalidResponse)
	}
	if rt.Power, ok = pick(resp.Power, resp.PowerMW, 1000); !ok {
		return Realtime{}, fmt.Errorf("%w: missing power", ErrInvalidResponse)
	}
	if rt.Total, ok = pick(resp.Total, resp.TotalWH, 1000); !ok {
		return Realtime{}, fmt.Errorf("%w: missing total", ErrInvalidResponse)
	}
	return rt, nil
}

// pick prefers the base-unit field and falls back to the milli-unit one.
func pick(base, milli *float64, scale float64) (float64, bool) {
	if base != nil {
		return *base, true
	}
	if milli != nil {
		return *milli / scale, true
	}
	return 0, false
}
