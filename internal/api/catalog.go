package api

import (
	"net/http"

	"github.com/nerrad567/tinkerforge-bridge/internal/bridges/tinkerforge"
	"github.com/nerrad567/tinkerforge-bridge/internal/bridges/tplink"
)

// deviceTypeView describes a supported thing type.
type deviceTypeView struct {
	ThingType string   `json:"thing_type"`
	Label     string   `json:"label"`
	Bridge    bool     `json:"bridge"`
	Binding   string   `json:"binding"`
	Channels  []string `json:"channels"`

	// Detail is the full channel table of Tinkerforge types.
	Detail []tinkerforge.ChannelSpec `json:"channel_detail,omitempty"`
}

// handleListDeviceTypes returns every thing type the binding can run.
func (s *Server) handleListDeviceTypes(w http.ResponseWriter, _ *http.Request) {
	types := make([]deviceTypeView, 0, len(tinkerforge.DeviceTypes)+1)
	for _, spec := range tinkerforge.DeviceTypes {
		view := deviceTypeView{
			ThingType: spec.ThingType,
			Label:     spec.Label,
			Bridge:    spec.Bridge,
			Binding:   "tinkerforge",
			Channels:  make([]string, 0, len(spec.Channels)),
			Detail:    spec.Channels,
		}
		for _, ch := range spec.Channels {
			view.Channels = append(view.Channels, ch.ID)
		}
		types = append(types, view)
	}
	types = append(types, deviceTypeView{
		ThingType: tplink.ThingType,
		Label:     "TP-Link HS110 Energy Switch",
		Binding:   "tplink",
		Channels:  append([]string(nil), tplink.Channels...),
	})

	writeJSON(w, http.StatusOK, map[string]any{"device_types": types, "count": len(types)})
}

// handleListDiagnostics returns the most recent handler diagnostics.
func (s *Server) handleListDiagnostics(w http.ResponseWriter, _ *http.Request) {
	diagnostics := s.binding.Diagnostics()
	writeJSON(w, http.StatusOK, map[string]any{
		"diagnostics": diagnostics,
		"count":       len(diagnostics),
		"total":       s.binding.Stats().Diagnostics,
	})
}
