package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/nerrad567/tinkerforge-bridge/internal/binding"
	"github.com/nerrad567/tinkerforge-bridge/internal/brickd"
	"github.com/nerrad567/tinkerforge-bridge/internal/thing"
)

func TestListThings(t *testing.T) {
	env := testServer(t)
	token := env.viewerToken(t)

	tests := []struct {
		name      string
		path      string
		wantCount int
	}{
		{"all", "/api/v1/things", 3},
		{"by type", "/api/v1/things?type=temperature", 1},
		{"by bridge", "/api/v1/things?bridge=brickd", 2},
		{"unknown type", "/api/v1/things?type=lcd128x64", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, tt.path, token, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
			}
			resp := decodeBody[struct {
				Things []thing.Thing `json:"things"`
				Count  int           `json:"count"`
			}](t, w)
			if resp.Count != tt.wantCount || len(resp.Things) != tt.wantCount {
				t.Errorf("count = %d (%d things), want %d", resp.Count, len(resp.Things), tt.wantCount)
			}
		})
	}
}

func TestGetThing(t *testing.T) {
	env := testServer(t)
	token := env.viewerToken(t)

	w := env.do(t, http.MethodGet, "/api/v1/things/relay-hall", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	got := decodeBody[thing.Thing](t, w)
	if got.ThingType != "industrialquadrelay" || got.Status != thing.StatusOnline {
		t.Errorf("thing = %s %s, want online industrialquadrelay", got.ThingType, got.Status)
	}

	w = env.do(t, http.MethodGet, "/api/v1/things/missing", token, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing thing status = %d, want 404", w.Code)
	}
}

func TestGetThingStatus(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/things/brickd/status", env.viewerToken(t), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	resp := decodeBody[struct {
		Status     thing.StatusInfo `json:"status"`
		HasHandler bool             `json:"has_handler"`
	}](t, w)
	if resp.Status.Status != thing.StatusOnline {
		t.Errorf("bridge status = %s, want ONLINE", resp.Status.Status)
	}
	if !resp.HasHandler {
		t.Error("bridge should have a running handler")
	}
}

func TestListChannels(t *testing.T) {
	env := testServer(t)
	env.brickd.Dispatch("t1", "temperature", "", brickd.DecimalValue(2125))

	w := env.do(t, http.MethodGet, "/api/v1/things/temp-office/channels", env.viewerToken(t), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	resp := decodeBody[struct {
		Channels []channelView `json:"channels"`
	}](t, w)
	if len(resp.Channels) != 1 {
		t.Fatalf("channels = %+v, want one", resp.Channels)
	}
	ch := resp.Channels[0]
	if ch.ID != "temperature" || !ch.Linked {
		t.Errorf("channel = %+v, want linked temperature", ch)
	}
	if ch.State == nil || ch.State.Value != 21.25 {
		t.Errorf("channel state = %+v, want 21.25", ch.State)
	}
}

func TestCreateThing(t *testing.T) {
	env := testServer(t)
	token := env.adminToken(t)
	env.brickd.AddDevice(brickd.DeviceInfo{UID: "t2", DeviceType: brickd.DeviceTemperature}) //nolint:errcheck // known type

	w := env.do(t, http.MethodPost, "/api/v1/things", token,
		`{"id":"temp-lab","label":"Lab","thing_type":"temperature","config":{"uid":"t2"},"linked_channels":["temperature"]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	created := decodeBody[thing.Thing](t, w)
	if created.Status != thing.StatusOnline {
		t.Errorf("created thing status = %s, want ONLINE", created.Status)
	}
	if _, ok := env.binding.Handler("temp-lab"); !ok {
		t.Error("created thing has no handler")
	}
}

func TestCreateThing_Errors(t *testing.T) {
	env := testServer(t)
	token := env.adminToken(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"invalid JSON", `{"id":`, http.StatusBadRequest},
		{"unsupported type", `{"id":"lcd","thing_type":"lcd128x64"}`, http.StatusBadRequest},
		{"unknown linked channel", `{"id":"t9","thing_type":"temperature","linked_channels":["humidity"]}`, http.StatusBadRequest},
		{"invalid id", `{"id":"Bad ID","thing_type":"temperature"}`, http.StatusBadRequest},
		{"duplicate", `{"id":"temp-office","thing_type":"temperature"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/things", token, tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestDeleteThing(t *testing.T) {
	env := testServer(t)
	token := env.adminToken(t)

	w := env.do(t, http.MethodDelete, "/api/v1/things/brickd", token, "")
	if w.Code != http.StatusConflict {
		t.Errorf("deleting bridge with children: status = %d, want 409", w.Code)
	}

	w = env.do(t, http.MethodDelete, "/api/v1/things/temp-office", token, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	if _, err := env.registry.GetThing(context.Background(), "temp-office"); err == nil {
		t.Error("thing still registered after delete")
	}

	w = env.do(t, http.MethodDelete, "/api/v1/things/temp-office", token, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestLinkUnlinkChannel(t *testing.T) {
	env := testServer(t)
	token := env.adminToken(t)

	w := env.do(t, http.MethodPut, "/api/v1/things/relay-hall/channels/relay1/link", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("link status = %d; body: %s", w.Code, w.Body.String())
	}
	if resp := decodeBody[map[string]any](t, w); resp["changed"] != true {
		t.Errorf("first link changed = %v, want true", resp["changed"])
	}
	if !env.registry.IsLinked("relay-hall", "relay1") {
		t.Error("relay1 should be linked")
	}

	w = env.do(t, http.MethodPut, "/api/v1/things/relay-hall/channels/relay1/link", token, "")
	if resp := decodeBody[map[string]any](t, w); resp["changed"] != false {
		t.Errorf("second link changed = %v, want false", resp["changed"])
	}

	w = env.do(t, http.MethodDelete, "/api/v1/things/relay-hall/channels/relay1/link", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("unlink status = %d; body: %s", w.Code, w.Body.String())
	}
	if env.registry.IsLinked("relay-hall", "relay1") {
		t.Error("relay1 should be unlinked")
	}

	w = env.do(t, http.MethodPut, "/api/v1/things/relay-hall/channels/humidity/link", token, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown channel link status = %d, want 400", w.Code)
	}
}

func TestSendCommand(t *testing.T) {
	env := testServer(t)
	token := env.adminToken(t)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"relay on", "/api/v1/things/relay-hall/channels/relay0/command", `{"id":"c1","command":"ON"}`, http.StatusAccepted, ""},
		{"refresh", "/api/v1/things/temp-office/channels/temperature/command", `{"command":"REFRESH"}`, http.StatusAccepted, ""},
		{"unparseable", "/api/v1/things/relay-hall/channels/relay0/command", `{"command":"BLAH"}`, http.StatusBadRequest, binding.ErrCodeInvalidCommand},
		{"read-only channel", "/api/v1/things/temp-office/channels/temperature/command", `{"command":"21"}`, http.StatusBadRequest, binding.ErrCodeInvalidCommand},
		{"wrong value kind", "/api/v1/things/relay-hall/channels/relay0/command", `{"command":"OPEN"}`, http.StatusBadRequest, binding.ErrCodeInvalidParameters},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tt.path, token, tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			ack := decodeBody[binding.AckMessage](t, w)
			if ack.CommandID == "" {
				t.Error("ack has no command id")
			}
			if tt.wantCode == "" {
				if ack.Status != binding.AckAccepted {
					t.Errorf("ack status = %s, want accepted", ack.Status)
				}
				return
			}
			if ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("ack error = %+v, want %s", ack.Error, tt.wantCode)
			}
		})
	}

	stats := env.binding.Stats()
	if stats.CommandsReceived != uint64(len(tests)) {
		t.Errorf("CommandsReceived = %d, want %d", stats.CommandsReceived, len(tests))
	}
}

func TestSendCommand_RequestErrors(t *testing.T) {
	env := testServer(t)
	token := env.adminToken(t)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
	}{
		{"invalid JSON", "/api/v1/things/relay-hall/channels/relay0/command", `{`, http.StatusBadRequest},
		{"missing command", "/api/v1/things/relay-hall/channels/relay0/command", `{}`, http.StatusBadRequest},
		{"unknown thing", "/api/v1/things/missing/channels/relay0/command", `{"command":"ON"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tt.path, token, tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestAckHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{binding.ErrCodeInvalidCommand, http.StatusBadRequest},
		{binding.ErrCodeInvalidParameters, http.StatusBadRequest},
		{binding.ErrCodeNotConfigured, http.StatusConflict},
		{binding.ErrCodeDeviceUnreachable, http.StatusServiceUnavailable},
		{binding.ErrCodeBridgeError, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			ack := binding.AckMessage{Status: binding.AckFailed, Error: &binding.AckError{Code: tt.code}}
			if got := ackHTTPStatus(ack); got != tt.want {
				t.Errorf("ackHTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}

	if got := ackHTTPStatus(binding.AckMessage{Status: binding.AckAccepted}); got != http.StatusAccepted {
		t.Errorf("accepted ack = %d, want 202", got)
	}
}

func TestListDeviceTypes(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/device-types", env.viewerToken(t), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeBody[struct {
		Types []deviceTypeView `json:"device_types"`
	}](t, w)

	byType := make(map[string]deviceTypeView, len(resp.Types))
	for _, dt := range resp.Types {
		byType[dt.ThingType] = dt
	}
	if !byType["brickd"].Bridge {
		t.Error("brickd should be listed as a bridge")
	}
	if got := byType["hs110"]; got.Binding != "tplink" || len(got.Channels) != 4 {
		t.Errorf("hs110 = %+v, want tplink with 4 channels", got)
	}
	if got := byType["industrialquadrelay"]; len(got.Channels) != 4 {
		t.Errorf("industrialquadrelay channels = %v, want 4", got.Channels)
	}
}

func TestListDiagnostics(t *testing.T) {
	env := testServer(t)
	env.brickd.Dispatch("t1", "temperature", "", brickd.High)

	w := env.do(t, http.MethodGet, "/api/v1/diagnostics", env.viewerToken(t), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeBody[struct {
		Diagnostics []thing.Diagnostic `json:"diagnostics"`
		Total       uint64             `json:"total"`
	}](t, w)
	if len(resp.Diagnostics) != 1 || resp.Total != 1 {
		t.Fatalf("diagnostics = %+v (total %d), want one", resp.Diagnostics, resp.Total)
	}
	if d := resp.Diagnostics[0]; d.ThingID != "temp-office" || d.Kind != thing.DiagnosticTypeMismatch {
		t.Errorf("diagnostic = %+v", d)
	}
}
