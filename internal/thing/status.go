package thing

import "fmt"

// Status is the lifecycle status of a Thing as reported by its handler.
type Status string

// Thing statuses.
//
// A handler moves UNINITIALIZED → WAITING_FOR_BRIDGE → ONLINE, and drops to
// OFFLINE when its device disappears or its bridge goes away.
const (
	StatusUninitialized    Status = "UNINITIALIZED"
	StatusWaitingForBridge Status = "WAITING_FOR_BRIDGE"
	StatusOnline           Status = "ONLINE"
	StatusOffline          Status = "OFFLINE"
)

// StatusDetail qualifies an OFFLINE status.
type StatusDetail string

// Status details.
const (
	DetailNone                StatusDetail = "NONE"
	DetailConfigurationError  StatusDetail = "CONFIGURATION_ERROR"
	DetailBridgeOffline       StatusDetail = "BRIDGE_OFFLINE"
	DetailBridgeUninitialized StatusDetail = "BRIDGE_UNINITIALIZED"
	DetailCommunicationError  StatusDetail = "COMMUNICATION_ERROR"
	DetailGone                StatusDetail = "GONE"
)

// StatusInfo is a status with its detail and an optional human-readable description.
type StatusInfo struct {
	Status      Status       `json:"status"`
	Detail      StatusDetail `json:"detail"`
	Description string       `json:"description,omitempty"`
}

// NewStatusInfo builds a StatusInfo, defaulting an empty detail to NONE.
func NewStatusInfo(status Status, detail StatusDetail, description string) StatusInfo {
	if detail == "" {
		detail = DetailNone
	}
	return StatusInfo{Status: status, Detail: detail, Description: description}
}

// Online reports whether the status is ONLINE.
func (s StatusInfo) Online() bool {
	return s.Status == StatusOnline
}

func (s StatusInfo) String() string {
	if s.Detail == "" || s.Detail == DetailNone {
		if s.Description != "" {
			return fmt.Sprintf("%s: %s", s.Status, s.Description)
		}
		return string(s.Status)
	}
	if s.Description != "" {
		return fmt.Sprintf("%s (%s): %s", s.Status, s.Detail, s.Description)
	}
	return fmt.Sprintf("%s (%s)", s.Status, s.Detail)
}
