package voiceagent

import "fmt"

const (
	CloseNormalClosure = 1000
	CloseAbnormal      = 1006
)

var closeReasons = map[int]string{
	1000: "Normal closure",
	1001: "Going away - client/server is disconnecting",
	1002: "Protocol error",
	1003: "Unsupported data",
	1004: "Reserved",
	1005: "No status received",
	1006: "Abnormal closure - connection dropped",
	1007: "Invalid frame payload data",
	1008: "Policy violation",
	1009: "Message too big",
	1010: "Mandatory extension missing",
	1011: "Internal server error",
	1012: "Service restart",
	1013: "Try again later",
	1014: "Bad gateway",
	1015: "TLS handshake failure",
}

// CloseReason renders a WebSocket close code as a human-readable reason.
func CloseReason(code int) string {
	if reason, ok := closeReasons[code]; ok {
		return reason
	}
	return fmt.Sprintf("Unknown code: %d", code)
}
