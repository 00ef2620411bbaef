package bybit

import (
	"errors"
	"fmt"
	"strings"
)

// APIError is a venue-side rejection (non-zero retCode). The engine decides
// per leg whether a rejection is terminal or part of a fallback chain.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit: retCode %d: %s", e.Code, e.Msg)
}

// Trigger-source rejection codes observed on /v5/position/trading-stop.
// 10001 covers parameter errors that mention the trigger field explicitly.
var triggerSourceCodes = map[int]bool{
	110092: true, // sl trigger price invalid for trigger source
	110093: true, // tp trigger price invalid for trigger source
	34040:  true, // tpsl not modified
}

// TriggerSourceRejected reports whether the error is a trigger-source
// rejection that warrants retrying with another trigger price feed.
func (e *APIError) TriggerSourceRejected() bool {
	if triggerSourceCodes[e.Code] {
		return true
	}
	msg := strings.ToLower(e.Msg)
	return e.Code == 10001 && strings.Contains(msg, "trigger")
}

// IsAPIError extracts an *APIError from an error chain
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
