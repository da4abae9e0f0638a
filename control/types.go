// Package control exposes the daemon's operations over a local HTTP
// and WebSocket API. This file contains the public JSON types, which
// are decoupled from the internal session types so the wire format
// stays stable across internal refactors.
package control

import (
	"errors"
	"net/http"
	"time"

	"github.com/ikesession/ikesessiond/common"
	"github.com/ikesession/ikesessiond/history"
	"github.com/ikesession/ikesessiond/session"
	"github.com/ikesession/ikesessiond/tun"
)

// timeNow abstracts time for tests.
var timeNow = time.Now

// StateView is the JSON shape of a session snapshot or phase event.
type StateView struct {
	Phase      string `json:"phase"`
	Generation uint64 `json:"generation"`
	Server     string `json:"server,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
}

// HealthView summarizes the connectivity monitor.
type HealthView struct {
	State            string `json:"state"`
	LastCheck        string `json:"last_check,omitempty"`
	ConsecutiveFails int    `json:"consecutive_fails,omitempty"`
	LastError        string `json:"last_error,omitempty"`
}

// StatusResponse is the top-level payload for GET /v1/status.
type StatusResponse struct {
	State       StateView  `json:"state"`
	Engine      string     `json:"engine"`
	Device      string     `json:"device,omitempty"`
	UptimeSec   int64      `json:"uptime_sec"`
	Health      HealthView `json:"health"`
	Stats       *tun.Stats `json:"stats,omitempty"`
	Version     string     `json:"version"`
	GeneratedAt string     `json:"generated_at"`
}

// ConnectRequest is the payload for POST /v1/connect. The PSK is
// carried only in the request body, never echoed back or logged.
type ConnectRequest struct {
	Server     string `json:"server"`
	Identifier string `json:"identifier"`
	PSK        string `json:"psk"`
}

// PermissionResponse is the payload for GET /v1/permission.
type PermissionResponse struct {
	Allowed   bool   `json:"allowed"`
	CheckedAt string `json:"checked_at"`
}

// HistoryResponse is the payload for GET /v1/history.
type HistoryResponse struct {
	Attempts []Attempt `json:"attempts"`
}

// Attempt mirrors one journal row.
type Attempt struct {
	ID          string `json:"id"`
	Generation  uint64 `json:"generation"`
	Server      string `json:"server"`
	Identifier  string `json:"identifier"`
	StartedAt   string `json:"started_at"`
	ConnectedAt string `json:"connected_at,omitempty"`
	EndedAt     string `json:"ended_at,omitempty"`
	Outcome     string `json:"outcome"`
	Error       string `json:"error,omitempty"`
}

// EventMessage is one frame on the /v1/events WebSocket. A client
// receives a "snapshot" frame on join, then a "state" frame per phase
// change.
type EventMessage struct {
	Type      string    `json:"type"`
	State     StateView `json:"state"`
	Timestamp string    `json:"timestamp"`
}

// Frame types for EventMessage.
const (
	MsgSnapshot = "snapshot"
	MsgState    = "state"
)

// APIError is the standard error payload.
type APIError struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Timestamp string `json:"timestamp"`
}

// stateView maps a session state to its wire shape.
func stateView(st session.State) StateView {
	v := StateView{
		Phase:      st.Phase.String(),
		Generation: st.Generation,
		Server:     st.Server,
		Identifier: st.Identifier,
	}
	if st.Err != nil {
		v.Error = st.Err.Error()
		v.ErrorCode = errorCode(st.Err)
	}
	return v
}

// Stable machine-readable error codes carried alongside messages.
const (
	CodeInvalidConfig         = "invalid_config"
	CodePermissionDenied      = "permission_denied"
	CodePermissionUnavailable = "permission_unavailable"
	CodeRequestInFlight       = "permission_request_in_flight"
	CodeAlreadyConnected      = "already_connected"
	CodeAlreadyInProgress     = "already_in_progress"
	CodeConnectionError       = "connection_error"
	CodeDisconnectionError    = "disconnection_error"
	CodeCancelled             = "cancelled"
	CodeUnauthorized          = "unauthorized"
	CodeNotRunning            = "not_running"
	CodeInternal              = "internal"
)

// errorCode maps a daemon error to its stable wire code.
func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, common.ErrInvalidConfig):
		return CodeInvalidConfig
	case errors.Is(err, common.ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, common.ErrPermissionUnavailable):
		return CodePermissionUnavailable
	case errors.Is(err, common.ErrRequestInFlight):
		return CodeRequestInFlight
	case errors.Is(err, common.ErrAlreadyConnected):
		return CodeAlreadyConnected
	case errors.Is(err, common.ErrAlreadyInProgress):
		return CodeAlreadyInProgress
	case errors.Is(err, common.ErrConnectionFailed):
		return CodeConnectionError
	case errors.Is(err, common.ErrDisconnectFailed):
		return CodeDisconnectionError
	case errors.Is(err, common.ErrCancelled):
		return CodeCancelled
	case errors.Is(err, common.ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, common.ErrNotRunning):
		return CodeNotRunning
	default:
		return CodeInternal
	}
}

// codeToError maps a wire code back to its sentinel, so clients can
// use errors.Is across the API boundary.
func codeToError(code string) error {
	switch code {
	case CodeInvalidConfig:
		return common.ErrInvalidConfig
	case CodePermissionDenied:
		return common.ErrPermissionDenied
	case CodePermissionUnavailable:
		return common.ErrPermissionUnavailable
	case CodeRequestInFlight:
		return common.ErrRequestInFlight
	case CodeAlreadyConnected:
		return common.ErrAlreadyConnected
	case CodeAlreadyInProgress:
		return common.ErrAlreadyInProgress
	case CodeConnectionError:
		return common.ErrConnectionFailed
	case CodeDisconnectionError:
		return common.ErrDisconnectFailed
	case CodeCancelled:
		return common.ErrCancelled
	case CodeUnauthorized:
		return common.ErrUnauthorized
	case CodeNotRunning:
		return common.ErrNotRunning
	default:
		return nil
	}
}

// httpStatus maps a daemon error to the response status.
func httpStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, common.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, common.ErrAlreadyConnected),
		errors.Is(err, common.ErrAlreadyInProgress),
		errors.Is(err, common.ErrRequestInFlight),
		errors.Is(err, common.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, common.ErrConnectionFailed):
		return http.StatusBadGateway
	case errors.Is(err, common.ErrPermissionUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// attemptView maps a journal row to its wire shape.
func attemptView(a history.Attempt) Attempt {
	v := Attempt{
		ID:         a.ID,
		Generation: a.Generation,
		Server:     a.Server,
		Identifier: a.Identifier,
		StartedAt:  a.StartedAt.UTC().Format(time.RFC3339),
		Outcome:    a.Outcome,
		Error:      a.Error,
	}
	if a.ConnectedAt != nil {
		v.ConnectedAt = a.ConnectedAt.UTC().Format(time.RFC3339)
	}
	if a.EndedAt != nil {
		v.EndedAt = a.EndedAt.UTC().Format(time.RFC3339)
	}
	return v
}

// healthView maps the monitor state to its wire shape.
func healthView(h session.Health) HealthView {
	v := HealthView{
		State:            h.State.String(),
		ConsecutiveFails: h.ConsecutiveFails,
		LastError:        h.LastError,
	}
	if !h.LastCheck.IsZero() {
		v.LastCheck = h.LastCheck.UTC().Format(time.RFC3339)
	}
	return v
}

// rfc3339 renders a timestamp for error payloads.
func rfc3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
