// Package controlinterface implements the per-workload Control Interface: a
// Hello/Request/Response protocol carried over its own Stream abstraction,
// one Stream per workload instance, access-checked against the workload's
// AccessRules.
package controlinterface

import (
	"github.com/ankaios/ankaios/internal/wire"
)

// RequestKind discriminates a Request's body.
type RequestKind string

const (
	RequestUpdateState   RequestKind = "UpdateState"
	RequestCompleteState RequestKind = "CompleteState"
	RequestLogs          RequestKind = "Logs"
	RequestLogsCancel    RequestKind = "LogsCancel"
)

// ResponseKind discriminates a Response's body.
type ResponseKind string

const (
	ResponseError              ResponseKind = "Error"
	ResponseCompleteState      ResponseKind = "CompleteState"
	ResponseUpdateStateSuccess ResponseKind = "UpdateStateSuccess"
	ResponseLogsAccepted       ResponseKind = "LogsRequestAccepted"
	ResponseLogEntries         ResponseKind = "LogEntries"
	ResponseLogsStopped        ResponseKind = "LogsStopResponse"
	ResponseLogsCancelAccepted ResponseKind = "LogsCancelAccepted"
)

// Hello is the first message a Control Interface client must send,
// identifying which workload instance it wants to talk to.
type Hello struct {
	WorkloadName string `json:"workloadName"`
}

// Request is a client-initiated Control Interface call. Exactly one of the
// body fields is set, selected by Kind.
type Request struct {
	ID            string             `json:"id"`
	Kind          RequestKind        `json:"kind"`
	UpdateState   *UpdateStateBody   `json:"updateState,omitempty"`
	CompleteState *CompleteStateBody `json:"completeState,omitempty"`
	Logs          *LogsBody          `json:"logs,omitempty"`
	LogsCancel    *LogsCancelBody    `json:"logsCancel,omitempty"`
}

// UpdateStateBody carries a desired-state replacement candidate, scoped by
// the calling workload's write access.
type UpdateStateBody struct {
	NewState   wire.DesiredState `json:"newState"`
	UpdateMask []string          `json:"updateMask"`
}

// CompleteStateBody requests the state filtered to FieldMask, scoped by the
// calling workload's read access.
type CompleteStateBody struct {
	FieldMask []string `json:"fieldMask"`
}

// LogsBody requests a log stream for one or more workload names.
type LogsBody struct {
	WorkloadNames []string `json:"workloadNames"`
	Follow        bool     `json:"follow"`
}

// LogsCancelBody cancels a previously accepted Logs request.
type LogsCancelBody struct {
	RequestID string `json:"requestId"`
}

// Response answers a Request (or, for streamed log entries, is pushed
// unsolicited under the originating request's ID). Exactly one body field
// is set, selected by Kind.
type Response struct {
	ID                 string              `json:"id"`
	Kind               ResponseKind        `json:"kind"`
	Error              *ErrorBody          `json:"error,omitempty"`
	CompleteState      *wire.CompleteState `json:"completeState,omitempty"`
	UpdateStateSuccess *UpdateStateSuccess `json:"updateStateSuccess,omitempty"`
	LogsAccepted       *LogsAccepted       `json:"logsAccepted,omitempty"`
	LogEntries         *LogEntries         `json:"logEntries,omitempty"`
	LogsStopped        *LogsStopped        `json:"logsStopped,omitempty"`
}

// ErrorBody reports a rejected request (access denied, validation failure,
// cycle detected, unknown workload).
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UpdateStateSuccess mirrors messaging.UpdateStateSuccess for the Control
// Interface's own wire shape.
type UpdateStateSuccess struct {
	AddedWorkloads   []wire.WorkloadInstanceName `json:"addedWorkloads"`
	DeletedWorkloads []wire.WorkloadInstanceName `json:"deletedWorkloads"`
}

// LogsAccepted confirms a Logs request was accepted and entries will
// follow as LogEntries responses carrying the same request ID.
type LogsAccepted struct{}

// LogEntries carries a batch of log lines for one workload.
type LogEntries struct {
	WorkloadName string   `json:"workloadName"`
	Lines        []string `json:"lines"`
}

// LogsStopped reports that a log stream ended, either because Follow was
// false and the adapter reached EOF, or a LogsCancel request was served.
type LogsStopped struct {
	Reason string `json:"reason"`
}

// ConnectionClosed is sent in place of any response when the server is
// terminating the connection (failed Hello, unknown workload, access
// configuration error).
type ConnectionClosed struct {
	Reason string `json:"reason"`
}
