package controlinterface

import (
	"context"
	"fmt"

	"github.com/ankaios/ankaios/internal/controlinterface/access"
	"github.com/ankaios/ankaios/internal/statestore"
	"github.com/ankaios/ankaios/internal/wire"
)

// StateReader answers CompleteState reads, as internal/statestore.Store
// does.
type StateReader interface {
	GetFields(masks []string) (map[string]interface{}, error)
}

// StateUpdater applies a validated desired-state replacement, as the
// server core's update pipeline does (render, cycle-check, diff, commit).
type StateUpdater interface {
	ApplyUpdate(ctx context.Context, newState wire.DesiredState, updateMask []string) (added, deleted []wire.WorkloadInstanceName, err error)
}

// LogStreamer starts and cancels log streams for workload names.
type LogStreamer interface {
	StartLogs(ctx context.Context, requestID string, workloadNames []string, follow bool, deliver func(workloadName, line string)) error
	CancelLogs(requestID string)
}

// Handler serves Control Interface requests for a single workload
// instance, scoped by that workload's AccessRules. PushLogEntry is called
// from the log-delivery goroutine for every line produced by an accepted
// Logs request; the connection loop wires it to send a Response carrying
// ResponseLogEntries under the originating request ID.
type Handler struct {
	workloadName string
	rules        wire.AccessRules
	reader       StateReader
	updater      StateUpdater
	logs         LogStreamer
	PushLogEntry func(requestID, workloadName, line string)
}

// New returns a Handler enforcing rules for every request it serves.
func New(workloadName string, rules wire.AccessRules, reader StateReader, updater StateUpdater, logs LogStreamer) *Handler {
	return &Handler{
		workloadName: workloadName,
		rules:        rules,
		reader:       reader,
		updater:      updater,
		logs:         logs,
		PushLogEntry: func(requestID, workloadName, line string) {},
	}
}

// Serve dispatches req to the operation named by its Kind and returns the
// Response to send back (never nil).
func (h *Handler) Serve(ctx context.Context, req *Request) *Response {
	switch req.Kind {
	case RequestCompleteState:
		return h.serveCompleteState(req)
	case RequestUpdateState:
		return h.serveUpdateState(ctx, req)
	case RequestLogs:
		return h.serveLogs(ctx, req)
	case RequestLogsCancel:
		return h.serveLogsCancel(req)
	default:
		return errorResponse(req.ID, "UNKNOWN_REQUEST_KIND", fmt.Sprintf("unknown request kind %q", req.Kind))
	}
}

func (h *Handler) serveCompleteState(req *Request) *Response {
	if req.CompleteState == nil {
		return errorResponse(req.ID, "INVALID_REQUEST", "completeState body is required")
	}
	masks := req.CompleteState.FieldMask
	if len(masks) == 0 {
		masks = []string{""}
	}
	if access.EvaluateState(h.rules, wire.OpRead, masks) != access.Allow {
		return errorResponse(req.ID, "ACCESS_DENIED", "read access denied for requested field mask")
	}
	tree, err := h.reader.GetFields(masks)
	if err != nil {
		return errorResponse(req.ID, "READ_FAILED", err.Error())
	}
	var state wire.CompleteState
	if err := statestore.FromTree(tree, &state); err != nil {
		return errorResponse(req.ID, "READ_FAILED", err.Error())
	}
	return &Response{ID: req.ID, Kind: ResponseCompleteState, CompleteState: &state}
}

func (h *Handler) serveUpdateState(ctx context.Context, req *Request) *Response {
	if req.UpdateState == nil {
		return errorResponse(req.ID, "INVALID_REQUEST", "updateState body is required")
	}
	masks := req.UpdateState.UpdateMask
	if len(masks) == 0 {
		masks = []string{""}
	}
	if access.EvaluateState(h.rules, wire.OpWrite, masks) != access.Allow {
		return errorResponse(req.ID, "ACCESS_DENIED", "write access denied for requested update mask")
	}
	added, deleted, err := h.updater.ApplyUpdate(ctx, req.UpdateState.NewState, req.UpdateState.UpdateMask)
	if err != nil {
		return errorResponse(req.ID, "UPDATE_FAILED", err.Error())
	}
	return &Response{
		ID:                 req.ID,
		Kind:               ResponseUpdateStateSuccess,
		UpdateStateSuccess: &UpdateStateSuccess{AddedWorkloads: added, DeletedWorkloads: deleted},
	}
}

func (h *Handler) serveLogs(ctx context.Context, req *Request) *Response {
	if req.Logs == nil || len(req.Logs.WorkloadNames) == 0 {
		return errorResponse(req.ID, "INVALID_REQUEST", "logs body with at least one workload name is required")
	}
	for _, name := range req.Logs.WorkloadNames {
		if access.EvaluateLog(h.rules, name) != access.Allow {
			return errorResponse(req.ID, "ACCESS_DENIED", fmt.Sprintf("log access denied for workload %q", name))
		}
	}
	deliver := func(workloadName, line string) { h.PushLogEntry(req.ID, workloadName, line) }
	if err := h.logs.StartLogs(ctx, req.ID, req.Logs.WorkloadNames, req.Logs.Follow, deliver); err != nil {
		return errorResponse(req.ID, "LOGS_FAILED", err.Error())
	}
	return &Response{ID: req.ID, Kind: ResponseLogsAccepted, LogsAccepted: &LogsAccepted{}}
}

func (h *Handler) serveLogsCancel(req *Request) *Response {
	if req.LogsCancel == nil || req.LogsCancel.RequestID == "" {
		return errorResponse(req.ID, "INVALID_REQUEST", "logsCancel body with requestId is required")
	}
	h.logs.CancelLogs(req.LogsCancel.RequestID)
	return &Response{ID: req.ID, Kind: ResponseLogsCancelAccepted}
}

func errorResponse(id, code, message string) *Response {
	return &Response{ID: id, Kind: ResponseError, Error: &ErrorBody{Code: code, Message: message}}
}
