// Package messaging defines the server<->agent and server<->commander
// connection abstractions: envelope framing, the version handshake, and a
// pluggable Stream/Transport pair so the same server core can be driven
// over different wire transports.
package messaging

import (
	"github.com/ankaios/ankaios/internal/depgraph"
	"github.com/ankaios/ankaios/internal/wire"
)

// ProtocolVersion is the single handshake version this build accepts.
const ProtocolVersion = "v0.1"

// Kind discriminates an Envelope's payload.
type Kind string

const (
	KindAgentHello           Kind = "AgentHello"
	KindServerHello          Kind = "ServerHello"
	KindAgentGone            Kind = "AgentGone"
	KindCommanderHello       Kind = "CommanderHello"
	KindUpdateStateRequest   Kind = "UpdateStateRequest"
	KindUpdateStateSuccess   Kind = "UpdateStateSuccess"
	KindUpdateWorkloadState  Kind = "UpdateWorkloadState"
	KindCompleteStateRequest Kind = "CompleteStateRequest"
	KindCompleteState        Kind = "CompleteState"
	KindAgentLoadStatus      Kind = "AgentLoadStatus"
	KindAssignedWorkloads    Kind = "AssignedWorkloads"
	KindConnectionClosed     Kind = "ConnectionClosed"
	KindError                Kind = "Error"
)

// Envelope is the single message shape carried over a Stream. Exactly one
// of the typed payload fields is set, selected by Kind. RequestID threads a
// response back to its request; it is empty for messages that carry no
// reply (AgentGone, UpdateWorkloadState fan-out, ConnectionClosed).
type Envelope struct {
	Kind      Kind   `json:"kind"`
	RequestID string `json:"requestId,omitempty"`

	AgentHello           *AgentHello           `json:"agentHello,omitempty"`
	ServerHello          *ServerHello          `json:"serverHello,omitempty"`
	AgentGone            *AgentGone            `json:"agentGone,omitempty"`
	CommanderHello       *CommanderHello       `json:"commanderHello,omitempty"`
	UpdateStateRequest   *UpdateStateRequest   `json:"updateStateRequest,omitempty"`
	UpdateStateSuccess   *UpdateStateSuccess   `json:"updateStateSuccess,omitempty"`
	UpdateWorkloadState  *UpdateWorkloadState  `json:"updateWorkloadState,omitempty"`
	CompleteStateRequest *CompleteStateRequest `json:"completeStateRequest,omitempty"`
	CompleteState        *wire.CompleteState   `json:"completeState,omitempty"`
	AgentLoadStatus      *AgentLoadStatus      `json:"agentLoadStatus,omitempty"`
	AssignedWorkloads    *AssignedWorkloads    `json:"assignedWorkloads,omitempty"`
	ConnectionClosed     *ConnectionClosed     `json:"connectionClosed,omitempty"`
	Error                *Error                `json:"error,omitempty"`
}

// AgentHello is the first message an agent connection must send.
type AgentHello struct {
	AgentName       string `json:"agentName"`
	ProtocolVersion string `json:"protocolVersion"`
}

// AssignedWorkload pairs a rendered workload with the instance name derived
// from it. wire.Workload carries no name of its own (that lives as the key
// in DesiredState.Workloads), so anything handing a workload across the
// wire to an agent must carry the name alongside it.
type AssignedWorkload struct {
	Name     wire.WorkloadInstanceName `json:"name"`
	Workload wire.Workload             `json:"workload"`
}

// ServerHello answers an accepted AgentHello with every workload currently
// scheduled to that agent, plus a snapshot of known workload states
// excluding the agent's own prior entries (those are implicitly
// disconnected until the agent resynchronizes).
type ServerHello struct {
	AddedWorkloads []AssignedWorkload          `json:"addedWorkloads"`
	States         wire.WorkloadStatesMap      `json:"states,omitempty"`
	Guards         map[string][]depgraph.Guard `json:"guards,omitempty"`
}

// AssignedWorkloads is pushed to an already-connected agent whenever an
// UpdateStateRequest changes the set of workloads scheduled to it, outside
// the initial ServerHello handshake.
type AssignedWorkloads struct {
	Added   []AssignedWorkload          `json:"added,omitempty"`
	Deleted []wire.WorkloadInstanceName `json:"deleted,omitempty"`
	Guards  map[string][]depgraph.Guard `json:"guards,omitempty"`
}

// AgentGone is delivered to the server core when an agent connection drops;
// it is never itself serialized from a remote peer, it is synthesized by
// the transport layer (registry) the moment it detects the stream is gone.
type AgentGone struct {
	AgentName string `json:"agentName"`
}

// CommanderHello is the first message a commander connection must send.
type CommanderHello struct {
	Name            string `json:"name"`
	ProtocolVersion string `json:"protocolVersion"`
}

// UpdateStateRequest carries a full desired-state replacement candidate and
// the update mask describing which paths the caller intended to change.
type UpdateStateRequest struct {
	NewState   wire.DesiredState `json:"newState"`
	UpdateMask []string          `json:"updateMask"`
}

// UpdateStateSuccess enumerates the instance names added and deleted as a
// result of applying an UpdateStateRequest.
type UpdateStateSuccess struct {
	AddedWorkloads   []wire.WorkloadInstanceName `json:"addedWorkloads"`
	DeletedWorkloads []wire.WorkloadInstanceName `json:"deletedWorkloads"`
}

// UpdateWorkloadState is sent by an agent to report one or more workload
// instance execution-state transitions, and fanned out by the server to
// every other connected agent.
type UpdateWorkloadState struct {
	AgentName string               `json:"agentName"`
	States    []WorkloadStateEntry `json:"states"`
}

// WorkloadStateEntry pairs one workload instance with its reported
// execution state; json.Marshal cannot key a map by a struct, so
// UpdateWorkloadState carries a slice of these instead of a map.
type WorkloadStateEntry struct {
	Name  wire.WorkloadInstanceName `json:"name"`
	State wire.ExecutionState       `json:"state"`
}

// CompleteStateRequest asks for the CompleteState filtered down to the
// union of FieldMask paths (wildcards expanded server-side).
type CompleteStateRequest struct {
	FieldMask []string `json:"fieldMask"`
}

// AgentLoadStatus reports one agent's current resource attributes.
type AgentLoadStatus struct {
	AgentName       string  `json:"agentName"`
	CPUUsagePercent float64 `json:"cpuUsagePercent"`
	FreeMemoryBytes int64   `json:"freeMemoryBytes"`
}

// ConnectionClosed is sent in place of any response when the connection is
// being terminated by the server side (failed handshake, protocol error).
type ConnectionClosed struct {
	Reason string `json:"reason"`
}

// Error is a generic failure response to any request-bearing message.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
