// Package wsproto defines the on-wire envelope, payload discriminants, and
// error shape shared by every connection handler. It has no dependency on
// storage, authorization, or transport so it can be imported standalone by
// a future CLI or test harness without pulling in the rest of the server.
package wsproto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the payload carried by an Envelope. Go has no tagged-union
// type, so routing is done on this discriminant plus a payload lookup
// (json.RawMessage, decoded lazily by the handler that owns that Kind).
type Kind string

const (
	KindPing    Kind = "Ping"
	KindPong    Kind = "Pong"
	KindSubscribe   Kind = "Subscribe"
	KindUnsubscribe Kind = "Unsubscribe"
	KindSubscriptionAck Kind = "SubscriptionAck"

	KindCreateWorkItem Kind = "CreateWorkItem"
	KindUpdateWorkItem Kind = "UpdateWorkItem"
	KindDeleteWorkItem Kind = "DeleteWorkItem"
	KindGetWorkItems   Kind = "GetWorkItems"

	KindCreateProject Kind = "CreateProject"
	KindUpdateProject Kind = "UpdateProject"
	KindDeleteProject Kind = "DeleteProject"
	KindListProjects  Kind = "ListProjects"

	KindCreateSprint Kind = "CreateSprint"
	KindUpdateSprint Kind = "UpdateSprint"
	KindDeleteSprint Kind = "DeleteSprint"
	KindGetSprint    Kind = "GetSprint"

	KindCreateComment Kind = "CreateComment"
	KindUpdateComment Kind = "UpdateComment"
	KindDeleteComment Kind = "DeleteComment"
	KindGetComments   Kind = "GetComments"

	KindCreateDependency Kind = "CreateDependency"
	KindDeleteDependency Kind = "DeleteDependency"
	KindGetDependencies  Kind = "GetDependencies"

	KindStartTimer     Kind = "StartTimer"
	KindStopTimer      Kind = "StopTimer"
	KindCreateTimeEntry Kind = "CreateTimeEntry"
	KindUpdateTimeEntry Kind = "UpdateTimeEntry"
	KindDeleteTimeEntry Kind = "DeleteTimeEntry"
	KindGetTimeEntries  Kind = "GetTimeEntries"
	KindGetRunningTimer Kind = "GetRunningTimer"

	KindGetActivityLog Kind = "GetActivityLog"

	KindErrorResponse Kind = "Error"
)

// Envelope is the length-prefixed binary frame's logical content once the
// length prefix has been stripped by the transport layer. Encoding itself is
// JSON; the length prefix guards against partial reads on the socket, not
// against ambiguous message boundaries inside the payload.
type Envelope struct {
	MessageID string          `json:"message_id"`
	Timestamp int64           `json:"timestamp"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	// ProjectID and ResourceKind tag a server-initiated broadcast with the
	// (project_id, resource_kind) filter tuple (spec.md §4.4) a connection's
	// subscription set matches against. They are never set on a client
	// request or a direct reply, and are excluded from the wire encoding:
	// they exist only for internal/transport/wsocket's write pump to route
	// on, not for the client to see.
	ProjectID    string `json:"-"`
	ResourceKind string `json:"-"`
}

// NewMessageID mints a fresh client-style message id for server-initiated
// frames (broadcasts, subscription acks).
func NewMessageID() string {
	return uuid.NewString()
}

// Now is the timestamp convention used when building response envelopes.
func Now() int64 {
	return time.Now().UTC().Unix()
}

// Reply wraps a response payload under the request's message_id.
func Reply(requestID string, kind Kind, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		MessageID: requestID,
		Timestamp: Now(),
		Kind:      kind,
		Payload:   raw,
	}, nil
}

// ReplyError builds the framed error envelope for a given request.
func ReplyError(requestID string, err *Error) *Envelope {
	raw, _ := json.Marshal(err)
	return &Envelope{
		MessageID: requestID,
		Timestamp: Now(),
		Kind:      KindErrorResponse,
		Payload:   raw,
	}
}

// Event builds a server-initiated broadcast envelope (no caller message_id).
func Event(kind Kind, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		MessageID: NewMessageID(),
		Timestamp: Now(),
		Kind:      kind,
		Payload:   raw,
	}, nil
}
