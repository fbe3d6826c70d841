package protocol

import (
	"bytes"
	"encoding/json"
)

// Kind classifies an envelope by the fields it carries.
type Kind int

const (
	KindUnknown Kind = iota
	KindReady
	KindDisconnect
	KindReconnecting
	KindFetchPropRequest
	KindFetchPropReply
	KindEvalRequest
	KindEvalReply
	KindRespawnAll
	KindFetchProp
	KindEval
)

func (k Kind) String() string {
	switch k {
	case KindReady:
		return "ready"
	case KindDisconnect:
		return "disconnect"
	case KindReconnecting:
		return "reconnecting"
	case KindFetchPropRequest:
		return "fetchPropRequest"
	case KindFetchPropReply:
		return "fetchPropReply"
	case KindEvalRequest:
		return "evalRequest"
	case KindEvalReply:
		return "evalReply"
	case KindRespawnAll:
		return "respawnAll"
	case KindFetchProp:
		return "fetchProp"
	case KindEval:
		return "eval"
	default:
		return "unknown"
	}
}

// Envelope is a single message on the channel between child and parent.
// Pointer fields distinguish "absent" from the zero value, since presence is what identifies a message.
type Envelope struct {
	// ID correlates a request with its reply. Parents that predate it do not echo it.
	ID string `json:"id,omitempty"`

	Ready        bool `json:"ready,omitempty"`
	Disconnect   bool `json:"disconnect,omitempty"`
	Reconnecting bool `json:"reconnecting,omitempty"`

	FetchPropRequest *string `json:"fetchPropRequest,omitempty"`
	FetchPropTarget  *int    `json:"fetchPropTarget,omitempty"`

	EvalRequest *string `json:"evalRequest,omitempty"`
	EvalTarget  *int    `json:"evalTarget,omitempty"`

	RespawnAll *RespawnAll `json:"respawnAll,omitempty"`

	FetchProp *string `json:"fetchProp,omitempty"`
	Eval      *string `json:"eval,omitempty"`

	// Result is set on replies. It is kept raw so the receiver decides what to decode it into.
	Result json.RawMessage `json:"result,omitempty"`
	Error  *PlainError     `json:"error,omitempty"`

	// Payload holds application messages, which have none of the fields above.
	Payload json.RawMessage `json:"-"`
}

// RespawnAll asks the parent to restart every cluster. All durations are in milliseconds.
type RespawnAll struct {
	ClusterDelayMs int64 `json:"clusterDelayMs"`
	RespawnDelayMs int64 `json:"respawnDelayMs"`
	// SpawnTimeoutMs of -1 means the parent does not wait for a respawned cluster to become ready.
	SpawnTimeoutMs int64 `json:"spawnTimeoutMs"`
}

// Kind reports which message the envelope is, by field presence.
// Requests and replies share their fields; a reply is a request-shaped envelope that carries a result or an error.
func (e *Envelope) Kind() Kind {
	switch {
	case e == nil:
		return KindUnknown
	case e.FetchPropRequest != nil:
		if e.isReply() {
			return KindFetchPropReply
		}
		return KindFetchPropRequest
	case e.EvalRequest != nil:
		if e.isReply() {
			return KindEvalReply
		}
		return KindEvalRequest
	case e.FetchProp != nil:
		return KindFetchProp
	case e.Eval != nil:
		return KindEval
	case e.RespawnAll != nil:
		return KindRespawnAll
	case e.Ready:
		return KindReady
	case e.Disconnect:
		return KindDisconnect
	case e.Reconnecting:
		return KindReconnecting
	}
	return KindUnknown
}

func (e *Envelope) isReply() bool {
	return len(e.Result) > 0 || e.Error != nil
}

// envelopeFields is Envelope without its methods, so it can be encoded without recursion.
type envelopeFields Envelope

// MarshalJSON encodes application messages as their raw payload and everything else by field.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Kind() == KindUnknown && len(e.Payload) > 0 {
		return e.Payload, nil
	}
	return json.Marshal(envelopeFields(e))
}

// UnmarshalJSON decodes the known fields and keeps the raw bytes of application messages.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		*e = Envelope{Payload: append(json.RawMessage(nil), trimmed...)}
		return nil
	}
	var f envelopeFields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*e = Envelope(f)
	if e.Kind() == KindUnknown {
		e.Payload = append(json.RawMessage(nil), b...)
	}
	return nil
}

// NewPayload wraps an application-defined value in an envelope.
func NewPayload(v any) (Envelope, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Payload: b}, nil
}

// Clone returns a deep copy of the envelope by round-tripping it through JSON.
func (e Envelope) Clone() (Envelope, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return Envelope{}, err
	}
	var out Envelope
	if err := json.Unmarshal(b, &out); err != nil {
		return Envelope{}, err
	}
	return out, nil
}

// String returns a pointer to s, for building envelopes.
func String(s string) *string { return &s }

// Int returns a pointer to i, for building envelopes.
func Int(i int) *int { return &i }
