package model

import (
	"strings"

	"github.com/google/uuid"
)

// CallStatus represents the current status of a call session.
type CallStatus string

const (
	CallQueued     CallStatus = "queued"
	CallInProgress CallStatus = "in-progress"
	CallFailed     CallStatus = "failed"
	CallCompleted  CallStatus = "completed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s CallStatus) IsTerminal() bool { return s == CallCompleted }

// Direction represents whether a call was originated via the REST API or
// arrived from the transport.
type Direction string

const (
	OutboundAPI Direction = "outbound-api"
	Inbound     Direction = "inbound"
)

// Session is the persisted per-call record, keyed by the remote party address.
// It is owned by the session manager; other components receive it for the
// duration of one interpretation pass and must not retain it.
type Session struct {
	// Address is the remote party address the session is keyed by: the callee
	// for outbound calls, the caller for inbound ones. Transport messages for
	// this call are addressed to it.
	Address string `json:"address"`

	CallID     string     `json:"call_id"`
	AccountSID string     `json:"account_sid"`
	From       string     `json:"from"`
	To         string     `json:"to"`
	Status     CallStatus `json:"status"`
	Direction  Direction  `json:"direction"`

	URL            string `json:"url"`
	Method         string `json:"method"`
	FallbackURL    string `json:"fallback_url,omitempty"`
	FallbackMethod string `json:"fallback_method,omitempty"`

	StatusCallback       string `json:"status_callback,omitempty"`
	StatusCallbackMethod string `json:"status_callback_method,omitempty"`

	// Dial controls captured at create time and handed to the transport:
	// Timeout is the answer wait in seconds, SendDigits are keyed once the
	// call connects, IfMachine picks the answering-machine behavior.
	Timeout    int    `json:"timeout,omitempty"`
	Record     bool   `json:"record,omitempty"`
	SendDigits string `json:"send_digits,omitempty"`
	IfMachine  string `json:"if_machine,omitempty"`

	// GatherAction/GatherMethod are set while a gather is pending: they name
	// the endpoint to refetch markup from once the digit reply arrives.
	GatherAction string `json:"gather_action,omitempty"`
	GatherMethod string `json:"gather_method,omitempty"`
}

// GatherPending reports whether the session is suspended waiting for digits.
func (s *Session) GatherPending() bool {
	return s.GatherAction != "" && s.GatherMethod != ""
}

// NewSID returns a new opaque, dash-free session identifier.
func NewSID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
