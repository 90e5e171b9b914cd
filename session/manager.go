// Package session owns call session lifecycle: creation on either side of
// the transport, status transitions, correlation of delivery events, and
// teardown with its status callback.
package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/voxgate/voxgate/bus"
	"github.com/voxgate/voxgate/model"
	"github.com/voxgate/voxgate/storage"
	"github.com/voxgate/voxgate/webhook"
)

// InboundConfig holds the statically configured endpoints applied to calls
// originated by the remote party.
type InboundConfig struct {
	URL                  string
	Method               string
	StatusCallback       string
	StatusCallbackMethod string
}

// OutboundCall carries the caller-supplied fields of an API-originated call.
type OutboundCall struct {
	AccountSID           string
	From                 string
	To                   string
	URL                  string
	Method               string
	FallbackURL          string
	FallbackMethod       string
	StatusCallback       string
	StatusCallbackMethod string
	Timeout              int
	Record               bool
	SendDigits           string
	IfMachine            string
}

// Manager creates, advances and tears down call sessions.
type Manager struct {
	store      *storage.Store
	client     webhook.Client
	inbound    InboundConfig
	apiVersion string
	log        zerolog.Logger
}

func NewManager(store *storage.Store, client webhook.Client, inbound InboundConfig, apiVersion string, log zerolog.Logger) *Manager {
	return &Manager{
		store:      store,
		client:     client,
		inbound:    inbound,
		apiVersion: apiVersion,
		log:        log,
	}
}

// StartOutbound persists a queued session for an API-originated call, keyed
// by the remote party, and registers the published message id so the
// transport's delivery report can be traced back to it.
func (m *Manager) StartOutbound(call OutboundCall, messageID string) (*model.Session, error) {
	sess := &model.Session{
		Address:              call.To,
		CallID:               model.NewSID(),
		AccountSID:           call.AccountSID,
		From:                 call.From,
		To:                   call.To,
		Status:               model.CallQueued,
		Direction:            model.OutboundAPI,
		URL:                  call.URL,
		Method:               call.Method,
		FallbackURL:          call.FallbackURL,
		FallbackMethod:       call.FallbackMethod,
		StatusCallback:       call.StatusCallback,
		StatusCallbackMethod: call.StatusCallbackMethod,
		Timeout:              call.Timeout,
		Record:               call.Record,
		SendDigits:           call.SendDigits,
		IfMachine:            call.IfMachine,
	}
	if err := m.store.CreateSession(sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if err := m.store.SetID(messageID, sess.Address); err != nil {
		return nil, fmt.Errorf("failed to register message id: %w", err)
	}
	return sess, nil
}

// StartInbound persists an in-progress session for a call originated by the
// remote party, keyed by their address. The markup and callback endpoints
// come from static configuration rather than the request.
func (m *Manager) StartInbound(msg *bus.UserMessage) (*model.Session, error) {
	sess := &model.Session{
		Address:              msg.From,
		CallID:               model.NewSID(),
		AccountSID:           model.NewSID(),
		From:                 msg.From,
		To:                   msg.To,
		Status:               model.CallInProgress,
		Direction:            model.Inbound,
		URL:                  m.inbound.URL,
		Method:               m.inbound.Method,
		StatusCallback:       m.inbound.StatusCallback,
		StatusCallbackMethod: m.inbound.StatusCallbackMethod,
	}
	if err := m.store.CreateSession(sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if err := m.store.SetID(msg.MessageID, sess.Address); err != nil {
		return nil, fmt.Errorf("failed to register message id: %w", err)
	}
	return sess, nil
}

// ResolveCorrelated maps a delivery report's message id back to its session,
// consuming the correlation entry so a redelivered report resolves nothing.
// Returns storage.ErrNotFound when the id is unknown, expired or already
// consumed, or when the session itself is gone.
func (m *Manager) ResolveCorrelated(messageID string) (*model.Session, error) {
	address, err := m.store.ConsumeID(messageID)
	if err != nil {
		return nil, err
	}
	return m.store.LoadSession(address)
}

// Load returns the session for a remote party address.
func (m *Manager) Load(address string) (*model.Session, error) {
	return m.store.LoadSession(address)
}

// Advance moves the session to a new status and persists it.
func (m *Manager) Advance(sess *model.Session, status model.CallStatus) error {
	sess.Status = status
	if err := m.store.SaveSession(sess); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Save persists the session as is.
func (m *Manager) Save(sess *model.Session) error {
	return m.store.SaveSession(sess)
}

// Terminate removes the session and, when a status callback is configured,
// reports the call completed to it. Callback failures are logged but do not
// fail the teardown.
func (m *Manager) Terminate(ctx context.Context, sess *model.Session) error {
	if err := m.store.ClearSession(sess.Address); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}

	cb := sess.StatusCallback
	if cb == "" || cb == "None" {
		return nil
	}

	sess.Status = model.CallCompleted
	method := sess.StatusCallbackMethod
	if method == "" {
		method = "POST"
	}
	status, _, err := m.client.Do(ctx, method, cb, webhook.Params(sess, m.apiVersion))
	if err != nil {
		m.log.Warn().Err(err).
			Str("call_sid", sess.CallID).
			Str("url", cb).
			Msg("status callback failed")
		return nil
	}
	if status < 200 || status >= 300 {
		m.log.Warn().Int("status", status).
			Str("call_sid", sess.CallID).
			Str("url", cb).
			Msg("status callback returned error status")
	}
	return nil
}
