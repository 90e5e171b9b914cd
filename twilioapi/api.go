// Package twilioapi provides a typed, in-process facade over call placement,
// using the twilio-go request and response types so callers written against
// Twilio's SDK can drive the emulator directly.
package twilioapi

import (
	"context"
	"fmt"
	"time"

	twilioopenapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/voxgate/voxgate/bus"
	"github.com/voxgate/voxgate/model"
	"github.com/voxgate/voxgate/session"
	"github.com/voxgate/voxgate/storage"
)

// Client places and inspects calls with twilio-go types.
type Client struct {
	version   string
	sessions  *session.Manager
	store     *storage.Store
	publisher bus.Publisher
	clock     model.Clock
}

func NewClient(version string, sessions *session.Manager, store *storage.Store, publisher bus.Publisher, clock model.Clock) *Client {
	return &Client{
		version:   version,
		sessions:  sessions,
		store:     store,
		publisher: publisher,
		clock:     clock,
	}
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func orPost(p *string) string {
	if s := str(p); s != "" {
		return s
	}
	return "POST"
}

func timeoutOrDefault(p *int) int {
	if p == nil {
		return 60
	}
	return *p
}

// CreateCall opens an outbound call: it publishes the session-open message on
// the transport and records the queued session, returning the call resource.
func (c *Client) CreateCall(ctx context.Context, params *twilioopenapi.CreateCallParams) (*twilioopenapi.ApiV2010Call, error) {
	from, to := str(params.From), str(params.To)
	if from == "" {
		return nil, fmt.Errorf("required field 'From' not supplied")
	}
	if to == "" {
		return nil, fmt.Errorf("required field 'To' not supplied")
	}
	if str(params.Url) == "" && str(params.ApplicationSid) == "" {
		return nil, fmt.Errorf("request must have an 'Url' or an 'ApplicationSid' field")
	}

	msg := bus.NewUserMessage(from, to)
	msg.SessionEvent = bus.SessionNew
	if err := c.publisher.Publish(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to publish call message: %w", err)
	}

	sess, err := c.sessions.StartOutbound(session.OutboundCall{
		AccountSID:           str(params.PathAccountSid),
		From:                 from,
		To:                   to,
		URL:                  str(params.Url),
		Method:               orPost(params.Method),
		FallbackURL:          str(params.FallbackUrl),
		FallbackMethod:       orPost(params.FallbackMethod),
		StatusCallback:       str(params.StatusCallback),
		StatusCallbackMethod: orPost(params.StatusCallbackMethod),
		Timeout:              timeoutOrDefault(params.Timeout),
		Record:               params.Record != nil && *params.Record,
		SendDigits:           str(params.SendDigits),
	}, msg.MessageID)
	if err != nil {
		return nil, err
	}
	return c.buildCallResponse(sess), nil
}

// ListCall returns the live calls matching the filter, in address order.
func (c *Client) ListCall(params *twilioopenapi.ListCallParams) ([]twilioopenapi.ApiV2010Call, error) {
	sessions, err := c.store.ListSessions()
	if err != nil {
		return nil, err
	}

	calls := make([]twilioopenapi.ApiV2010Call, 0, len(sessions))
	for _, sess := range sessions {
		if params != nil {
			if f := str(params.From); f != "" && f != sess.From {
				continue
			}
			if f := str(params.To); f != "" && f != sess.To {
				continue
			}
			if f := str(params.Status); f != "" && f != string(sess.Status) {
				continue
			}
		}
		calls = append(calls, *c.buildCallResponse(sess))
	}
	return calls, nil
}

func (c *Client) buildCallResponse(sess *model.Session) *twilioopenapi.ApiV2010Call {
	sid := sess.CallID
	accountSid := sess.AccountSID
	status := string(sess.Status)
	direction := string(sess.Direction)
	version := c.version
	now := c.clock.Now().UTC().Format(time.RFC1123Z)
	uri := fmt.Sprintf("/%s/Accounts/%s/Calls/%s.json", c.version, sess.AccountSID, sess.CallID)

	resp := &twilioopenapi.ApiV2010Call{
		Sid:         &sid,
		AccountSid:  &accountSid,
		Status:      &status,
		Direction:   &direction,
		ApiVersion:  &version,
		DateCreated: &now,
		DateUpdated: &now,
		Uri:         &uri,
	}
	if sess.From != "" {
		from := sess.From
		resp.From = &from
	}
	if sess.To != "" {
		to := sess.To
		resp.To = &to
	}
	return resp
}
