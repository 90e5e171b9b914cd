package twilioapi

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioopenapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/voxgate/voxgate/bus"
	"github.com/voxgate/voxgate/model"
	"github.com/voxgate/voxgate/session"
	"github.com/voxgate/voxgate/storage/storagetest"
	"github.com/voxgate/voxgate/webhook"
)

func testClient(t *testing.T) (*Client, *session.Manager, *bus.MemoryBus) {
	t.Helper()
	store := storagetest.Open(t, model.NewManualClock(time.Time{}))
	sessions := session.NewManager(
		store, webhook.NewMockClient(), session.InboundConfig{}, "2010-04-01", zerolog.Nop())
	transport := bus.NewMemoryBus()
	return NewClient("2010-04-01", sessions, store, transport, model.NewManualClock(time.Time{})), sessions, transport
}

func newCallParams(from, to, callURL string) *twilioopenapi.CreateCallParams {
	params := &twilioopenapi.CreateCallParams{}
	params.SetPathAccountSid("AC123")
	params.SetFrom(from)
	params.SetTo(to)
	params.SetUrl(callURL)
	return params
}

func TestCreateCall(t *testing.T) {
	client, _, transport := testClient(t)

	call, err := client.CreateCall(context.Background(),
		newCallParams("+12345", "+54321", "http://example.org/call.xml"))
	require.NoError(t, err)

	assert.NotEmpty(t, *call.Sid)
	assert.Equal(t, "AC123", *call.AccountSid)
	assert.Equal(t, "queued", *call.Status)
	assert.Equal(t, "outbound-api", *call.Direction)
	assert.Equal(t, "+12345", *call.From)
	assert.Equal(t, "+54321", *call.To)
	assert.Equal(t, "/2010-04-01/Accounts/AC123/Calls/"+*call.Sid+".json", *call.Uri)

	msg := transport.Last()
	require.NotNil(t, msg)
	assert.Equal(t, bus.SessionNew, msg.SessionEvent)
	assert.Equal(t, "+54321", msg.To)
}

func TestCreateCallPersistsDialControls(t *testing.T) {
	client, sessions, transport := testClient(t)

	params := newCallParams("+12345", "+54321", "http://example.org/call.xml")
	params.SetTimeout(25)
	params.SetRecord(true)
	params.SetSendDigits("12#*w")
	_, err := client.CreateCall(context.Background(), params)
	require.NoError(t, err)

	msg := transport.Last()
	require.NotNil(t, msg)
	sess, err := sessions.ResolveCorrelated(msg.MessageID)
	require.NoError(t, err)
	assert.Equal(t, 25, sess.Timeout)
	assert.True(t, sess.Record)
	assert.Equal(t, "12#*w", sess.SendDigits)
}

func TestCreateCallMissingFields(t *testing.T) {
	client, _, transport := testClient(t)

	params := newCallParams("+12345", "+54321", "http://example.org/call.xml")
	params.To = nil
	_, err := client.CreateCall(context.Background(), params)
	require.Error(t, err)

	params = newCallParams("+12345", "+54321", "")
	_, err = client.CreateCall(context.Background(), params)
	require.Error(t, err)

	assert.Nil(t, transport.Last())
}

func TestListCall(t *testing.T) {
	client, _, _ := testClient(t)

	_, err := client.CreateCall(context.Background(),
		newCallParams("+12345", "+54321", "http://example.org/call.xml"))
	require.NoError(t, err)
	_, err = client.CreateCall(context.Background(),
		newCallParams("+12345", "+67890", "http://example.org/call.xml"))
	require.NoError(t, err)

	calls, err := client.ListCall(nil)
	require.NoError(t, err)
	assert.Len(t, calls, 2)

	params := &twilioopenapi.ListCallParams{}
	params.SetTo("+67890")
	calls, err = client.ListCall(params)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "+67890", *calls[0].To)

	params = &twilioopenapi.ListCallParams{}
	params.SetStatus("completed")
	calls, err = client.ListCall(params)
	require.NoError(t, err)
	assert.Empty(t, calls)
}
