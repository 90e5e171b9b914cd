package webhook

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxgate/voxgate/model"
	"github.com/voxgate/voxgate/twiml"
)

const markup = `<?xml version="1.0" encoding="UTF-8"?>
<Response><Play>http://example.org/a.mp3</Play></Response>`

func testFetcher(client Client) *Fetcher {
	return NewFetcher(client, twiml.NewParser(), "2010-04-01")
}

func fetchSession() *model.Session {
	return &model.Session{
		Address:        "+54321",
		CallID:         "CA123",
		AccountSID:     "AC123",
		From:           "+12345",
		To:             "+54321",
		Status:         model.CallInProgress,
		Direction:      model.OutboundAPI,
		URL:            "http://primary.example/call.xml",
		Method:         "POST",
		FallbackURL:    "http://fallback.example/call.xml",
		FallbackMethod: "GET",
	}
}

func TestFetchSendsStandardParams(t *testing.T) {
	mock := NewMockClient()
	mock.ResponseFunc = func(_, _ string, _ url.Values) (int, []byte, error) {
		return 200, []byte(markup), nil
	}

	verbs, err := testFetcher(mock).Fetch(context.Background(), fetchSession(), nil)
	require.NoError(t, err)
	require.Len(t, verbs, 1)

	require.Len(t, mock.Calls, 1)
	call := mock.Calls[0]
	assert.Equal(t, "POST", call.Method)
	assert.Equal(t, "http://primary.example/call.xml", call.URL)
	assert.Equal(t, "CA123", call.Form.Get("CallSid"))
	assert.Equal(t, "AC123", call.Form.Get("AccountSid"))
	assert.Equal(t, "+12345", call.Form.Get("From"))
	assert.Equal(t, "+54321", call.Form.Get("To"))
	assert.Equal(t, "in-progress", call.Form.Get("CallStatus"))
	assert.Equal(t, "2010-04-01", call.Form.Get("ApiVersion"))
	assert.Equal(t, "outbound-api", call.Form.Get("Direction"))
}

func TestFetchRetriesFallbackOnce(t *testing.T) {
	mock := NewMockClient()
	mock.ResponseFunc = func(_, u string, _ url.Values) (int, []byte, error) {
		if u == "http://primary.example/call.xml" {
			return 500, nil, nil
		}
		return 200, []byte(markup), nil
	}

	verbs, err := testFetcher(mock).Fetch(context.Background(), fetchSession(), nil)
	require.NoError(t, err)
	require.Len(t, verbs, 1)

	require.Len(t, mock.Calls, 2)
	assert.Equal(t, "http://fallback.example/call.xml", mock.Calls[1].URL)
	assert.Equal(t, "GET", mock.Calls[1].Method)
}

func TestFetchBothEndpointsFailing(t *testing.T) {
	mock := NewMockClient()
	mock.ResponseFunc = func(_, _ string, _ url.Values) (int, []byte, error) {
		return 503, nil, nil
	}

	_, err := testFetcher(mock).Fetch(context.Background(), fetchSession(), nil)
	require.Error(t, err)

	var ferr *FetchError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, "http://fallback.example/call.xml", ferr.URL)
	assert.Equal(t, 503, ferr.Status)

	// Never a third attempt.
	assert.Len(t, mock.Calls, 2)
}

func TestFetchNoFallbackConfigured(t *testing.T) {
	mock := NewMockClient()
	mock.ResponseFunc = func(_, _ string, _ url.Values) (int, []byte, error) {
		return 404, nil, nil
	}

	sess := fetchSession()
	sess.FallbackURL = ""
	sess.FallbackMethod = ""

	_, err := testFetcher(mock).Fetch(context.Background(), sess, nil)
	require.Error(t, err)
	assert.Len(t, mock.Calls, 1)
}

func TestFetchFailedSessionUsesFallbackEndpoint(t *testing.T) {
	mock := NewMockClient()

	sess := fetchSession()
	sess.Status = model.CallFailed

	_, err := testFetcher(mock).Fetch(context.Background(), sess, nil)
	require.NoError(t, err)

	require.Len(t, mock.Calls, 1)
	assert.Equal(t, "http://fallback.example/call.xml", mock.Calls[0].URL)
	assert.Equal(t, "GET", mock.Calls[0].Method)
}

func TestFetchFailedSessionFallbackFailureIsFinal(t *testing.T) {
	mock := NewMockClient()
	mock.ResponseFunc = func(_, _ string, _ url.Values) (int, []byte, error) {
		return 500, nil, nil
	}

	sess := fetchSession()
	sess.Status = model.CallFailed

	_, err := testFetcher(mock).Fetch(context.Background(), sess, nil)
	require.Error(t, err)
	assert.Len(t, mock.Calls, 1)
}

func TestFetchTransportErrorTriggersFallback(t *testing.T) {
	mock := NewMockClient()
	mock.ResponseFunc = func(_, u string, _ url.Values) (int, []byte, error) {
		if u == "http://primary.example/call.xml" {
			return 0, nil, errors.New("connection refused")
		}
		return 200, []byte(markup), nil
	}

	_, err := testFetcher(mock).Fetch(context.Background(), fetchSession(), nil)
	require.NoError(t, err)
	assert.Len(t, mock.Calls, 2)
}

func TestFetchParsesAgainstServingURL(t *testing.T) {
	doc := `<Response><Gather action="next.xml"/></Response>`
	mock := NewMockClient()
	mock.ResponseFunc = func(_, u string, _ url.Values) (int, []byte, error) {
		if u == "http://primary.example/call.xml" {
			return 500, nil, nil
		}
		return 200, []byte(doc), nil
	}

	verbs, err := testFetcher(mock).Fetch(context.Background(), fetchSession(), nil)
	require.NoError(t, err)

	gather := verbs[0].(*twiml.Gather)
	assert.Equal(t, "http://fallback.example/next.xml", gather.Action)
}

func TestFetchGather(t *testing.T) {
	mock := NewMockClient()

	sess := fetchSession()
	sess.GatherAction = "http://primary.example/gather"
	sess.GatherMethod = "GET"

	_, err := testFetcher(mock).FetchGather(context.Background(), sess, "123#")
	require.NoError(t, err)

	require.Len(t, mock.Calls, 1)
	call := mock.Calls[0]
	assert.Equal(t, "GET", call.Method)
	assert.Equal(t, "http://primary.example/gather", call.URL)
	assert.Equal(t, "123#", call.Form.Get("Digits"))
}

func TestFetchParseErrorPropagates(t *testing.T) {
	mock := NewMockClient()
	mock.ResponseFunc = func(_, _ string, _ url.Values) (int, []byte, error) {
		return 200, []byte(`<Response><Dial>+1</Dial></Response>`), nil
	}

	_, err := testFetcher(mock).Fetch(context.Background(), fetchSession(), nil)
	require.Error(t, err)

	var perr *twiml.ParseError
	assert.True(t, errors.As(err, &perr))
}
