package webhook

import (
	"context"
	"fmt"
	"net/url"

	"github.com/voxgate/voxgate/model"
	"github.com/voxgate/voxgate/twiml"
)

// FetchError is returned when markup could not be retrieved: the primary
// endpoint failed and the single fallback attempt (when available) failed too.
type FetchError struct {
	URL    string // endpoint of the last attempt
	Status int    // HTTP status of the last attempt, 0 on transport error
	Err    error  // transport error of the last attempt, nil on bad status
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetching markup from %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetching markup from %s: unexpected status %d", e.URL, e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher retrieves and parses call markup for a session.
type Fetcher struct {
	client     Client
	parser     *twiml.Parser
	apiVersion string
}

func NewFetcher(client Client, parser *twiml.Parser, apiVersion string) *Fetcher {
	return &Fetcher{client: client, parser: parser, apiVersion: apiVersion}
}

// Params builds the standard request parameter set describing a session. It
// is shared by markup fetches and status callbacks.
func Params(sess *model.Session, apiVersion string) url.Values {
	form := url.Values{}
	form.Set("CallSid", sess.CallID)
	form.Set("AccountSid", sess.AccountSID)
	form.Set("From", sess.From)
	form.Set("To", sess.To)
	form.Set("CallStatus", string(sess.Status))
	form.Set("ApiVersion", apiVersion)
	form.Set("Direction", string(sess.Direction))
	return form
}

// Fetch retrieves markup for the session and parses it against the URL that
// served it. The primary endpoint is the session's Url/Method — or the
// fallback pair once the session has failed. A non-2xx status or transport
// error triggers exactly one retry against the fallback; there is never a
// third attempt.
func (f *Fetcher) Fetch(ctx context.Context, sess *model.Session, extra url.Values) ([]twiml.Verb, error) {
	params := Params(sess, f.apiVersion)
	for key, vals := range extra {
		for _, v := range vals {
			params.Set(key, v)
		}
	}

	primaryURL, primaryMethod := sess.URL, sess.Method
	fallbackURL, fallbackMethod := sess.FallbackURL, sess.FallbackMethod
	if sess.Status == model.CallFailed {
		// Failed sessions go straight to the fallback endpoint.
		primaryURL, primaryMethod = fallbackURL, fallbackMethod
		fallbackURL, fallbackMethod = "", ""
	}

	body, err := f.request(ctx, primaryMethod, primaryURL, params)
	servedBy := primaryURL
	if err != nil {
		if fallbackURL == "" {
			return nil, err
		}
		body, err = f.request(ctx, fallbackMethod, fallbackURL, params)
		servedBy = fallbackURL
		if err != nil {
			return nil, err
		}
	}

	return f.parser.Parse(body, servedBy)
}

// FetchGather refetches markup at the session's pending gather endpoint,
// carrying the received digits. There is no fallback for gather replies.
func (f *Fetcher) FetchGather(ctx context.Context, sess *model.Session, digits string) ([]twiml.Verb, error) {
	params := Params(sess, f.apiVersion)
	params.Set("Digits", digits)

	body, err := f.request(ctx, sess.GatherMethod, sess.GatherAction, params)
	if err != nil {
		return nil, err
	}
	return f.parser.Parse(body, sess.GatherAction)
}

func (f *Fetcher) request(ctx context.Context, method, targetURL string, params url.Values) ([]byte, error) {
	if method == "" {
		method = "POST"
	}
	status, body, err := f.client.Do(ctx, method, targetURL, params)
	if err != nil {
		return nil, &FetchError{URL: targetURL, Err: err}
	}
	if status < 200 || status >= 300 {
		return nil, &FetchError{URL: targetURL, Status: status}
	}
	return body, nil
}
