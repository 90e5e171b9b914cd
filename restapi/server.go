package restapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxgate/voxgate/bus"
	"github.com/voxgate/voxgate/model"
	"github.com/voxgate/voxgate/session"
)

const timestampLayout = "Mon, 02 Jan 2006 15:04:05 -0700"

var sendDigitsChars = regexp.MustCompile(`^[0-9#*w]+$`)

// Server is the REST gateway. Placing a call publishes a session-open message
// on the transport and records a queued session; everything after that is
// driven by the worker.
type Server struct {
	version   string
	sessions  *session.Manager
	publisher bus.Publisher
	clock     model.Clock
	log       zerolog.Logger
}

func NewServer(version string, sessions *session.Manager, publisher bus.Publisher, clock model.Clock, log zerolog.Logger) *Server {
	return &Server{
		version:   version,
		sessions:  sessions,
		publisher: publisher,
		clock:     clock,
		log:       log,
	}
}

// Handler returns the routed HTTP handler. Resources accept an optional
// format suffix, so the trailing path segment carries both the resource name
// and the requested format.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /"+s.version, s.wrap(s.handleRoot))
	mux.HandleFunc("GET /"+s.version+"/{$}", s.wrap(s.handleRoot))
	mux.HandleFunc("GET /"+s.version+"/{format}", s.wrap(s.handleRoot))
	mux.HandleFunc("GET /"+s.version+"/Accounts/{account}/{resource}", s.wrap(s.handleAccountGet))
	mux.HandleFunc("POST /"+s.version+"/Accounts/{account}/{resource}", s.wrap(s.handleAccountPost))
	return s.logRequests(mux)
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func (s *Server) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}
		var uerr *UsageError
		if errors.As(err, &uerr) {
			if werr := s.write(w, uerr.Format, http.StatusBadRequest, errorDocument(uerr.Message)); werr != nil {
				s.log.Error().Err(werr).Msg("failed to render error response")
			}
			return
		}
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// write renders the document in the requested format. The format is the raw
// path suffix; empty means XML.
func (s *Server) write(w http.ResponseWriter, format string, status int, doc renderable) error {
	name := strings.ToLower(strings.TrimLeft(format, "."))
	if name == "" {
		name = "xml"
	}

	var body []byte
	var err error
	switch name {
	case "xml":
		body = doc.XML()
	case "json":
		body, err = doc.JSON()
		if err != nil {
			return err
		}
	default:
		return &UsageError{Message: fmt.Sprintf("'%s' is not a valid request format", name)}
	}

	w.Header().Set("Content-Type", "application/"+name)
	w.WriteHeader(status)
	_, err = w.Write(body)
	return err
}

func splitFormat(resource string) (name, format string) {
	if idx := strings.IndexByte(resource, '.'); idx >= 0 {
		return resource[:idx], resource[idx:]
	}
	return resource, ""
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) error {
	format := r.PathValue("format")
	doc := &Document{Name: "Version", Fields: Fields{
		{Key: "Name", Value: s.version},
		{Key: "Uri", Value: "/" + s.version + format},
		{Key: "SubresourceUris", Value: Fields{
			{Key: "Accounts", Value: "/" + s.version + "/Accounts" + format},
		}},
	}}
	return s.write(w, format, http.StatusOK, doc)
}

func (s *Server) handleAccountGet(w http.ResponseWriter, r *http.Request) error {
	name, format := splitFormat(r.PathValue("resource"))
	switch name {
	case "Applications":
		list := NewListDocument("Applications", nil)
		return s.write(w, format, http.StatusOK, list.Resolve(PageQuery{URI: r.URL.RequestURI()}))
	default:
		http.NotFound(w, r)
		return nil
	}
}

func (s *Server) handleAccountPost(w http.ResponseWriter, r *http.Request) error {
	account := r.PathValue("account")
	name, format := splitFormat(r.PathValue("resource"))
	if name != "Calls" {
		http.NotFound(w, r)
		return nil
	}
	if err := r.ParseForm(); err != nil {
		return &UsageError{Message: "could not parse request parameters", Format: format}
	}

	call, err := validateCallFields(r.Form, format)
	if err != nil {
		return err
	}
	call.AccountSID = account

	msg := bus.NewUserMessage(call.From, call.To)
	msg.SessionEvent = bus.SessionNew
	if err := s.publisher.Publish(r.Context(), msg); err != nil {
		return fmt.Errorf("failed to publish call message: %w", err)
	}
	sess, err := s.sessions.StartOutbound(call, msg.MessageID)
	if err != nil {
		return err
	}

	now := s.clock.Now().Format(timestampLayout)
	uri := fmt.Sprintf("/%s/Accounts/%s/Calls/%s", s.version, account, sess.CallID)
	doc := &Document{Name: "Call", Fields: Fields{
		{Key: "Sid", Value: sess.CallID},
		{Key: "DateCreated", Value: now},
		{Key: "DateUpdated", Value: now},
		{Key: "ParentCallSid", Value: nil},
		{Key: "AccountSid", Value: account},
		{Key: "To", Value: call.To},
		{Key: "FormattedTo", Value: call.To},
		{Key: "From", Value: call.From},
		{Key: "FormattedFrom", Value: call.From},
		{Key: "PhoneNumberSid", Value: nil},
		{Key: "Status", Value: string(model.CallQueued)},
		{Key: "StartTime", Value: nil},
		{Key: "EndTime", Value: nil},
		{Key: "Duration", Value: nil},
		{Key: "Price", Value: nil},
		{Key: "Direction", Value: string(model.OutboundAPI)},
		{Key: "AnsweredBy", Value: nil},
		{Key: "ApiVersion", Value: s.version},
		{Key: "ForwardedFrom", Value: nil},
		{Key: "CallerName", Value: nil},
		{Key: "Uri", Value: uri + format},
		{Key: "SubresourceUris", Value: Fields{
			{Key: "Notifications", Value: uri + "/Notifications" + format},
			{Key: "Recordings", Value: uri + "/Recordings" + format},
		}},
	}}
	return s.write(w, format, http.StatusOK, doc)
}

func validateCallFields(form url.Values, format string) (session.OutboundCall, error) {
	fail := func(msg string) (session.OutboundCall, error) {
		return session.OutboundCall{}, &UsageError{Message: msg, Format: format}
	}

	for _, field := range []string{"From", "To"} {
		if form.Get(field) == "" {
			return fail(fmt.Sprintf("Required field '%s' not supplied", field))
		}
	}
	if form.Get("Url") == "" && form.Get("ApplicationSid") == "" {
		return fail("Request must have an 'Url' or an 'ApplicationSid' field")
	}
	if digits := form.Get("SendDigits"); digits != "" && !sendDigitsChars.MatchString(digits) {
		return fail(fmt.Sprintf(
			"SendDigits value '%s' is not valid. May only contain the characters (0-9), '#', '*' and 'w'", digits))
	}
	switch form.Get("IfMachine") {
	case "", "Continue", "Hangup":
	default:
		return fail("IfMachine value must be one of [None, 'Continue', 'Hangup']")
	}
	timeout := 60
	if raw := form.Get("Timeout"); raw != "" {
		var err error
		if timeout, err = strconv.Atoi(raw); err != nil || timeout < 0 {
			return fail(fmt.Sprintf("Timeout value '%s' is not valid. Must be an integer >= 0", raw))
		}
	}

	method := func(field string) string {
		if m := form.Get(field); m != "" {
			return m
		}
		return "POST"
	}
	return session.OutboundCall{
		From:                 form.Get("From"),
		To:                   form.Get("To"),
		URL:                  form.Get("Url"),
		Method:               method("Method"),
		FallbackURL:          form.Get("FallbackUrl"),
		FallbackMethod:       method("FallbackMethod"),
		StatusCallback:       form.Get("StatusCallback"),
		StatusCallbackMethod: method("StatusCallbackMethod"),
		Timeout:              timeout,
		Record:               form.Get("Record") == "true",
		SendDigits:           form.Get("SendDigits"),
		IfMachine:            form.Get("IfMachine"),
	}, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
