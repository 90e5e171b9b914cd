package worker

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/voxgate/voxgate/bus"
	"github.com/voxgate/voxgate/model"
	"github.com/voxgate/voxgate/session"
	"github.com/voxgate/voxgate/storage"
	"github.com/voxgate/voxgate/webhook"
)

// Worker is the transport-facing consumer. Delivery reports advance queued
// calls, inbound messages open sessions and answer pending gathers.
type Worker struct {
	sessions *session.Manager
	fetcher  *webhook.Fetcher
	interp   *Interpreter
	log      zerolog.Logger
}

func New(sessions *session.Manager, fetcher *webhook.Fetcher, interp *Interpreter, log zerolog.Logger) *Worker {
	return &Worker{sessions: sessions, fetcher: fetcher, interp: interp, log: log}
}

// ConsumeEvent handles a delivery report. An ack connects a queued call, a
// nack fails it onto its fallback markup. Reports whose message id resolves
// to nothing (late, duplicate, or for a finished call) are dropped, as are
// reports for calls no longer queued.
func (w *Worker) ConsumeEvent(ctx context.Context, ev *bus.Event) error {
	sess, err := w.sessions.ResolveCorrelated(ev.UserMessageID)
	if errors.Is(err, storage.ErrNotFound) {
		w.log.Debug().Str("message_id", ev.UserMessageID).Str("event_type", string(ev.Type)).
			Msg("event does not correlate to a session")
		return nil
	}
	if err != nil {
		return err
	}
	if sess.Status != model.CallQueued {
		return nil
	}

	switch ev.Type {
	case bus.EventAck:
		return w.connect(ctx, sess, model.CallInProgress)
	case bus.EventNack:
		return w.connect(ctx, sess, model.CallFailed)
	default:
		w.log.Debug().Str("event_type", string(ev.Type)).Msg("ignoring unknown event type")
		return nil
	}
}

// connect advances the session, fetches its markup and executes it. When the
// markup cannot be retrieved or parsed the pass is abandoned: the session
// keeps its last persisted status (it is never advanced to completed) and is
// reaped by the store's expiry.
func (w *Worker) connect(ctx context.Context, sess *model.Session, status model.CallStatus) error {
	if err := w.sessions.Advance(sess, status); err != nil {
		return err
	}
	verbs, err := w.fetcher.Fetch(ctx, sess, nil)
	if err != nil {
		w.log.Error().Err(err).Str("call_sid", sess.CallID).Msg("markup fetch failed")
		return nil
	}
	return w.interp.Execute(ctx, sess, verbs)
}

// ConsumeUserMessage handles inbound transport traffic. A session-new message
// opens an inbound call and runs its markup. A session-close tears the call
// down. Anything else is treated as collected digits for a pending gather;
// messages with no session to land on are dropped.
func (w *Worker) ConsumeUserMessage(ctx context.Context, msg *bus.UserMessage) error {
	switch msg.SessionEvent {
	case bus.SessionNew:
		sess, err := w.sessions.StartInbound(msg)
		if err != nil {
			return err
		}
		verbs, err := w.fetcher.Fetch(ctx, sess, nil)
		if err != nil {
			w.log.Error().Err(err).Str("call_sid", sess.CallID).Msg("markup fetch failed")
			return nil
		}
		return w.interp.Execute(ctx, sess, verbs)

	case bus.SessionClose:
		sess, err := w.sessions.Load(msg.From)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return w.sessions.Terminate(ctx, sess)

	default:
		return w.consumeReply(ctx, msg)
	}
}

func (w *Worker) consumeReply(ctx context.Context, msg *bus.UserMessage) error {
	sess, err := w.sessions.Load(msg.From)
	if errors.Is(err, storage.ErrNotFound) {
		w.log.Debug().Str("from", msg.From).Msg("reply without a session")
		return nil
	}
	if err != nil {
		return err
	}
	if !sess.GatherPending() {
		w.log.Debug().Str("call_sid", sess.CallID).Msg("reply outside a gather")
		return nil
	}

	// A failed gather fetch abandons the pass; the gather stays pending so a
	// retried digit burst can answer it.
	verbs, err := w.fetcher.FetchGather(ctx, sess, msg.Content)
	if err != nil {
		w.log.Error().Err(err).Str("call_sid", sess.CallID).Msg("gather fetch failed")
		return nil
	}

	// The gather is answered; a new one may be set while executing.
	sess.GatherAction = ""
	sess.GatherMethod = ""
	if err := w.sessions.Save(sess); err != nil {
		return err
	}
	return w.interp.Execute(ctx, sess, verbs)
}
