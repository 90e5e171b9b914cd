// Package worker consumes transport traffic and drives connected calls by
// executing their markup.
package worker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/voxgate/voxgate/bus"
	"github.com/voxgate/voxgate/model"
	"github.com/voxgate/voxgate/session"
	"github.com/voxgate/voxgate/twiml"
)

// Interpreter turns a parsed markup document into outbound messages for the
// session's remote party.
type Interpreter struct {
	publisher bus.Publisher
	sessions  *session.Manager
	log       zerolog.Logger
}

func NewInterpreter(publisher bus.Publisher, sessions *session.Manager, log zerolog.Logger) *Interpreter {
	return &Interpreter{publisher: publisher, sessions: sessions, log: log}
}

// localAddress returns our side of the call. The session is keyed by the
// remote party, so the local address is whichever of the pair that is not.
func localAddress(sess *model.Session) string {
	if sess.Address == sess.To {
		return sess.From
	}
	return sess.To
}

// Execute runs the verbs of a markup document in order. Play emits one
// outbound message carrying the audio reference. Hangup emits a session close
// and tears the session down; nothing after it runs. Gather persists its
// reply endpoint, emits its nested prompts and stops the pass to wait for
// digits. Say and unrecognized verbs are skipped.
func (i *Interpreter) Execute(ctx context.Context, sess *model.Session, verbs []twiml.Verb) error {
	local := localAddress(sess)

	for _, verb := range verbs {
		switch v := verb.(type) {
		case *twiml.Play:
			msg := bus.NewUserMessage(local, sess.Address)
			msg.Voice = &bus.VoiceMeta{SpeechURL: v.URL}
			if err := i.publisher.Publish(ctx, msg); err != nil {
				return fmt.Errorf("failed to publish message: %w", err)
			}

		case *twiml.Hangup:
			msg := bus.NewUserMessage(local, sess.Address)
			msg.SessionEvent = bus.SessionClose
			if err := i.publisher.Publish(ctx, msg); err != nil {
				return fmt.Errorf("failed to publish message: %w", err)
			}
			return i.sessions.Terminate(ctx, sess)

		case *twiml.Gather:
			return i.executeGather(ctx, sess, local, v)

		default:
			i.log.Debug().Str("verb", verb.Name()).Str("call_sid", sess.CallID).
				Msg("skipping unsupported verb")
		}
	}
	return nil
}

// executeGather persists the gather endpoint before emitting any prompts, so
// digits arriving mid-emit still find it, then sends one message per nested
// Play. An empty gather still emits a single message with no audio so the
// remote side learns it should collect digits; the last message always
// carries the terminating key.
func (i *Interpreter) executeGather(ctx context.Context, sess *model.Session, local string, gather *twiml.Gather) error {
	sess.GatherAction = gather.Action
	sess.GatherMethod = gather.Method
	if err := i.sessions.Save(sess); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	var urls []string
	for _, child := range gather.Children {
		if play, ok := child.(*twiml.Play); ok {
			urls = append(urls, play.URL)
		}
	}
	if len(urls) == 0 {
		urls = []string{""}
	}

	for idx, u := range urls {
		msg := bus.NewUserMessage(local, sess.Address)
		msg.Voice = &bus.VoiceMeta{SpeechURL: u}
		if idx == len(urls)-1 {
			msg.Voice.WaitFor = gather.FinishOnKey
		}
		if err := i.publisher.Publish(ctx, msg); err != nil {
			return fmt.Errorf("failed to publish message: %w", err)
		}
	}
	return nil
}
