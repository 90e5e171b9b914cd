package twiml

// Verb is the interface for all call-markup instruction nodes.
type Verb interface {
	// Name returns the canonical verb name, e.g. "Play".
	Name() string
}

// Play plays an audio reference to the call. The reference is handed to the
// transport as-is; it is never fetched or decoded here.
type Play struct {
	URL    string // playable reference, may be empty
	Loop   int    // default 1
	Digits string // DTMF digits to send, charset 0-9w, empty when absent
}

func (*Play) Name() string { return "Play" }

// Say is accepted by the grammar (it is a valid Gather child) but carries no
// transport semantics in this engine.
type Say struct {
	Text     string
	Voice    string
	Language string
}

func (*Say) Name() string { return "Say" }

// Hangup ends the call. No attributes, no nouns.
type Hangup struct{}

func (*Hangup) Name() string { return "Hangup" }

// Gather plays its nested prompts and then waits for digit input. The reply
// triggers a markup refetch at Action using Method.
type Gather struct {
	Action      string // resolved against the document base URL
	Method      string // "GET" or "POST", default "POST"
	Timeout     int    // advisory, forwarded downstream, default 5
	FinishOnKey string // single character from 0-9#*, default "#"
	NumDigits   int    // 0 when absent
	Children    []Verb // restricted to Say and Play
}

func (*Gather) Name() string { return "Gather" }

// Generic is the fallback node shape: a named verb with raw attributes and
// children. The parser never produces one for an unknown tag (that is a parse
// error); it exists so callers can construct instruction sequences directly.
type Generic struct {
	Tag        string
	Attributes map[string]string
	Children   []Verb
}

func (g *Generic) Name() string { return g.Tag }
