package twiml

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// RootTag is the expected document root element of call markup.
const RootTag = "Response"

// ParseError is returned when markup is malformed or a verb violates its
// attribute contract. The message text is part of the external contract: it is
// surfaced verbatim to webhook authors.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string { return e.Message }

func parseErrorf(format string, args ...any) *ParseError {
	return &ParseError{Message: fmt.Sprintf(format, args...)}
}

// constructor builds a typed Verb from a decoded element. The base URL is the
// document URL, used to resolve relative action references.
type constructor func(p *Parser, el *element, base *url.URL) (Verb, error)

// Parser parses call markup into a sequence of Verb nodes. Dispatch is an
// explicit tag-to-constructor table and the charset validators are compiled
// once at construction; there is no process-global state.
type Parser struct {
	verbs       map[string]constructor
	playDigits  *regexp.Regexp
	finishChars *regexp.Regexp
}

// NewParser returns a Parser recognizing the Play, Say, Hangup and Gather
// verbs. Any other tag is a parse error.
func NewParser() *Parser {
	p := &Parser{
		playDigits:  regexp.MustCompile(`^[0-9w]*$`),
		finishChars: regexp.MustCompile(`^[0-9#*]?$`),
	}
	p.verbs = map[string]constructor{
		"play":   (*Parser).parsePlay,
		"say":    (*Parser).parseSay,
		"hangup": (*Parser).parseHangup,
		"gather": (*Parser).parseGather,
	}
	return p
}

// Parse parses a markup document and returns its verbs in document order.
// baseURL is the URL the document was fetched from; relative Gather action
// references resolve against it. All errors are *ParseError.
func (p *Parser) Parse(data []byte, baseURL string) ([]Verb, error) {
	root, err := decodeDocument(data)
	if err != nil {
		return nil, parseErrorf("Invalid markup document: %v", err)
	}
	if root.name != RootTag {
		return nil, parseErrorf("Invalid root '%s'. Expected '%s'.", root.name, RootTag)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, parseErrorf("Invalid document URL '%s'", baseURL)
	}
	return p.parseChildren(root, base)
}

func (p *Parser) parseChildren(el *element, base *url.URL) ([]Verb, error) {
	verbs := make([]Verb, 0, len(el.children))
	for _, child := range el.children {
		verb, err := p.parseVerb(child, base)
		if err != nil {
			return nil, err
		}
		verbs = append(verbs, verb)
	}
	return verbs, nil
}

func (p *Parser) parseVerb(el *element, base *url.URL) (Verb, error) {
	ctor, ok := p.verbs[strings.ToLower(el.name)]
	if !ok {
		return nil, parseErrorf("Cannot find parser for verb '%s'", el.name)
	}
	return ctor(p, el, base)
}

func (p *Parser) parsePlay(el *element, _ *url.URL) (Verb, error) {
	play := &Play{
		URL:  strings.TrimSpace(el.text),
		Loop: 1,
	}

	if raw, ok := el.attrs["loop"]; ok {
		loop, err := checkInteger(raw)
		if err != nil {
			return nil, parseErrorf(
				"Invalid value '%s' for 'loop' attribute in Play verb. Must be an integer.", raw)
		}
		if loop < 0 {
			return nil, parseErrorf(
				"Invalid value '%s' for 'loop' attribute in Play verb. Must be >= 0", raw)
		}
		play.Loop = loop
	}

	if digits, ok := el.attrs["digits"]; ok {
		if !p.playDigits.MatchString(digits) {
			return nil, parseErrorf(
				"Invalid value '%s' for 'digits' attribute in Play verb. Must be one of '0123456789w'", digits)
		}
		play.Digits = digits
	}

	return play, nil
}

func (p *Parser) parseSay(el *element, _ *url.URL) (Verb, error) {
	return &Say{
		Text:     strings.TrimSpace(el.text),
		Voice:    el.attrs["voice"],
		Language: el.attrs["language"],
	}, nil
}

func (p *Parser) parseHangup(_ *element, _ *url.URL) (Verb, error) {
	return &Hangup{}, nil
}

func (p *Parser) parseGather(el *element, base *url.URL) (Verb, error) {
	gather := &Gather{
		Method:      "POST",
		Timeout:     5,
		FinishOnKey: "#",
	}

	// An absent action resolves to the document URL itself.
	action := el.attrs["action"]
	ref, err := url.Parse(action)
	if err != nil {
		return nil, parseErrorf("Invalid value '%s' for action attribute. Must be a URL.", action)
	}
	gather.Action = base.ResolveReference(ref).String()

	if method, ok := el.attrs["method"]; ok {
		if method != "GET" && method != "POST" {
			return nil, parseErrorf(
				"Invalid value '%s' for method attribute. Must be one of ['GET', 'POST']", method)
		}
		gather.Method = method
	}

	if raw, ok := el.attrs["timeout"]; ok {
		timeout, err := checkInteger(raw)
		if err != nil {
			return nil, parseErrorf(
				"Invalid value '%s' for timeout parameter. Must be an integer.", raw)
		}
		if timeout < 0 {
			return nil, parseErrorf(
				"Invalid value '%s' for timeout parameter. Must be positive", raw)
		}
		gather.Timeout = timeout
	}

	if key, ok := el.attrs["finishOnKey"]; ok {
		// Length is checked before charset on purpose: a multi-character value
		// reports the length error even if every character is valid.
		if len([]rune(key)) > 1 {
			return nil, parseErrorf(
				"Invalid value '%s' for finishOnKey parameter. Must only be one character", key)
		}
		if !p.finishChars.MatchString(key) {
			return nil, parseErrorf(
				"Invalid value '%s' for finishOnKey parameter. Must be one of '0123456789#*'", key)
		}
		gather.FinishOnKey = key
	}

	if raw, ok := el.attrs["numDigits"]; ok {
		numDigits, err := checkInteger(raw)
		if err != nil {
			return nil, parseErrorf(
				"Invalid value '%s' for numDigits parameter. Must be an integer.", raw)
		}
		if numDigits < 1 {
			return nil, parseErrorf(
				"Invalid value '%s' for numDigits parameter. Must be >= 1", raw)
		}
		gather.NumDigits = numDigits
	}

	children, err := p.parseChildren(el, base)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		switch child.Name() {
		case "Say", "Play":
		default:
			return nil, parseErrorf(
				"Invalid sub verb '%s' for Gather verb. Must be one of ['Say', 'Play']", child.Name())
		}
	}
	gather.Children = children

	return gather, nil
}

func checkInteger(raw string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(raw))
}

// element is a minimal decoded XML node: enough structure for the verb
// constructors without exposing encoding/xml to them.
type element struct {
	name     string
	attrs    map[string]string
	text     string
	children []*element
}

// decodeDocument reads the XML document and returns its root element.
func decodeDocument(data []byte) (*element, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(data)))

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("no root element found")
		}
		if err != nil {
			return nil, err
		}
		if se, ok := token.(xml.StartElement); ok {
			return decodeElement(decoder, &se)
		}
	}
}

func decodeElement(decoder *xml.Decoder, start *xml.StartElement) (*element, error) {
	el := &element{
		name:  start.Name.Local,
		attrs: make(map[string]string, len(start.Attr)),
	}
	for _, attr := range start.Attr {
		el.attrs[attr.Name.Local] = attr.Value
	}

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		switch t := token.(type) {
		case xml.CharData:
			el.text += string(t)
		case xml.StartElement:
			child, err := decodeElement(decoder, &t)
			if err != nil {
				return nil, err
			}
			el.children = append(el.children, child)
		case xml.EndElement:
			return el, nil
		}
	}
}
