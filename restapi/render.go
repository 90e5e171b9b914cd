// Package restapi exposes the Twilio-compatible REST interface for placing
// calls, rendering resources as XML or JSON on request.
package restapi

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// UsageError reports an invalid API request. It carries the response format
// the error should be rendered in, since the format is itself request data.
type UsageError struct {
	Message string
	Format  string
}

func (e *UsageError) Error() string { return e.Message }

var camelBoundary = regexp.MustCompile(`([A-Z+])`)

// camelToSnake converts a CamelCase resource key to its snake_case JSON
// form: DateCreated becomes date_created.
func camelToSnake(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1] + camelBoundary.ReplaceAllString(s[1:], "_${1}"))
}

// Field is one key of a resource. The value is a string, nil for an empty
// element, or a nested Fields.
type Field struct {
	Key   string
	Value any
}

// Fields is an ordered set of resource fields. Order is preserved in XML.
type Fields []Field

func (f Fields) get(key string) any {
	for _, fld := range f {
		if fld.Key == key {
			return fld.Value
		}
	}
	return nil
}

func (f Fields) dictionary() map[string]any {
	res := make(map[string]any, len(f))
	for _, fld := range f {
		if sub, ok := fld.Value.(Fields); ok {
			res[camelToSnake(fld.Key)] = sub.dictionary()
		} else {
			res[camelToSnake(fld.Key)] = fld.Value
		}
	}
	return res
}

func writeElement(b *bytes.Buffer, name string, fields Fields) {
	fmt.Fprintf(b, "<%s>", name)
	for _, fld := range fields {
		switch v := fld.Value.(type) {
		case Fields:
			writeElement(b, fld.Key, v)
		case nil:
			fmt.Fprintf(b, "<%s />", fld.Key)
		default:
			fmt.Fprintf(b, "<%s>", fld.Key)
			xml.EscapeText(b, []byte(fmt.Sprint(v)))
			fmt.Fprintf(b, "</%s>", fld.Key)
		}
	}
	fmt.Fprintf(b, "</%s>", name)
}

// renderable is any resource that can answer an API request.
type renderable interface {
	XML() []byte
	JSON() ([]byte, error)
}

// Document is a single API resource: an element name wrapped in the
// TwilioResponse envelope.
type Document struct {
	Name   string
	Fields Fields
}

// SID returns the resource's Sid field, used for list ordering and paging.
func (d *Document) SID() string {
	sid, _ := d.Fields.get("Sid").(string)
	return sid
}

func (d *Document) XML() []byte {
	var b bytes.Buffer
	b.WriteString("<TwilioResponse>")
	writeElement(&b, d.Name, d.Fields)
	b.WriteString("</TwilioResponse>")
	return b.Bytes()
}

func (d *Document) JSON() ([]byte, error) {
	return json.Marshal(d.Fields.dictionary())
}

// errorDocument renders an invalid-request error.
func errorDocument(message string) *Document {
	return &Document{Name: "Error", Fields: Fields{
		{Key: "error_type", Value: "UsageError"},
		{Key: "error_message", Value: message},
	}}
}

// PageQuery selects one page of a list resource.
type PageQuery struct {
	URI      string
	Page     int
	PageSize int
	AfterSID string
}

// ListDocument is a paginated collection of resources.
type ListDocument struct {
	Name  string
	Items []*Document
}

func NewListDocument(name string, items []*Document) *ListDocument {
	sorted := make([]*Document, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SID() < sorted[j].SID() })
	return &ListDocument{Name: name, Items: sorted}
}

const maxPageSize = 1000

type pageAttr struct {
	key   string
	value any // int, string or nil
}

func (l *ListDocument) pageAttributes(q PageQuery) ([]pageAttr, []*Document) {
	pagesize := q.PageSize
	if pagesize <= 0 {
		pagesize = 50
	}
	if pagesize > maxPageSize {
		pagesize = maxPageSize
	}
	numpages := (len(l.Items) + pagesize - 1) / pagesize
	if numpages == 0 {
		numpages = 1
	}

	page := q.Page
	start := page * pagesize
	if q.AfterSID != "" {
		start = len(l.Items)
		for n, item := range l.Items {
			if item.SID() > q.AfterSID {
				start = n
				break
			}
		}
		page = start / pagesize
	}

	var pageItems []*Document
	if start < len(l.Items) {
		end := start + pagesize
		if end > len(l.Items) {
			end = len(l.Items)
		}
		pageItems = l.Items[start:end]
	}

	baseURI, _, _ := strings.Cut(q.URI, "?")
	var nextPage any
	if len(pageItems) == pagesize {
		nextPage = fmt.Sprintf("%s?Page=%d&PageSize=%d&AfterSid=%s",
			baseURI, page+1, pagesize, pageItems[len(pageItems)-1].SID())
	}
	var prevPage any
	if page > 0 {
		prevPage = fmt.Sprintf("%s?Page=%d&PageSize=%d", baseURI, page-1, pagesize)
	}

	attrs := []pageAttr{
		{"page", page},
		{"num_pages", numpages},
		{"page_size", pagesize},
		{"total", len(l.Items)},
		{"start", start},
		{"end", start + len(pageItems)},
		{"uri", q.URI},
		{"first_page_uri", fmt.Sprintf("%s?Page=%d&PageSize=%d", baseURI, page, pagesize)},
		{"next_page_uri", nextPage},
		{"previous_page_uri", prevPage},
		{"last_page_uri", fmt.Sprintf("%s?Page=%d&PageSize=%d", baseURI, numpages-1, pagesize)},
	}
	return attrs, pageItems
}

// Resolve binds the list to one page so it can be rendered.
func (l *ListDocument) Resolve(q PageQuery) renderable {
	return &listPage{list: l, query: q}
}

type listPage struct {
	list  *ListDocument
	query PageQuery
}

func (p *listPage) XML() []byte {
	attrs, items := p.list.pageAttributes(p.query)

	// Attribute names drop their underscores and sort alphabetically.
	byName := make(map[string]string, len(attrs))
	names := make([]string, 0, len(attrs))
	for _, a := range attrs {
		name := strings.ReplaceAll(a.key, "_", "")
		value := ""
		if a.value != nil {
			value = fmt.Sprint(a.value)
		}
		byName[name] = value
		names = append(names, name)
	}
	sort.Strings(names)

	var b bytes.Buffer
	b.WriteString("<TwilioResponse>")
	fmt.Fprintf(&b, "<%s", p.list.Name)
	for _, name := range names {
		var escaped bytes.Buffer
		xml.EscapeText(&escaped, []byte(byName[name]))
		fmt.Fprintf(&b, ` %s="%s"`, name, escaped.String())
	}
	b.WriteString(">")
	for _, item := range items {
		writeElement(&b, item.Name, item.Fields)
	}
	fmt.Fprintf(&b, "</%s>", p.list.Name)
	b.WriteString("</TwilioResponse>")
	return b.Bytes()
}

func (p *listPage) JSON() ([]byte, error) {
	attrs, items := p.list.pageAttributes(p.query)
	res := make(map[string]any, len(attrs)+1)
	for _, a := range attrs {
		res[a.key] = a.value
	}
	dicts := make([]map[string]any, 0, len(items))
	for _, item := range items {
		dicts = append(dicts, item.Fields.dictionary())
	}
	res[camelToSnake(p.list.Name)] = dicts
	return json.Marshal(res)
}
