package ml

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
)

// RequestDescriptor is the immutable input to one scoring pass. The caller
// owns it for the duration of the call; the engine never mutates it.
type RequestDescriptor struct {
	Path    string
	Body    string
	Headers map[string]string
}

// Fragment is one named, canonicalized unit of request content. Source is
// the label ("URL Param: id", "Header: X-Forwarded-For", ...), Content the
// canonical string scored independently of all other fragments.
type Fragment struct {
	Source  string
	Content string
}

// FragmentSet is an ordered label-to-content mapping. Iteration follows
// first-insertion order; inserting an existing label overwrites the content
// in place without moving the label.
type FragmentSet struct {
	frags []Fragment
	index map[string]int
}

// NewFragmentSet returns an empty set.
func NewFragmentSet() *FragmentSet {
	return &FragmentSet{index: make(map[string]int)}
}

// Put inserts or overwrites a fragment. Collisions are expected here:
// repeated query keys, repeated scalar list elements and duplicate JSON
// keys all funnel through Put, and the last canonical value written wins
// under the shared label.
func (fs *FragmentSet) Put(source, content string) {
	if i, ok := fs.index[source]; ok {
		fs.frags[i].Content = content
		return
	}
	fs.index[source] = len(fs.frags)
	fs.frags = append(fs.frags, Fragment{Source: source, Content: content})
}

// Get returns the content stored under a label.
func (fs *FragmentSet) Get(source string) (string, bool) {
	i, ok := fs.index[source]
	if !ok {
		return "", false
	}
	return fs.frags[i].Content, true
}

// Len returns the number of distinct labels.
func (fs *FragmentSet) Len() int {
	return len(fs.frags)
}

// All returns the fragments in insertion order. The slice is the set's
// backing storage; callers must not mutate it.
func (fs *FragmentSet) All() []Fragment {
	return fs.frags
}

// ExtractFragments decomposes a request into independently scorable
// fragments: the URL and its parts, the body and its structured fields,
// and the non-noise headers. Stages are independent and parse failures
// never propagate: a stage that fails mid-way keeps whatever it already
// emitted and extraction moves on.
func ExtractFragments(req RequestDescriptor) *FragmentSet {
	fs := NewFragmentSet()
	extractPath(fs, req.Path)
	extractBody(fs, req.Body)
	extractHeaders(fs, req.Headers)
	return fs
}

func extractPath(fs *FragmentSet, path string) {
	if path == "" {
		return
	}
	fs.Put("URL Full", Canonicalize(path))

	u, err := url.Parse(path)
	if err != nil {
		return
	}
	if u.RawQuery != "" {
		fs.Put("URL Raw Query", Canonicalize(u.RawQuery))
	}

	// Split the undecoded path so an encoded slash (%2F) stays inside its
	// segment instead of producing two.
	seg := 0
	for _, part := range strings.Split(u.EscapedPath(), "/") {
		if part == "" {
			continue
		}
		seg++
		fs.Put(fmt.Sprintf("URL Segment %d", seg), Canonicalize(part))
	}

	for _, p := range parseQueryPairs(u.RawQuery) {
		fs.Put("URL Param: "+p.key, Canonicalize(p.value))
	}
}

func extractBody(fs *FragmentSet, body string) {
	if body == "" {
		return
	}
	fs.Put("Body Raw", Canonicalize(body))

	if v, ok := parseJSONValue(body); ok {
		// Only a top-level object is walked, and a successful object
		// parse ends the stage: a JSON body that happens to contain "="
		// must not leak form fragments too.
		if v.kind == jsonObject {
			walkJSONObject(fs, "Body", v)
			return
		}
	}

	for _, p := range parseQueryPairs(body) {
		fs.Put("Body Form: "+p.key, Canonicalize(p.value))
	}
}

func extractHeaders(fs *FragmentSet, headers map[string]string) {
	if len(headers) == 0 {
		return
	}

	// Map iteration order is randomized; sort so fragment order is stable
	// across runs.
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		lower := strings.ToLower(name)
		if _, noisy := noiseHeaders[lower]; noisy {
			continue
		}
		if strings.HasPrefix(lower, "sec-ch-ua") || strings.HasPrefix(lower, "sec-fetch") {
			continue
		}
		fs.Put("Header: "+name, Canonicalize(headers[name]))
	}
}

// noiseHeaders are never inspected: browser boilerplate with low attack
// signal and high volume. Client-hint and fetch-metadata headers are
// filtered by prefix in extractHeaders.
var noiseHeaders = map[string]struct{}{
	"host":                      {},
	"accept":                    {},
	"connection":                {},
	"accept-encoding":           {},
	"accept-language":           {},
	"content-length":            {},
	"upgrade-insecure-requests": {},
	"priority":                  {},
	"cache-control":             {},
	"pragma":                    {},
}

type queryPair struct {
	key   string
	value string
}

// parseQueryPairs decodes a query string or form body into ordered
// key/value pairs. Unlike url.ParseQuery it preserves pair order, keeps
// blank values, and never fails: a component that does not percent-decode
// keeps its raw form.
func parseQueryPairs(raw string) []queryPair {
	if raw == "" {
		return nil
	}
	var pairs []queryPair
	for _, item := range strings.Split(raw, "&") {
		if item == "" {
			continue
		}
		key, value, _ := strings.Cut(item, "=")
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		if decoded, err := url.QueryUnescape(value); err == nil {
			value = decoded
		}
		pairs = append(pairs, queryPair{key: key, value: value})
	}
	return pairs
}

type jsonKind int

const (
	jsonNull jsonKind = iota
	jsonBool
	jsonNumber
	jsonString
	jsonArray
	jsonObject
)

// jsonValue is a tagged variant over the six JSON shapes. The fragment
// walk dispatches on kind explicitly rather than type-switching on
// interface{} trees, and only the object and array cases recurse.
type jsonValue struct {
	kind    jsonKind
	str     string
	num     json.Number
	boolean bool
	elems   []jsonValue
	members []jsonMember
}

// jsonMember preserves object key order, and duplicate keys survive as
// separate members so the last one wins at Put time.
type jsonMember struct {
	key   string
	value jsonValue
}

// parseJSONValue parses a complete JSON document. UseNumber keeps numeric
// literals as written instead of round-tripping through float64.
func parseJSONValue(s string) (jsonValue, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	v, err := decodeJSONValue(dec)
	if err != nil {
		return jsonValue{}, false
	}
	// Trailing content means the body was not a single JSON document.
	if _, err := dec.Token(); err != io.EOF {
		return jsonValue{}, false
	}
	return v, true
}

func decodeJSONValue(dec *json.Decoder) (jsonValue, error) {
	tok, err := dec.Token()
	if err != nil {
		return jsonValue{}, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := jsonValue{kind: jsonObject}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return jsonValue{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return jsonValue{}, fmt.Errorf("object key %v is not a string", keyTok)
				}
				val, err := decodeJSONValue(dec)
				if err != nil {
					return jsonValue{}, err
				}
				obj.members = append(obj.members, jsonMember{key: key, value: val})
			}
			if _, err := dec.Token(); err != nil {
				return jsonValue{}, err
			}
			return obj, nil
		case '[':
			arr := jsonValue{kind: jsonArray}
			for dec.More() {
				val, err := decodeJSONValue(dec)
				if err != nil {
					return jsonValue{}, err
				}
				arr.elems = append(arr.elems, val)
			}
			if _, err := dec.Token(); err != nil {
				return jsonValue{}, err
			}
			return arr, nil
		}
		return jsonValue{}, fmt.Errorf("unexpected delimiter %v", t)
	case string:
		return jsonValue{kind: jsonString, str: t}, nil
	case json.Number:
		return jsonValue{kind: jsonNumber, num: t}, nil
	case bool:
		return jsonValue{kind: jsonBool, boolean: t}, nil
	case nil:
		return jsonValue{kind: jsonNull}, nil
	}
	return jsonValue{}, fmt.Errorf("unexpected token %v", tok)
}

// walkJSONObject emits fragments for the scalar leaves of an object tree.
// Nested objects extend the label prefix with ".<key>"; arrays emit their
// scalar elements under a shared "<key>[]" label; null and composite array
// elements produce nothing.
func walkJSONObject(fs *FragmentSet, prefix string, obj jsonValue) {
	for _, m := range obj.members {
		switch m.value.kind {
		case jsonObject:
			walkJSONObject(fs, prefix+"."+m.key, m.value)
		case jsonArray:
			for _, el := range m.value.elems {
				if s, ok := scalarString(el); ok {
					fs.Put(prefix+": "+m.key+"[]", Canonicalize(s))
				}
			}
		default:
			if s, ok := scalarString(m.value); ok {
				fs.Put(prefix+": "+m.key, Canonicalize(s))
			}
		}
	}
}

func scalarString(v jsonValue) (string, bool) {
	switch v.kind {
	case jsonString:
		return v.str, true
	case jsonNumber:
		return v.num.String(), true
	case jsonBool:
		if v.boolean {
			return "true", true
		}
		return "false", true
	}
	return "", false
}
