package flow

import (
	"net/http"
	"net/textproto"
	"sort"
	"strings"
)

// Field is a single header line.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Header is an ordered, case-insensitive multimap of header fields.
// Multiplicity is preserved; lookups are case-insensitive; iteration order
// is stable.
type Header []Field

// HeaderFromHTTP captures an http.Header. net/http does not expose wire
// order, so keys are captured in sorted order with per-key values in order.
func HeaderFromHTTP(h http.Header) Header {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(Header, 0, len(h))
	for _, k := range keys {
		for _, v := range h[k] {
			out = append(out, Field{Name: k, Value: v})
		}
	}
	return out
}

// ToHTTP converts back to an http.Header.
func (h Header) ToHTTP() http.Header {
	out := make(http.Header, len(h))
	for _, f := range h {
		out[textproto.CanonicalMIMEHeaderKey(f.Name)] = append(out[textproto.CanonicalMIMEHeaderKey(f.Name)], f.Value)
	}
	return out
}

// Get returns the first value for name, or "".
func (h Header) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Values returns all values for name in order.
func (h Header) Values(name string) []string {
	var vals []string
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			vals = append(vals, f.Value)
		}
	}
	return vals
}

// Has reports whether name is present.
func (h Header) Has(name string) bool {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Add appends a field. Idempotent on exact (name, value) pairs.
func (h *Header) Add(name, value string) {
	for _, f := range *h {
		if strings.EqualFold(f.Name, name) && f.Value == value {
			return
		}
	}
	*h = append(*h, Field{Name: name, Value: value})
}

// Set replaces all values for name with a single value, keeping the first
// occurrence's position.
func (h *Header) Set(name, value string) {
	out := make(Header, 0, len(*h))
	set := false
	for _, f := range *h {
		if strings.EqualFold(f.Name, name) {
			if !set {
				out = append(out, Field{Name: f.Name, Value: value})
				set = true
			}
			continue
		}
		out = append(out, f)
	}
	if !set {
		out = append(out, Field{Name: name, Value: value})
	}
	*h = out
}

// Del drops all values for name.
func (h *Header) Del(name string) {
	out := make(Header, 0, len(*h))
	for _, f := range *h {
		if strings.EqualFold(f.Name, name) {
			continue
		}
		out = append(out, f)
	}
	*h = out
}

// Clone returns a deep copy.
func (h Header) Clone() Header {
	out := make(Header, len(h))
	copy(out, h)
	return out
}
