package httpclient

import (
	"net/http"
	"sort"
	"strings"
)

// Method is an HTTP request method supported by the client.
type Method string

// Supported methods. CONNECT is deliberately absent.
const (
	MethodGet     Method = http.MethodGet
	MethodHead    Method = http.MethodHead
	MethodPost    Method = http.MethodPost
	MethodPut     Method = http.MethodPut
	MethodDelete  Method = http.MethodDelete
	MethodOptions Method = http.MethodOptions
	MethodPatch   Method = http.MethodPatch
	MethodTrace   Method = http.MethodTrace
)

// Valid reports whether m is one of the supported methods.
func (m Method) Valid() bool {
	switch m {
	case MethodGet, MethodHead, MethodPost, MethodPut,
		MethodDelete, MethodOptions, MethodPatch, MethodTrace:
		return true
	default:
		return false
	}
}

func (m Method) String() string { return string(m) }

// Param is one name/value entry of an ordered multi-valued collection:
// query parameters, headers, request cookies and form fields.
type Param struct {
	Name  string
	Value string
}

// params converts a map into Params sorted by name, so that map-based
// setters produce a deterministic wire order.
func params(m map[string]string) []Param {
	out := make([]Param, 0, len(m))
	for k, v := range m {
		out = append(out, Param{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// lookupParam returns the first value for name, compared case-insensitively.
func lookupParam(ps []Param, name string) (string, bool) {
	for _, p := range ps {
		if strings.EqualFold(p.Name, name) {
			return p.Value, true
		}
	}
	return "", false
}
