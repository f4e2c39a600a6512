package refdata

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/ir"
)

// Param is one query parameter. Order within a Request is significant.
type Param struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Request is a stable reference-data request signature: endpoint plus ordered parameters.
// The engine treats it as an opaque cache key.
type Request struct {
	Endpoint string  `json:"endpoint" yaml:"endpoint"`
	Params   []Param `json:"params,omitempty" yaml:"params,omitempty"`
}

// Query renders the ordered, escaped query string (without the leading '?').
// Values are NFC normalized so visually identical input shares a key.
func (r Request) Query() string {
	if len(r.Params) == 0 {
		return ""
	}
	parts := make([]string, len(r.Params))
	for i, p := range r.Params {
		parts[i] = url.QueryEscape(p.Name) + "=" + url.QueryEscape(ir.NormalizeString(p.Value))
	}
	return strings.Join(parts, "&")
}

// ParseQuery reads a raw query string back into ordered parameters, the
// inverse of Query. Servers use it so that a request and its fixture share a key.
func ParseQuery(raw string) ([]Param, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, "&")
	params := make([]Param, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		n, err := url.QueryUnescape(name)
		if err != nil {
			return nil, fmt.Errorf("query parameter %q: %w", name, err)
		}
		v, err := url.QueryUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("query parameter %q: %w", name, err)
		}
		params = append(params, Param{Name: n, Value: v})
	}
	return params, nil
}

// Key is the cache key: endpoint and query.
func (r Request) Key() string {
	q := r.Query()
	if q == "" {
		return r.Endpoint
	}
	return r.Endpoint + "?" + q
}

// ID is the content hash of the signature, used where a fixed-width key is needed.
func (r Request) ID() string {
	pairs := make([][2]string, len(r.Params))
	for i, p := range r.Params {
		pairs[i] = [2]string{p.Name, ir.NormalizeString(p.Value)}
	}
	return ir.MustRequestID(r.Endpoint, pairs)
}

// URL joins the request onto base ("http://host:port"). An empty base yields the bare key.
func (r Request) URL(base string) string {
	return strings.TrimRight(base, "/") + r.Key()
}

// String implements fmt.Stringer.
func (r Request) String() string {
	return r.Key()
}
