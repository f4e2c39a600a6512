package refdata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Record is one decoded reference object: {id, name, ...domain attributes}.
type Record map[string]any

// Text returns the attribute rendered as text. Numbers keep their JSON spelling,
// lists are joined with commas, missing or null attributes are "".
func (r Record) Text(key string) string {
	return textOf(r[key])
}

func textOf(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	case []any:
		parts := make([]string, 0, len(val))
		for _, elem := range val {
			parts = append(parts, textOf(elem))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(val)
	}
}

// Payload is a fetched result: either a list of records or a single object.
// Payloads are shared between consumers and must not be mutated.
type Payload struct {
	list   []Record
	object Record
	isList bool
}

// NewListPayload wraps records as a list result.
func NewListPayload(records ...Record) *Payload {
	if records == nil {
		records = []Record{}
	}
	return &Payload{list: records, isList: true}
}

// NewObjectPayload wraps a single object result.
func NewObjectPayload(obj Record) *Payload {
	if obj == nil {
		obj = Record{}
	}
	return &Payload{object: obj}
}

// IsList reports whether the payload is a list.
func (p *Payload) IsList() bool {
	return p.isList
}

// List returns the records of a list payload; an object payload yields a one-element list.
func (p *Payload) List() []Record {
	if p.isList {
		return p.list
	}
	return []Record{p.object}
}

// Object returns the object of an object payload; a list payload yields its first record or nil.
func (p *Payload) Object() Record {
	if !p.isList {
		return p.object
	}
	if len(p.list) == 0 {
		return nil
	}
	return p.list[0]
}

// DecodePayload parses a JSON array of objects or a single JSON object.
// Any other shape is an error; partial data is never returned.
func DecodePayload(body []byte) (*Payload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("decode payload: empty body")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	switch trimmed[0] {
	case '[':
		var records []Record
		if err := dec.Decode(&records); err != nil {
			return nil, fmt.Errorf("decode payload list: %w", err)
		}
		return NewListPayload(records...), nil
	case '{':
		var obj Record
		if err := dec.Decode(&obj); err != nil {
			return nil, fmt.Errorf("decode payload object: %w", err)
		}
		return NewObjectPayload(obj), nil
	default:
		return nil, fmt.Errorf("decode payload: expected JSON array or object")
	}
}
