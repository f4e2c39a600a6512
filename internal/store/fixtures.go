package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/refdata"
)

// Fixture is one reference-data response declared in YAML:
//
//	fixtures:
//	  - endpoint: /api/varieties
//	    params: [{name: product, value: "1"}]
//	    body: [{id: 10, name: Hass}]
//
// Body is any YAML array or mapping; a string body is taken as raw JSON.
type Fixture struct {
	Endpoint string          `yaml:"endpoint" json:"endpoint"`
	Params   []refdata.Param `yaml:"params,omitempty" json:"params,omitempty"`
	Body     any             `yaml:"body" json:"body"`
}

// Request returns the request signature the fixture answers.
func (f Fixture) Request() refdata.Request {
	return refdata.Request{Endpoint: f.Endpoint, Params: f.Params}
}

// JSON renders the body as JSON.
func (f Fixture) JSON() ([]byte, error) {
	if raw, ok := f.Body.(string); ok {
		return []byte(raw), nil
	}
	if f.Body == nil {
		return nil, fmt.Errorf("fixture %s: body is required", f.Request().Key())
	}
	data, err := json.Marshal(f.Body)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", f.Request().Key(), err)
	}
	return data, nil
}

// fixtureFile is the on-disk layout of a fixture file.
type fixtureFile struct {
	Fixtures []Fixture `yaml:"fixtures"`
}

// ReadFixtures decodes a fixture file. Unknown keys are errors.
func ReadFixtures(r io.Reader) ([]Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file fixtureFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return []Fixture{}, nil
		}
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}
	for i, f := range file.Fixtures {
		if f.Endpoint == "" {
			return nil, fmt.Errorf("fixture %d: endpoint is required", i)
		}
	}
	return file.Fixtures, nil
}

// LoadFixtures reads a fixture file from disk.
func LoadFixtures(path string) ([]Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return ReadFixtures(bytes.NewReader(data))
}

// Seed writes fixtures to the reference_data table and returns how many were written.
func (s *Store) Seed(ctx context.Context, fixtures []Fixture) (int, error) {
	for i, f := range fixtures {
		body, err := f.JSON()
		if err != nil {
			return i, err
		}
		req := f.Request()
		if err := s.WriteReference(ctx, req.Endpoint, req.Query(), body); err != nil {
			return i, err
		}
	}
	return len(fixtures), nil
}
