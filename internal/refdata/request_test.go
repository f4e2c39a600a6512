package refdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_Key(t *testing.T) {
	assert.Equal(t, "/api/sizes", Request{Endpoint: "/api/sizes"}.Key())

	r := Request{Endpoint: "/api/sizes", Params: []Param{{"product", "1"}, {"market", "a b"}}}
	assert.Equal(t, "/api/sizes?product=1&market=a+b", r.Key())
	assert.Equal(t, "http://localhost:8080/api/sizes?product=1&market=a+b", r.URL("http://localhost:8080/"))
}

func TestRequest_ParamOrderMatters(t *testing.T) {
	a := Request{Endpoint: "/e", Params: []Param{{"a", "1"}, {"b", "2"}}}
	b := Request{Endpoint: "/e", Params: []Param{{"b", "2"}, {"a", "1"}}}
	assert.NotEqual(t, a.Key(), b.Key())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestRequest_NormalizesValues(t *testing.T) {
	composed := Request{Endpoint: "/e", Params: []Param{{"q", "\u00f1"}}}
	decomposed := Request{Endpoint: "/e", Params: []Param{{"q", "n\u0303"}}}
	assert.Equal(t, composed.Key(), decomposed.Key())
	assert.Equal(t, composed.ID(), decomposed.ID())
}

func TestDecodePayload(t *testing.T) {
	p, err := DecodePayload([]byte(` [{"id": 1, "tags": ["a", "b"], "ok": true}] `))
	require.NoError(t, err)
	require.True(t, p.IsList())
	rec := p.List()[0]
	assert.Equal(t, "1", rec.Text("id"))
	assert.Equal(t, "a,b", rec.Text("tags"))
	assert.Equal(t, "true", rec.Text("ok"))
	assert.Equal(t, "", rec.Text("missing"))

	p, err = DecodePayload([]byte(`{"capacity": 12.50}`))
	require.NoError(t, err)
	assert.Equal(t, "12.50", p.Object().Text("capacity"))
	assert.Len(t, p.List(), 1)

	empty, err := DecodePayload([]byte(`[]`))
	require.NoError(t, err)
	assert.Nil(t, empty.Object())

	for _, bad := range []string{"", "42", `"x"`, `[{"id":1}`, `{"id":`} {
		_, err := DecodePayload([]byte(bad))
		assert.Error(t, err, "input %q", bad)
	}
}

func TestParseQuery_InverseOfQuery(t *testing.T) {
	r := Request{Endpoint: "/e", Params: []Param{{"b", "x y"}, {"a", "MX,US"}, {"c", ""}}}
	params, err := ParseQuery(r.Query())
	require.NoError(t, err)
	assert.Equal(t, r.Params, params)

	// Alternate encodings of the same request share the canonical key.
	params, err = ParseQuery("b=x%20y&a=MX%2cUS&c")
	require.NoError(t, err)
	assert.Equal(t, r.Query(), Request{Endpoint: "/e", Params: params}.Query())

	none, err := ParseQuery("")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = ParseQuery("a=%zz")
	assert.Error(t, err)
}
