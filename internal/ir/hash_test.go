package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID_Deterministic(t *testing.T) {
	params := [][2]string{{"country", "12"}, {"kind", "pallet"}}
	a := MustRequestID("/catalogs/api/provider/", params)
	b := MustRequestID("/catalogs/api/provider/", params)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestRequestID_ParamOrderMatters(t *testing.T) {
	a := MustRequestID("/x/", [][2]string{{"a", "1"}, {"b", "2"}})
	b := MustRequestID("/x/", [][2]string{{"b", "2"}, {"a", "1"}})
	assert.NotEqual(t, a, b)
}

func TestDocumentHash_StableAcrossCopies(t *testing.T) {
	spec := DocumentSpec{
		Name: "reception",
		Fields: []FieldSpec{
			{Name: "total_net", Kind: KindDerived, Precision: PrecisionOf(2)},
		},
		Groups: []GroupSpec{{
			Name: "pallets",
			Pool: "pallet",
			Fields: []FieldSpec{
				{Name: "pallet", Kind: KindSelect},
				{Name: "net", Kind: KindDerived},
			},
			Aggregates: []AggregateSpec{{Field: "net", Into: "total_net", Op: AggSum}},
		}},
	}

	h1, err := DocumentHash(spec)
	require.NoError(t, err)
	h2, err := DocumentHash(spec)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	spec.Groups[0].Pool = ""
	h3, err := DocumentHash(spec)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
