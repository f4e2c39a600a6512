package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/ir"
	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/refdata"
	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/testutil"
)

func TestNew_Validation(t *testing.T) {
	client := refdata.NewClient(refdata.FetcherFunc(func(context.Context, refdata.Request) (*refdata.Payload, error) {
		return refdata.NewListPayload(), nil
	}))

	_, err := New(nil, client)
	assert.Error(t, err)

	doc, err := NewDocument(receivingSpec(), WithIDGenerator(testutil.NewFixedIDGenerator("d")))
	require.NoError(t, err)
	_, err = New(doc, nil)
	assert.Error(t, err)

	e, err := New(doc, client, WithSpawner(testutil.NewManualSpawner()), WithLogger(discardLogger()))
	require.NoError(t, err)
	defer e.Close()

	_, err = New(doc, client)
	assert.Error(t, err, "a document belongs to one engine")
}

func TestEngine_InitialResolution(t *testing.T) {
	r := newRig(t, receivingSpec())

	product := r.field("product")
	assert.Equal(t, StateLoading, product.State)
	require.Len(t, product.Options, 1, "placeholder only until the fetch completes")

	r.settle()

	product = r.field("product")
	assert.Equal(t, StatePopulated, product.State)
	require.Len(t, product.Options, 4)
	assert.Equal(t, Option{Label: DefaultPlaceholder}, product.Options[0])
	assert.Equal(t, []string{"1", "2", "3"}, product.EnabledOptions())
	assert.Equal(t, "Mango", product.Options[2].Label)

	variety := r.field("variety")
	assert.Equal(t, StateEmpty, variety.State, "required source is empty")
	assert.Len(t, variety.Options, 1)

	assert.Equal(t, "0.000", r.field("total_net").Value)
	assert.Equal(t, "0", r.field("pallet_count").Value)
	assert.True(t, r.field("total_net").Disabled)
	assert.Equal(t, "doc-test", r.eng.Snapshot().DocumentID)
}

func TestEngine_OptionsUniqueAfterPlaceholder(t *testing.T) {
	r := newRig(t, receivingSpec())
	r.fx.set("/api/products", `[{"id":2,"name":"Mango"},{"id":1,"name":"Avocado"},{"id":2,"name":"Mango again"},{"name":"No id"},{"id":1,"name":"Avocado again"},{"id":3,"name":"Lime"}]`)
	r.settle()

	product := r.field("product")
	require.Len(t, product.Options, 4)
	assert.Equal(t, Option{Label: DefaultPlaceholder}, product.Options[0])
	assert.Equal(t, []string{"2", "1", "3"}, product.EnabledOptions())
	assert.Equal(t, "Mango", product.Options[1].Label, "first occurrence wins")
	assert.Equal(t, "Avocado", product.Options[2].Label)
}

func TestEngine_DependentResolution(t *testing.T) {
	r := newRig(t, receivingSpec())
	r.settle()

	r.set("product", "1")
	r.apply()
	assert.Equal(t, StateLoading, r.field("variety").State)

	r.settle()
	variety := r.field("variety")
	assert.Equal(t, StatePopulated, variety.State)
	assert.Equal(t, []string{"10", "11"}, variety.EnabledOptions())
}

func TestEngine_SelectionPreserved(t *testing.T) {
	r := newRig(t, receivingSpec())
	r.settle()
	r.set("product", "1")
	r.settle()
	r.set("variety", "10")
	r.settle()
	r.recorder.Reset()

	// Hass is offered for Mango too.
	r.set("product", "2")
	r.settle()
	assert.Equal(t, "10", r.field("variety").Value)
	assert.Equal(t, []string{"20", "10"}, r.field("variety").EnabledOptions())
	assert.Empty(t, r.recorder.ChangesFor("variety"), "preserved selection emits nothing")

	r.set("product", "3")
	r.settle()
	assert.Equal(t, "", r.field("variety").Value)
	changes := r.recorder.ChangesFor("variety")
	require.Len(t, changes, 1, "reset emits exactly one change")
	assert.Equal(t, CauseReset, changes[0].Cause)
}

func TestEngine_LastWriteWins(t *testing.T) {
	r := newRig(t, receivingSpec())
	r.settle()

	r.set("product", "1")
	r.apply()
	r.set("product", "2")
	r.apply()
	require.Equal(t, 2, r.spawner.Pending())

	// The newer request completes first, the older one last.
	require.True(t, r.spawner.RunLast())
	r.apply()
	require.True(t, r.spawner.RunNext())
	r.apply()

	variety := r.field("variety")
	assert.Equal(t, StatePopulated, variety.State)
	assert.Equal(t, []string{"20", "10"}, variety.EnabledOptions())

	// And in issue order, the result is the same.
	r.set("product", "3")
	r.apply()
	r.set("product", "1")
	r.apply()
	require.True(t, r.spawner.RunNext())
	r.apply()
	assert.Equal(t, StateLoading, r.field("variety").State, "stale completion is not applied")
	require.True(t, r.spawner.RunNext())
	r.apply()
	assert.Equal(t, []string{"10", "11"}, r.field("variety").EnabledOptions())
}

func TestEngine_FetchFailureDegradesToPlaceholder(t *testing.T) {
	r := newRig(t, receivingSpec())
	r.settle()
	r.set("product", "1")
	r.settle()
	r.set("variety", "11")
	r.settle()

	r.fx.set("/api/varieties?product=3", "not json")
	r.set("product", "3")
	r.settle()

	variety := r.field("variety")
	assert.Equal(t, StateError, variety.State)
	assert.Equal(t, "", variety.Value)
	assert.Len(t, variety.Options, 1)
	assert.Contains(t, variety.Error, string(ErrCodeFetchFailed))
	assert.Empty(t, r.recorder.Rejected(), "fetch failures are not input rejections")

	// The failure was not cached; the field recovers on the next change.
	r.fx.set("/api/varieties?product=3", `[{"id":30,"name":"Persian"}]`)
	r.set("product", "2")
	r.settle()
	r.set("product", "3")
	r.settle()
	variety = r.field("variety")
	assert.Equal(t, StatePopulated, variety.State)
	assert.Empty(t, variety.Error)
	assert.Equal(t, []string{"30"}, variety.EnabledOptions())
}

func TestEngine_ReferenceDataIsMemoized(t *testing.T) {
	r := newRig(t, receivingSpec())
	for i := 0; i < 3; i++ {
		require.NoError(t, r.eng.AddRow("pallets"))
	}
	r.settle()

	assert.Equal(t, 1, r.fx.count("/api/pallets"))
	assert.Equal(t, 1, r.fx.count("/api/box-kinds"))
}

func TestEngine_RejectedInputs(t *testing.T) {
	r := newRig(t, receivingSpec())
	r.settle()

	r.set("nope", "1")
	r.set("total_net", "5")
	r.set("product", "99")
	require.NoError(t, r.eng.RemoveRow("pallets", 7))
	r.settle()

	rejected := r.recorder.Rejected()
	require.Len(t, rejected, 4)
	assert.True(t, IsUnknownPathError(rejected[0]))
	assert.True(t, IsInvalidStateError(rejected[1]))
	assert.True(t, IsInvalidStateError(rejected[2]))
	assert.True(t, IsUnknownPathError(rejected[3]))
	assert.Equal(t, "0.000", r.field("total_net").Value, "state unchanged")
}

func TestEngine_CascadeQuota(t *testing.T) {
	r := newRig(t, receivingSpec(), WithMaxCascade(1))
	r.settle()
	r.set("product", "1")
	r.settle()
	r.set("variety", "10")
	r.settle()
	require.Empty(t, r.recorder.Rejected())

	// Clearing the product clears the variety: two steps.
	r.set("product", "")
	r.settle()

	rejected := r.recorder.Rejected()
	require.Len(t, rejected, 1)
	assert.True(t, IsCascadeError(rejected[0]))
	assert.True(t, IsCascadeExceededError(rejected[0]))

	// The document is still usable.
	r.set("product", "2")
	r.settle()
	assert.Equal(t, []string{"20", "10"}, r.field("variety").EnabledOptions())
}

func TestEngine_Close(t *testing.T) {
	r := newRig(t, receivingSpec())
	r.settle()
	assert.Positive(t, r.client.Len())

	r.set("product", "1")
	r.apply()
	require.Equal(t, 1, r.spawner.Pending())

	require.NoError(t, r.eng.Close())
	assert.Equal(t, 0, r.client.Len())
	assert.ErrorIs(t, r.eng.SetValue("product", "2"), ErrClosed)

	// A completion arriving after teardown goes nowhere.
	r.spawner.RunAll()
	assert.Equal(t, 0, r.eng.Drain())
	assert.NoError(t, r.eng.Close(), "close is idempotent")
}

func TestEngine_RunLoop(t *testing.T) {
	fx := newFixtures()
	client := refdata.NewClient(&refdata.FixtureFetcher{Source: fx})
	doc, err := NewDocument(receivingSpec())
	require.NoError(t, err)
	e, err := New(doc, client, WithDebounce(5*time.Millisecond), WithLogger(discardLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool {
		v, _ := e.Snapshot().Field("product")
		return v.State == StatePopulated
	}, time.Second, time.Millisecond)

	require.NoError(t, e.AddRow("pallets"))
	require.NoError(t, e.SetValue("pallets[0].quantity", "4"))
	require.NoError(t, e.SetValue("pallets[0].box_kind", "3"))
	require.NoError(t, e.SetValue("pallets[0].gross", "50"))

	require.Eventually(t, func() bool {
		v, _ := e.Snapshot().Field("pallets[0].tare")
		return v.Value == "10.000"
	}, time.Second, time.Millisecond)

	report, err := e.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "40.000", report.Snapshot.Fields["total_net"].Value)

	cancel()
	err = <-done
	assert.True(t, errors.Is(err, context.Canceled))
	require.NoError(t, e.Close())
}

func TestNewDocument_MinRowsAndPaths(t *testing.T) {
	spec := &ir.DocumentSpec{
		Name: "lines",
		Groups: []ir.GroupSpec{{
			Name:    "lines",
			MinRows: 2,
			Fields:  []ir.FieldSpec{num("qty")},
			Groups: []ir.GroupSpec{{
				Name:    "boxes",
				MinRows: 1,
				Fields:  []ir.FieldSpec{num("count")},
			}},
		}},
	}
	doc, err := NewDocument(spec, WithIDGenerator(NewFixedGenerator("a")))
	require.NoError(t, err)
	assert.Equal(t, "a", doc.ID)
	assert.NotEmpty(t, doc.Hash)

	g, ok := doc.Group("lines")
	require.True(t, ok)
	require.Len(t, g.Rows(), 2)
	assert.Equal(t, RowNew, g.Rows()[0].State)

	_, ok = doc.Field("lines[1].boxes[0].count")
	assert.True(t, ok)
	nested, ok := doc.Group("lines[0].boxes")
	require.True(t, ok)
	assert.Equal(t, g.Rows()[0], nested.Owner())
}

func TestEngine_SeqStartContinuesLog(t *testing.T) {
	r := newRig(t, receivingSpec(), WithSeqStart(41))
	r.settle()
	r.set("product", "1")
	r.settle()

	changes := r.recorder.Changes()
	require.NotEmpty(t, changes)
	assert.Equal(t, int64(42), changes[0].Seq)
	for i := 1; i < len(changes); i++ {
		assert.Equal(t, changes[i-1].Seq+1, changes[i].Seq)
	}
}
