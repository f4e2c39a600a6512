package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/ir"
	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/refdata"
	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/testutil"
)

const testDebounce = 100 * time.Millisecond

// fixtures serves reference data by request key and counts requests.
type fixtures struct {
	mu     sync.Mutex
	bodies map[string]string
	calls  map[string]int
}

func newFixtures() *fixtures {
	return &fixtures{
		bodies: map[string]string{
			"/api/products":            `[{"id":1,"name":"Avocado"},{"id":2,"name":"Mango"},{"id":3,"name":"Lime"}]`,
			"/api/varieties?product=1": `[{"id":10,"name":"Hass"},{"id":11,"name":"Mendez"}]`,
			"/api/varieties?product=2": `[{"id":20,"name":"Ataulfo"},{"id":10,"name":"Hass"}]`,
			"/api/varieties?product=3": `[{"id":30,"name":"Persian"}]`,
			"/api/sizes?variety=10":    `[{"id":"L","name":"Large"},{"id":"M","name":"Medium"}]`,
			"/api/pallets":             `[{"id":"A","name":"Pallet A"},{"id":"B","name":"Pallet B"},{"id":"C","name":"Pallet C"}]`,
			"/api/box-kinds":           `[{"id":3,"name":"Crate"},{"id":4,"name":"Tray"}]`,
			"/api/box-kinds/3":         `{"id":3,"name":"Crate","capacity":2.5}`,
			"/api/box-kinds/4":         `{"id":4,"name":"Tray","capacity":"abc"}`,
		},
		calls: make(map[string]int),
	}
}

func (f *fixtures) ReadReference(_ context.Context, endpoint, query string) ([]byte, bool, error) {
	key := endpoint
	if query != "" {
		key += "?" + query
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[key]++
	body, ok := f.bodies[key]
	return []byte(body), ok, nil
}

func (f *fixtures) set(key, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[key] = body
}

func (f *fixtures) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// rig is an engine with manual spawner and timers.
type rig struct {
	t        *testing.T
	eng      *Engine
	client   *refdata.Client
	fx       *fixtures
	spawner  *testutil.ManualSpawner
	timers   *testutil.ManualTimers
	recorder *Recorder
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRig(t *testing.T, spec *ir.DocumentSpec, opts ...Option) *rig {
	t.Helper()
	fx := newFixtures()
	r := &rig{
		t:        t,
		fx:       fx,
		client:   refdata.NewClient(&refdata.FixtureFetcher{Source: fx}, refdata.WithLogger(discardLogger())),
		spawner:  testutil.NewManualSpawner(),
		timers:   testutil.NewManualTimers(),
		recorder: &Recorder{},
	}
	doc, err := NewDocument(spec, WithIDGenerator(testutil.NewFixedIDGenerator("doc-test")))
	require.NoError(t, err)

	base := []Option{
		WithSpawner(r.spawner),
		WithTimers(r.timers),
		WithDebounce(testDebounce),
		WithObserver(r.recorder),
		WithLogger(discardLogger()),
	}
	r.eng, err = New(doc, r.client, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.eng.Close() })
	return r
}

// settle runs fetches, events and timers until nothing is left.
func (r *rig) settle() {
	r.t.Helper()
	for i := 0; i < 100; i++ {
		n := r.spawner.RunAll()
		n += r.eng.Drain()
		n += r.timers.FireAll()
		n += r.eng.Drain()
		if n == 0 {
			return
		}
	}
	r.t.Fatal("rig did not settle")
}

// apply drains queued inputs without running fetches or timers.
func (r *rig) apply() {
	r.eng.Drain()
}

func (r *rig) field(path string) FieldView {
	r.t.Helper()
	v, ok := r.eng.Snapshot().Field(path)
	require.True(r.t, ok, "no field %s", path)
	return v
}

func (r *rig) set(path, value string) {
	r.t.Helper()
	require.NoError(r.t, r.eng.SetValue(path, value))
}

func sel(name, endpoint string, params ...ir.ParamBinding) ir.FieldSpec {
	return ir.FieldSpec{
		Name: name,
		Kind: ir.KindSelect,
		Source: &ir.SourceSpec{
			Steps:      []ir.RequestStep{{Endpoint: endpoint, Params: params}},
			RequireAll: len(params) > 0,
		},
	}
}

func fieldParam(name, field string) ir.ParamBinding {
	return ir.ParamBinding{Name: name, Kind: ir.ParamField, Value: field}
}

func num(name string) ir.FieldSpec {
	return ir.FieldSpec{Name: name, Kind: ir.KindNumeric}
}

func derived(name string, precision int, op ir.FormulaOp, args ...string) ir.FieldSpec {
	f := ir.FieldSpec{Name: name, Kind: ir.KindDerived, Precision: ir.PrecisionOf(precision)}
	if op != "" {
		formula := &ir.FormulaSpec{Op: op}
		for _, a := range args {
			formula.Args = append(formula.Args, ir.Operand{Field: a})
		}
		f.Derive = formula
	}
	return f
}

// receivingSpec is a fruit receiving note: a product and variety chosen at
// document level, and pallets that each weigh a number of boxes.
func receivingSpec() *ir.DocumentSpec {
	return &ir.DocumentSpec{
		Name: "receiving",
		Fields: []ir.FieldSpec{
			sel("product", "/api/products"),
			sel("variety", "/api/varieties", fieldParam("product", "product")),
			sel("size", "/api/sizes", fieldParam("variety", "variety")),
			derived("total_net", 3, ""),
			derived("pallet_count", 0, ""),
		},
		Groups: []ir.GroupSpec{{
			Name:    "pallets",
			Pool:    "pallet",
			MaxRows: 3,
			Fields: []ir.FieldSpec{
				sel("pallet", "/api/pallets"),
				sel("box_kind", "/api/box-kinds"),
				{
					Name: "capacity",
					Kind: ir.KindLookup,
					Source: &ir.SourceSpec{
						Steps: []ir.RequestStep{{
							Endpoint: "/api/box-kinds/{id}",
							Params:   []ir.ParamBinding{fieldParam("id", "box_kind")},
						}},
						Attribute:  "capacity",
						RequireAll: true,
					},
				},
				num("quantity"),
				num("gross"),
				num("platform_tare"),
				derived("tare", 3, ir.OpMul, "quantity", "capacity"),
				derived("net", 3, ir.OpSub, "gross", "platform_tare", "tare"),
			},
			Aggregates: []ir.AggregateSpec{
				{Field: "net", Into: "total_net", Op: ir.AggSum},
				{Into: "pallet_count", Op: ir.AggCount},
			},
		}},
	}
}
