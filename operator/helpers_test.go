package operator

import (
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/geojoin/geometry"
	"github.com/hupe1980/geojoin/memory"
	"github.com/hupe1980/geojoin/page"
	"github.com/hupe1980/geojoin/spatial"
)

var probeTypes = []page.Type{page.TypeBigint, page.TypeGeometry}

// fakeIndex returns scripted candidates per probe id and appends the
// candidate number as a bigint.
type fakeIndex struct {
	candidates map[int64][]int
	ineligible map[int]bool
	lookups    []int64
}

func (f *fakeIndex) FindCandidates(dst []int, position int, probe *page.Page, _ int) []int {
	id, _ := page.ValueAt[int64](probe.Block(0), position)
	f.lookups = append(f.lookups, id)
	return append(dst[:0], f.candidates[id]...)
}

func (f *fakeIndex) IsEligible(candidate, _ int, _ *page.Page) bool {
	return !f.ineligible[candidate]
}

func (f *fakeIndex) AppendTo(candidate int, pb *page.PageBuilder, offset int) {
	pb.BlockBuilder(offset).(*page.LongBlockBuilder).Append(int64(candidate))
}

func (f *fakeIndex) OutputTypes() []page.Type { return []page.Type{page.TypeBigint} }
func (f *fakeIndex) PositionCount() int       { return 0 }
func (f *fakeIndex) SizeInBytes() int64       { return 0 }

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) OutputTypes() []page.Type { return []page.Type{page.TypeBigint} }

func (m *mockProvider) Request() (*spatial.IndexFuture, error) {
	args := m.Called()
	future, _ := args.Get(0).(*spatial.IndexFuture)
	return future, args.Error(1)
}

func (m *mockProvider) RegisterProbeFactory() error { return m.Called().Error(0) }
func (m *mockProvider) ProbeOperatorFinished()      { m.Called() }
func (m *mockProvider) NoMoreProbeOperators()       { m.Called() }

func newMockProvider(future *spatial.IndexFuture) *mockProvider {
	m := &mockProvider{}
	m.On("Request").Return(future, nil)
	m.On("ProbeOperatorFinished").Return()
	m.On("RegisterProbeFactory").Return(nil)
	m.On("NoMoreProbeOperators").Return()
	return m
}

// probePageOf returns a page of (id, point) rows for the given ids.
func probePageOf(ids ...int64) *page.Page {
	geoms := make([]*geometry.Geometry, len(ids))
	for i, id := range ids {
		geoms[i] = geometry.NewPoint(float64(id), float64(id))
	}
	return page.MustNewPage(page.NewLongBlock(ids, nil), page.NewGeometryBlock(geoms))
}

type harness struct {
	op       *SpatialJoinOperator
	dc       *DriverContext
	provider *mockProvider
	future   *spatial.IndexFuture
}

func newHarness(t *testing.T, index spatial.Index, pool *memory.Pool, maxPositions int) *harness {
	t.Helper()
	future := spatial.NewFuture[spatial.Index]()
	if index != nil {
		future.Complete(index)
	}
	provider := newMockProvider(future)

	f, err := NewSpatialJoinOperatorFactory(SpatialJoinConfig{
		OperatorID:           1,
		PlanNodeID:           "join",
		ProbeTypes:           probeTypes,
		ProbeOutputChannels:  []int{0},
		ProbeGeometryChannel: 1,
		PageBuilder:          page.BuilderOptions{MaxPositions: maxPositions},
	}, provider)
	require.NoError(t, err)

	dc := NewDriverContext(pool)
	op, err := f.CreateOperator(dc)
	require.NoError(t, err)
	return &harness{op: op.(*SpatialJoinOperator), dc: dc, provider: provider, future: future}
}

// row is one output row: the probe id and the appended candidate.
type row struct {
	probe     int64
	candidate int64
}

func rowsOf(t *testing.T, p *page.Page) []row {
	t.Helper()
	if p == nil {
		return nil
	}
	require.Equal(t, []page.Type{page.TypeBigint, page.TypeBigint}, p.Types())
	rows := make([]row, p.PositionCount())
	for i := range rows {
		rows[i].probe, _ = page.ValueAt[int64](p.Block(0), i)
		rows[i].candidate, _ = page.ValueAt[int64](p.Block(1), i)
	}
	return rows
}

// drive feeds pages into op and drains it. When yieldEveryCall is set the
// yield signal is raised before every Output call.
func drive(t *testing.T, h *harness, pages []*page.Page, yieldEveryCall bool) ([]row, []int) {
	t.Helper()
	var (
		rows  []row
		sizes []int
	)
	for steps := 0; !h.op.IsFinished(); steps++ {
		require.Less(t, steps, 100000, "operator does not terminate")
		if h.op.NeedsInput() {
			if len(pages) > 0 {
				require.NoError(t, h.op.AddInput(pages[0]))
				pages = pages[1:]
			} else {
				h.op.Finish()
			}
		}
		if yieldEveryCall {
			h.dc.YieldSignal().ForceYield()
		}
		p, err := h.op.Output()
		h.dc.YieldSignal().Reset()
		require.NoError(t, err)
		if p != nil {
			sizes = append(sizes, p.PositionCount())
			rows = append(rows, rowsOf(t, p)...)
		}
	}
	return rows, sizes
}
