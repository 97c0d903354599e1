package main

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/hupe1980/geojoin/geometry"
	"github.com/hupe1980/geojoin/page"
)

const pagesExt = ".pages"

// table is a named sequence of pages.
type table struct {
	names []string
	types []page.Type
	pages []*page.Page
}

func (t *table) channel(name string) (int, error) {
	for i, n := range t.names {
		if n == name {
			return i, nil
		}
	}
	return -1, errors.Newf("unknown column %q (have %s)", name, strings.Join(t.names, ", "))
}

func (t *table) channels(names []string) ([]int, error) {
	chs := make([]int, len(names))
	for i, name := range names {
		ch, err := t.channel(name)
		if err != nil {
			return nil, err
		}
		chs[i] = ch
	}
	return chs, nil
}

// nonGeometryChannels returns every channel except geometry ones.
func (t *table) nonGeometryChannels() []int {
	var chs []int
	for i, typ := range t.types {
		if typ != page.TypeGeometry {
			chs = append(chs, i)
		}
	}
	return chs
}

// firstGeometryChannel returns the first geometry channel.
func (t *table) firstGeometryChannel() (int, error) {
	for i, typ := range t.types {
		if typ == page.TypeGeometry {
			return i, nil
		}
	}
	return -1, errors.New("table has no geometry column")
}

func (t *table) partitions(n int) [][]*page.Page {
	if n <= 0 {
		n = 1
	}
	parts := make([][]*page.Page, n)
	for i, p := range t.pages {
		parts[i%n] = append(parts[i%n], p)
	}
	return parts
}

// readTable loads a CSV or page file depending on its extension.
func readTable(path string, pageSize int) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if filepath.Ext(path) == pagesExt {
		return readPageTable(f)
	}
	t, err := readCSV(f, pageSize)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return t, nil
}

// readPageTable reads a page stream. Columns are named c0, c1, ...
func readPageTable(r io.Reader) (*table, error) {
	pages, err := page.ReadPages(r, page.NewSerde(page.CompressionNone))
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, errors.New("page file is empty")
	}
	t := &table{types: pages[0].Types(), pages: pages}
	for i := range t.types {
		t.names = append(t.names, "c"+strconv.Itoa(i))
	}
	for i, p := range pages[1:] {
		if err := p.CheckTypes(t.types); err != nil {
			return nil, errors.Wrapf(err, "page %d", i+1)
		}
	}
	return t, nil
}

// readCSV reads a CSV file whose header cells are name:type.
func readCSV(r io.Reader, pageSize int) (*table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	t := &table{
		names: make([]string, len(header)),
		types: make([]page.Type, len(header)),
	}
	for i, cell := range header {
		name, typeName, ok := strings.Cut(cell, ":")
		if !ok {
			return nil, errors.Newf("header cell %q is not name:type", cell)
		}
		typ, err := page.ParseType(typeName)
		if err != nil {
			return nil, errors.Wrapf(err, "column %q", name)
		}
		t.names[i] = strings.TrimSpace(name)
		t.types[i] = typ
	}

	pb := page.NewPageBuilder(t.types, func(o *page.BuilderOptions) {
		o.MaxPositions = pageSize
	})
	flush := func() error {
		if pb.IsEmpty() {
			return nil
		}
		p, err := pb.Build()
		if err != nil {
			return err
		}
		t.pages = append(t.pages, p)
		pb.Reset()
		return nil
	}

	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		pb.DeclarePosition()
		for ch, cell := range record {
			if err := appendCell(pb.BlockBuilder(ch), t.types[ch], cell); err != nil {
				return nil, errors.Wrapf(err, "line %d column %q", line, t.names[ch])
			}
		}
		if pb.IsFull() {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return t, nil
}

func appendCell(bb page.BlockBuilder, typ page.Type, cell string) error {
	if cell == "" {
		bb.AppendNull()
		return nil
	}
	switch typ {
	case page.TypeBigint:
		v, err := strconv.ParseInt(cell, 10, 64)
		if err != nil {
			return err
		}
		bb.(*page.LongBlockBuilder).Append(v)
	case page.TypeDouble:
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return err
		}
		bb.(*page.DoubleBlockBuilder).Append(v)
	case page.TypeBoolean:
		v, err := strconv.ParseBool(cell)
		if err != nil {
			return err
		}
		bb.(*page.BooleanBlockBuilder).Append(v)
	case page.TypeVarchar:
		bb.(*page.VarcharBlockBuilder).Append(cell)
	case page.TypeGeometry:
		g, err := geometry.ParseWKT(cell)
		if err != nil {
			return err
		}
		bb.(*page.GeometryBlockBuilder).Append(g)
	default:
		return errors.Newf("unsupported type %s", typ)
	}
	return nil
}
