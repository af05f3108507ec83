// Package table provides the in-memory tabular representation shared by
// every loader and exporter. Columns are ordered, rows are sparse: a cell
// that was never set reads back as a null Value, which matches how the
// cycler files drift in column count from file to file.
package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Value is a single nullable cell. Numeric cells keep the original text so
// exported files reproduce the source formatting byte for byte.
type Value struct {
	raw   string
	num   float64
	isNum bool
	valid bool
}

// Null returns the absent cell value.
func Null() Value { return Value{} }

// Num builds a numeric cell.
func Num(f float64) Value { return Value{num: f, isNum: true, valid: true} }

// Str builds a text cell.
func Str(s string) Value { return Value{raw: s, valid: true} }

// Parse converts one raw field from a cycler file into a cell. Empty text
// becomes null; anything that parses as a float stays numeric but keeps its
// original spelling.
func Parse(field string) Value {
	s := strings.TrimSpace(field)
	if s == "" {
		return Null()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Value{raw: s, num: f, isNum: true, valid: true}
	}
	return Value{raw: s, valid: true}
}

// IsNull reports whether the cell is absent.
func (v Value) IsNull() bool { return !v.valid }

// Float returns the numeric value of the cell, if it has one.
func (v Value) Float() (float64, bool) {
	if !v.valid || !v.isNum {
		return 0, false
	}
	return v.num, true
}

// Text returns the cell as a string: the original field text when known,
// otherwise a shortest-form float rendering. Null cells render empty.
func (v Value) Text() string {
	if !v.valid {
		return ""
	}
	if v.raw != "" {
		return v.raw
	}
	if v.isNum {
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	}
	return v.raw
}

// Row maps column name to cell. Missing keys are nulls.
type Row map[string]Value

// Table is an ordered-column, append-only table.
type Table struct {
	cols     []string
	colIndex map[string]int
	rows     []Row
}

// New creates a table with the given initial columns.
func New(cols ...string) *Table {
	t := &Table{colIndex: make(map[string]int)}
	for _, c := range cols {
		t.AddColumn(c)
	}
	return t
}

// Columns returns the column names in order. The slice is shared; callers
// must not modify it.
func (t *Table) Columns() []string { return t.cols }

// NumRows returns the row count.
func (t *Table) NumRows() int { return len(t.rows) }

// Empty reports whether the table holds no rows.
func (t *Table) Empty() bool { return len(t.rows) == 0 }

// HasColumn reports whether the named column exists.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.colIndex[name]
	return ok
}

// AddColumn appends a column if it is not already present.
func (t *Table) AddColumn(name string) {
	if _, ok := t.colIndex[name]; ok {
		return
	}
	t.colIndex[name] = len(t.cols)
	t.cols = append(t.cols, name)
}

// AppendRow adds an empty row and returns its index.
func (t *Table) AppendRow() int {
	t.rows = append(t.rows, Row{})
	return len(t.rows) - 1
}

// Set stores a cell, registering the column if needed.
func (t *Table) Set(i int, col string, v Value) {
	t.AddColumn(col)
	t.rows[i][col] = v
}

// SetConst stores the same cell in every row, registering the column.
func (t *Table) SetConst(col string, v Value) {
	t.AddColumn(col)
	for _, r := range t.rows {
		r[col] = v
	}
}

// Value returns the cell at (row, col); absent cells are null.
func (t *Table) Value(i int, col string) Value {
	if i < 0 || i >= len(t.rows) {
		return Null()
	}
	return t.rows[i][col]
}

// Float is shorthand for Value(i, col).Float().
func (t *Table) Float(i int, col string) (float64, bool) {
	return t.Value(i, col).Float()
}

// Text is shorthand for Value(i, col).Text().
func (t *Table) Text(i int, col string) string {
	return t.Value(i, col).Text()
}

// Clone deep-copies the table.
func (t *Table) Clone() *Table {
	c := New(t.cols...)
	c.rows = make([]Row, len(t.rows))
	for i, r := range t.rows {
		nr := make(Row, len(r))
		for k, v := range r {
			nr[k] = v
		}
		c.rows[i] = nr
	}
	return c
}

// Concat appends all rows of other, unioning the column sets. Columns new
// to the receiver keep other's relative order; rows of either side read
// null for columns the other side introduced.
func (t *Table) Concat(other *Table) {
	for _, c := range other.cols {
		t.AddColumn(c)
	}
	for _, r := range other.rows {
		nr := make(Row, len(r))
		for k, v := range r {
			nr[k] = v
		}
		t.rows = append(t.rows, nr)
	}
}

// utf8BOM is prepended to exported files so spreadsheet tools pick the
// right encoding for the Korean labels.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// WriteCSV serializes the table as RFC 4180 CSV with a header row.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.cols); err != nil {
		return err
	}
	rec := make([]string, len(t.cols))
	for _, r := range t.rows {
		for i, c := range t.cols {
			rec[i] = r[c].Text()
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes the table to path as UTF-8 CSV with a byte-order
// marker.
func (t *Table) WriteCSVFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(utf8BOM); err != nil {
		f.Close()
		return err
	}
	if err := t.WriteCSV(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
