package table

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	v := Parse("3.50")
	f, ok := v.Float()
	require.True(t, ok)
	assert.Equal(t, 3.5, f)
	assert.Equal(t, "3.50", v.Text(), "numeric cells keep their source spelling")

	s := Parse("  CC충전  ")
	_, ok = s.Float()
	assert.False(t, ok)
	assert.Equal(t, "CC충전", s.Text())

	n := Parse("   ")
	assert.True(t, n.IsNull())
	assert.Equal(t, "", n.Text())
}

func TestSetAndSparseRead(t *testing.T) {
	tb := New("a", "b")
	i := tb.AppendRow()
	tb.Set(i, "a", Num(1))

	f, ok := tb.Float(i, "a")
	require.True(t, ok)
	assert.Equal(t, 1.0, f)

	assert.True(t, tb.Value(i, "b").IsNull(), "unset cell reads null")
	assert.True(t, tb.Value(5, "a").IsNull(), "out of range reads null")

	tb.Set(i, "c", Str("x"))
	assert.Equal(t, []string{"a", "b", "c"}, tb.Columns(), "Set registers new columns at the end")
}

func TestSetConst(t *testing.T) {
	tb := New("a")
	tb.AppendRow()
	tb.AppendRow()
	tb.SetConst("channel", Str("Ch1"))

	assert.Equal(t, "Ch1", tb.Text(0, "channel"))
	assert.Equal(t, "Ch1", tb.Text(1, "channel"))
}

func TestConcatUnionsColumns(t *testing.T) {
	a := New("x", "y")
	i := a.AppendRow()
	a.Set(i, "x", Num(1))
	a.Set(i, "y", Num(2))

	b := New("y", "z")
	j := b.AppendRow()
	b.Set(j, "y", Num(3))
	b.Set(j, "z", Num(4))

	a.Concat(b)
	require.Equal(t, 2, a.NumRows())
	assert.Equal(t, []string{"x", "y", "z"}, a.Columns())

	assert.True(t, a.Value(0, "z").IsNull(), "first table's rows read null for new columns")
	assert.True(t, a.Value(1, "x").IsNull(), "second table's rows read null for missing columns")

	f, _ := a.Float(1, "y")
	assert.Equal(t, 3.0, f)
}

func TestCloneIsIndependent(t *testing.T) {
	a := New("x")
	i := a.AppendRow()
	a.Set(i, "x", Num(1))

	c := a.Clone()
	c.Set(0, "x", Num(9))
	c.AddColumn("extra")

	f, _ := a.Float(0, "x")
	assert.Equal(t, 1.0, f)
	assert.False(t, a.HasColumn("extra"))
}

func TestWriteCSV(t *testing.T) {
	tb := New("a", "b")
	i := tb.AppendRow()
	tb.Set(i, "a", Parse("1.20"))
	i = tb.AppendRow()
	tb.Set(i, "b", Str("방전"))

	var buf bytes.Buffer
	require.NoError(t, tb.WriteCSV(&buf))
	assert.Equal(t, "a,b\n1.20,\n,방전\n", buf.String())
}

func TestWriteCSVFileHasBOM(t *testing.T) {
	tb := New("a")
	i := tb.AppendRow()
	tb.Set(i, "a", Num(1))

	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, tb.WriteCSVFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}))
	assert.Equal(t, "a\n1\n", string(data[3:]))
}
