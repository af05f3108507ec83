package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"battminer/internal/equipment"
	"battminer/internal/table"
)

func TestExportParquet(t *testing.T) {
	tb := table.New("Cap[mAh]", "패턴")
	i := tb.AppendRow()
	tb.Set(i, "Cap[mAh]", table.Parse("1650.5"))
	tb.Set(i, "패턴", table.Str("보증"))
	i = tb.AppendRow()
	tb.Set(i, "Cap[mAh]", table.Parse("1640.2"))

	outDir := t.TempDir()
	exp := New(outDir, zap.NewNop())
	info := equipment.BatteryInfo{Manufacturer: "ATL", CapacityMAh: 1650}

	path, err := exp.ExportParquet(tb, info, equipment.TypeToyo, "base")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "base_merged.parquet"), path)

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, st.Size(), int64(0))
}

func TestExportParquetEmpty(t *testing.T) {
	exp := New(t.TempDir(), zap.NewNop())
	path, err := exp.ExportParquet(table.New("a"), equipment.BatteryInfo{}, equipment.TypePNE, "base")
	require.NoError(t, err)
	assert.Equal(t, "", path)
}
