package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"go.uber.org/zap"

	"battminer/internal/equipment"
	"battminer/internal/table"
)

// ExportParquet writes the merged table as "<base>_merged.parquet" with the
// same descriptor columns the CSV export carries. Every field is an
// optional UTF8 string; nulls stay null. An empty table exports nothing.
func (e *Exporter) ExportParquet(merged *table.Table, info equipment.BatteryInfo, equip equipment.Type, base string) (string, error) {
	if merged == nil || merged.Empty() {
		e.log.Warn("no data to export")
		return "", nil
	}
	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	out := merged.Clone()
	addMetadata(out, info, equip)

	path := filepath.Join(e.outputDir, base+"_merged.parquet")
	if err := writeTableParquet(path, out); err != nil {
		return "", fmt.Errorf("write parquet: %w", err)
	}
	e.log.Info("exported parquet",
		zap.String("path", path), zap.Int("rows", out.NumRows()))
	return path, nil
}

// writeTableParquet streams a table through a CSV-schema parquet writer.
// Cycler schemas drift between runs, so the schema is built per table
// instead of from a fixed struct.
func writeTableParquet(path string, t *table.Table) error {
	cols := t.Columns()
	names := parquetNames(cols)

	md := make([]string, len(cols))
	for i := range cols {
		md[i] = fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", names[i])
	}

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create parquet file: %w", err)
	}
	pw, err := writer.NewCSVWriter(md, fw, 1)
	if err != nil {
		fw.Close()
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	rec := make([]*string, len(cols))
	for i := 0; i < t.NumRows(); i++ {
		for j, c := range cols {
			v := t.Value(i, c)
			if v.IsNull() {
				rec[j] = nil
				continue
			}
			s := v.Text()
			rec[j] = &s
		}
		if err := pw.WriteString(rec); err != nil {
			fw.Close()
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("finalize parquet: %w", err)
	}
	return fw.Close()
}

// parquetNames maps table columns onto parquet-safe field names: anything
// outside [A-Za-z0-9_] becomes an underscore, a leading digit gets a "c_"
// prefix, and collisions get a numeric suffix.
func parquetNames(cols []string) []string {
	names := make([]string, len(cols))
	seen := make(map[string]bool, len(cols))
	for i, c := range cols {
		n := sanitizeParquetName(c)
		if seen[n] {
			base := n
			for k := 2; seen[n]; k++ {
				n = fmt.Sprintf("%s_%d", base, k)
			}
		}
		seen[n] = true
		names[i] = n
	}
	return names
}

func sanitizeParquetName(col string) string {
	out := make([]byte, 0, len(col))
	for _, r := range col {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			out = append(out, byte(r))
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "col"
	}
	if out[0] >= '0' && out[0] <= '9' {
		return "c_" + string(out)
	}
	return string(out)
}
