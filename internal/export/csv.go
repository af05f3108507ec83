// Package export writes processed cycler data to disk: one merged CSV plus
// a text summary for PNE runs, per-channel raw/capacity CSV pairs for Toyo
// runs, and an optional Parquet rendition of the merged table. All CSV
// output carries a UTF-8 byte-order marker so spreadsheet tools keep the
// Korean label columns readable.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"battminer/internal/equipment"
	"battminer/internal/labeling"
	"battminer/internal/loader"
	"battminer/internal/table"
)

// TimestampLayout is the filename timestamp format. Whole-second
// granularity, so two exports within one second share a base name.
const TimestampLayout = "20060102_150405"

// Metadata columns appended to every exported table.
const (
	ColManufacturer  = "battery_manufacturer"
	ColModel         = "battery_model"
	ColCapacityMAh   = "battery_capacity_mah"
	ColTestCondition = "battery_test_condition"
	ColFullName      = "battery_full_name"
	ColEquipmentType = "equipment_type"
)

// BaseFilename builds the deterministic output stem from the battery
// descriptor, the equipment family and a timestamp. Absent descriptor
// fields are omitted; an unclassified family contributes "unknown". A
// fully absent descriptor falls back to "battery_data_<timestamp>".
func BaseFilename(info equipment.BatteryInfo, equip equipment.Type, ts time.Time) string {
	stamp := ts.Format(TimestampLayout)

	var parts []string
	if info.Manufacturer != "" {
		parts = append(parts, info.Manufacturer)
	}
	if info.Model != "" {
		parts = append(parts, info.Model)
	}
	if info.CapacityMAh > 0 {
		parts = append(parts, fmt.Sprintf("%dmAh", info.CapacityMAh))
	}
	if equip != equipment.TypeUnknown {
		parts = append(parts, string(equip))
	} else {
		parts = append(parts, "unknown")
	}
	parts = append(parts, stamp)

	name := strings.Join(parts, "_")
	if name == "" {
		name = "battery_data_" + stamp
	}
	return name
}

// Exporter writes output files into one directory. Not safe for concurrent
// use; one exporter serves one processing run.
type Exporter struct {
	outputDir string
	log       *zap.Logger
}

// New returns an exporter rooted at outputDir. The directory is created on
// first export.
func New(outputDir string, log *zap.Logger) *Exporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Exporter{outputDir: outputDir, log: log}
}

// OutputDir returns the directory files are written to.
func (e *Exporter) OutputDir() string { return e.outputDir }

// ExportMerged writes the merged table as "<base>_merged.csv" with the
// battery descriptor and equipment type appended as constant columns, then
// an aggregate "<base>_summary.txt". Returns every path written. An empty
// merged table exports nothing and is not an error.
func (e *Exporter) ExportMerged(merged *table.Table, ld loader.Loader, info equipment.BatteryInfo, equip equipment.Type, base string) ([]string, error) {
	if merged == nil || merged.Empty() {
		e.log.Warn("no data to export")
		return nil, nil
	}
	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	out := merged.Clone()
	addMetadata(out, info, equip)

	path := filepath.Join(e.outputDir, base+"_merged.csv")
	if err := out.WriteCSVFile(path); err != nil {
		return nil, fmt.Errorf("write merged csv: %w", err)
	}
	files := []string{path}
	e.log.Info("exported merged data",
		zap.String("path", path), zap.Int("rows", out.NumRows()))

	var channels []channelLine
	for _, name := range ld.Channels() {
		t, _ := ld.ChannelTable(name)
		rows := 0
		if t != nil {
			rows = t.NumRows()
		}
		channels = append(channels, channelLine{name, fmt.Sprintf("%d rows", rows)})
	}

	summary, err := e.writeSummary(base, summaryInput{
		info:       info,
		equip:      equip,
		dataPath:   ld.DataPath(),
		channels:   channels,
		mergedRows: merged.NumRows(),
		files:      files,
	})
	if err != nil {
		return files, err
	}
	return append(files, summary), nil
}

// ExportToyoChannels re-reads each channel folder, optionally runs the
// label inference engine over the pair, and writes
// "<base>_Ch<id>_raw_data[_labeled].csv" and
// "<base>_Ch<id>_capacity_log[_labeled].csv" per channel plus the
// aggregate summary. A channel whose tables are both empty writes nothing
// but does not abort the export; lab == nil disables labeling.
func (e *Exporter) ExportToyoChannels(ld *loader.ToyoLoader, lab *labeling.Labeler, info equipment.BatteryInfo, base string) ([]string, error) {
	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	folders, err := equipment.ChannelFolders(ld.DataPath(), equipment.TypeToyo)
	if err != nil {
		return nil, fmt.Errorf("enumerate channels: %w", err)
	}

	suffix := ""
	if lab != nil {
		suffix = "_labeled"
	}

	var files []string
	var channels []channelLine
	for _, folder := range folders {
		name := "Ch" + filepath.Base(folder)
		channels = append(channels, channelLine{name, "raw_data.csv + capacity_log.csv"})

		raw := ld.LoadRawFiles(folder)
		capacity := ld.LoadCapacityLog(folder)

		if lab != nil && !capacity.Empty() {
			if !raw.Empty() {
				capacity = lab.LabelCapacityLog(capacity, raw)
				raw = lab.LabelRawData(raw, capacity)
			} else {
				capacity = lab.LabelCapacityLog(capacity, nil)
			}
			e.log.Info("applied labeling", zap.String("channel", name))
		}

		if !raw.Empty() {
			path := filepath.Join(e.outputDir,
				fmt.Sprintf("%s_%s_raw_data%s.csv", base, name, suffix))
			if p, ok := e.writeChannelTable(raw, path, name, info); ok {
				files = append(files, p)
			}
		}
		if !capacity.Empty() {
			path := filepath.Join(e.outputDir,
				fmt.Sprintf("%s_%s_capacity_log%s.csv", base, name, suffix))
			if p, ok := e.writeChannelTable(capacity, path, name, info); ok {
				files = append(files, p)
			}
		}
	}

	summary, err := e.writeSummary(base, summaryInput{
		info:       info,
		equip:      equipment.TypeToyo,
		dataPath:   ld.DataPath(),
		channels:   channels,
		mergedRows: -1,
		files:      files,
	})
	if err != nil {
		return files, err
	}
	return append(files, summary), nil
}

// writeChannelTable stamps the descriptor and channel columns onto a copy
// of t and writes it. A write failure is logged and skipped so sibling
// channels still export.
func (e *Exporter) writeChannelTable(t *table.Table, path, channel string, info equipment.BatteryInfo) (string, bool) {
	out := t.Clone()
	addMetadata(out, info, equipment.TypeToyo)
	out.SetConst(loader.ChannelColumn, table.Str(channel))

	if err := out.WriteCSVFile(path); err != nil {
		e.log.Error("channel export failed",
			zap.String("channel", channel), zap.String("path", path), zap.Error(err))
		return "", false
	}
	e.log.Info("exported channel file",
		zap.String("channel", channel), zap.String("path", path),
		zap.Int("rows", out.NumRows()))
	return path, true
}

type channelLine struct {
	name   string
	detail string
}

type summaryInput struct {
	info       equipment.BatteryInfo
	equip      equipment.Type
	dataPath   string
	channels   []channelLine
	mergedRows int
	files      []string
}

// writeSummary writes "<base>_summary.txt".
func (e *Exporter) writeSummary(base string, in summaryInput) (string, error) {
	var b strings.Builder

	title := "Battery Test Data Processing Summary"
	if in.equip == equipment.TypeToyo {
		title += " (Toyo)"
	}
	b.WriteString(title + "\n")
	b.WriteString(strings.Repeat("=", 50) + "\n\n")

	b.WriteString("Battery Information:\n")
	fmt.Fprintf(&b, "  manufacturer: %s\n", in.info.Manufacturer)
	fmt.Fprintf(&b, "  model: %s\n", in.info.Model)
	fmt.Fprintf(&b, "  capacity_mah: %d\n", in.info.CapacityMAh)
	fmt.Fprintf(&b, "  test_condition: %s\n", in.info.TestCondition)
	fmt.Fprintf(&b, "  full_name: %s\n", in.info.FullName)

	fmt.Fprintf(&b, "\nEquipment Type: %s\n", string(in.equip))
	fmt.Fprintf(&b, "Data Path: %s\n", in.dataPath)
	fmt.Fprintf(&b, "Processing Time: %s\n\n", time.Now().Format("2006-01-02 15:04:05"))

	b.WriteString("Channels Processed:\n")
	for _, ch := range in.channels {
		fmt.Fprintf(&b, "  %s: %s\n", ch.name, ch.detail)
	}

	if in.mergedRows >= 0 {
		fmt.Fprintf(&b, "\nMerged Data: %d total rows\n", in.mergedRows)
	}

	b.WriteString("\nExported Files:\n")
	for _, f := range in.files {
		fmt.Fprintf(&b, "  - %s\n", f)
	}

	path := filepath.Join(e.outputDir, base+"_summary.txt")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	e.log.Info("exported summary", zap.String("path", path))
	return path, nil
}

// addMetadata appends the battery descriptor and equipment type as constant
// columns. Absent descriptor fields are left off entirely.
func addMetadata(t *table.Table, info equipment.BatteryInfo, equip equipment.Type) {
	if info.Manufacturer != "" {
		t.SetConst(ColManufacturer, table.Str(info.Manufacturer))
	}
	if info.Model != "" {
		t.SetConst(ColModel, table.Str(info.Model))
	}
	if info.CapacityMAh > 0 {
		t.SetConst(ColCapacityMAh, table.Num(float64(info.CapacityMAh)))
	}
	if info.TestCondition != "" {
		t.SetConst(ColTestCondition, table.Str(info.TestCondition))
	}
	if info.FullName != "" {
		t.SetConst(ColFullName, table.Str(info.FullName))
	}
	t.SetConst(ColEquipmentType, table.Str(string(equip)))
}
