package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"go.uber.org/zap"

	"battminer/internal/equipment"
	"battminer/internal/table"
)

// pneColumns is the canonical 47-field SaveData schema, in file order.
// Segment files are headerless; these names are applied positionally.
var pneColumns = []string{
	"index", "default", "step_type", "chg_dchg", "current_app_class",
	"cccv", "end_state", "step_count", "voltage_uv", "current_ua",
	"chg_capacity_uah", "dchg_capacity_uah", "chg_power_mw", "dchg_power_mw",
	"chg_wh", "dchg_wh", "repeat_pattern_count", "step_time_cs", "tot_time_day",
	"tot_time_cs", "impedance", "temp1", "temp2", "temp3", "temp4",
	"unknown25", "repeat_count", "total_cycle", "current_cycle",
	"avg_voltage_uv", "avg_current_ua", "col31", "col32", "date",
	"time", "col35", "col36", "col37", "col38", "col39", "col40",
	"col41", "col42", "col43", "cumulative_step", "voltage_max_uv", "voltage_min_uv",
}

// saveDataMarker selects segment files inside a Restore directory.
const saveDataMarker = "SaveData"

// unitDerivations maps micro-scale raw columns to the human-scale columns
// appended after load. Raw columns are kept.
var unitDerivations = []struct {
	src, dst string
	div      float64
}{
	{"voltage_uv", "voltage_v", 1e6},
	{"current_ua", "current_ma", 1e3},
	{"chg_capacity_uah", "chg_capacity_mah", 1e3},
	{"dchg_capacity_uah", "dchg_capacity_mah", 1e3},
}

// PNELoader reads the tab-separated segmented log format. Each channel
// folder holds a Restore directory with one or more SaveData files plus two
// savingFileIndex files that are only used for structural detection.
type PNELoader struct {
	base
}

// NewPNELoader builds a loader for a PNE data directory.
func NewPNELoader(dataPath string, log *zap.Logger, opts ...Option) *PNELoader {
	return &PNELoader{base: newBase(dataPath, log, opts...)}
}

// LoadAllChannels loads every qualifying channel folder in lexicographic
// order.
func (l *PNELoader) LoadAllChannels(ctx context.Context) (map[string]*table.Table, error) {
	folders, err := equipment.ChannelFolders(l.dataPath, equipment.TypePNE)
	if err != nil {
		return nil, err
	}
	if len(folders) == 0 {
		l.log.Warn("no PNE channels found", zap.String("path", l.dataPath))
		return l.snapshot(), nil
	}
	l.log.Info("loading PNE channels", zap.Int("count", len(folders)))

	for _, folder := range folders {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := filepath.Base(folder)
		l.put(name, l.loadChannel(folder))
	}
	return l.snapshot(), nil
}

// loadChannel reads and concatenates every SaveData segment of one channel.
// A segment that fails to parse is logged and skipped; a channel with no
// parseable segments yields an empty table.
func (l *PNELoader) loadChannel(channelPath string) *table.Table {
	name := filepath.Base(channelPath)
	restore := filepath.Join(channelPath, equipment.RestoreDirName)

	files, err := l.segmentFiles(restore)
	if err != nil {
		l.log.Warn("Restore folder not readable",
			zap.String("channel", name), zap.Error(err))
		return table.New()
	}
	if len(files) == 0 {
		l.log.Warn("no SaveData files found", zap.String("channel", name))
		return table.New()
	}
	l.log.Info("loading SaveData files",
		zap.String("channel", name), zap.Int("files", len(files)))

	bar := l.channelBar(name, len(files))
	combined := table.New()
	for _, f := range files {
		seg, err := l.readSegment(f)
		if err != nil {
			l.log.Warn("skipping segment file",
				zap.String("file", filepath.Base(f)), zap.Error(err))
		} else {
			combined.Concat(seg)
		}
		if bar != nil {
			bar.Increment()
		}
	}

	deriveUnitColumns(combined)
	l.log.Info("loaded channel",
		zap.String("channel", name), zap.Int("rows", combined.NumRows()))
	return combined
}

// segmentFiles lists the SaveData CSVs of a Restore directory, sorted by
// name. The fixed-width naming convention makes that chronological order.
func (l *PNELoader) segmentFiles(restore string) ([]string, error) {
	entries, err := os.ReadDir(restore)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if strings.Contains(n, saveDataMarker) && strings.HasSuffix(n, ".csv") {
			files = append(files, filepath.Join(restore, n))
		}
	}
	sort.Strings(files)
	return files, nil
}

// readSegment parses one headerless tab-separated segment file. Column
// names come from reconcileColumns based on the observed field count of
// the first line; a ragged file is a parse failure.
func (l *PNELoader) readSegment(path string) (*table.Table, error) {
	lines, err := readTextLines(path)
	if err != nil {
		return nil, err
	}

	t := table.New()
	var cols []string
	for ln, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if cols == nil {
			cols = reconcileColumns(len(fields))
		} else if len(fields) != len(cols) {
			return nil, fmt.Errorf("line %d: %d fields, want %d", ln+1, len(fields), len(cols))
		}
		i := t.AppendRow()
		for c, field := range fields {
			t.Set(i, cols[c], table.Parse(field))
		}
	}
	return t, nil
}

// reconcileColumns maps an observed column count onto the canonical schema:
// fewer columns truncate the name list, extra columns get synthetic
// ExtraCol_N names keyed by absolute position.
func reconcileColumns(observed int) []string {
	if observed <= len(pneColumns) {
		return pneColumns[:observed]
	}
	cols := make([]string, 0, observed)
	cols = append(cols, pneColumns...)
	for i := len(pneColumns); i < observed; i++ {
		cols = append(cols, fmt.Sprintf("ExtraCol_%d", i))
	}
	return cols
}

// deriveUnitColumns appends V/mA/mAh columns computed from the micro-scale
// raw columns, wherever the raw value is present.
func deriveUnitColumns(t *table.Table) {
	for _, d := range unitDerivations {
		if !t.HasColumn(d.src) {
			continue
		}
		t.AddColumn(d.dst)
		for i := 0; i < t.NumRows(); i++ {
			if f, ok := t.Float(i, d.src); ok {
				t.Set(i, d.dst, table.Num(f/d.div))
			}
		}
	}
}

// channelBar creates a per-channel progress bar when a progress container
// was attached.
func (l *PNELoader) channelBar(name string, total int) *mpb.Bar {
	if l.progress == nil {
		return nil
	}
	return l.progress.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name(fmt.Sprintf("Loading %s: ", name)),
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "done"),
		),
	)
}
