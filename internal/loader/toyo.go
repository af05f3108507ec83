package loader

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"go.uber.org/zap"

	"battminer/internal/equipment"
	"battminer/internal/table"
)

// rawFileName matches Toyo raw sample files: exactly six digits, no
// extension. Lexicographic order equals numeric order at fixed width.
var rawFileName = regexp.MustCompile(`^\d{6}$`)

// headerTokens identify the real header line inside a raw sample file,
// which may carry a variable number of metadata lines first. Checked in
// order; first line containing any token wins.
var headerTokens = []string{"Date", "Time", "Voltage"}

// ToyoLoader reads the delimited summary+raw-sample log format. Each
// numeric channel folder holds a CAPACITY.LOG summary and zero or more
// six-digit raw files.
type ToyoLoader struct {
	base
}

// NewToyoLoader builds a loader for a Toyo data directory.
func NewToyoLoader(dataPath string, log *zap.Logger, opts ...Option) *ToyoLoader {
	return &ToyoLoader{base: newBase(dataPath, log, opts...)}
}

// LoadAllChannels loads every numeric channel folder in lexicographic
// order. Channel names are prefixed "Ch" to match the export layout.
func (l *ToyoLoader) LoadAllChannels(ctx context.Context) (map[string]*table.Table, error) {
	folders, err := equipment.ChannelFolders(l.dataPath, equipment.TypeToyo)
	if err != nil {
		return nil, err
	}
	if len(folders) == 0 {
		l.log.Warn("no Toyo channels found", zap.String("path", l.dataPath))
		return l.snapshot(), nil
	}
	l.log.Info("loading Toyo channels", zap.Int("count", len(folders)))

	for _, folder := range folders {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := "Ch" + filepath.Base(folder)
		l.put(name, l.loadChannel(folder))
	}
	return l.snapshot(), nil
}

// loadChannel returns the channel's canonical table: the concatenated raw
// samples when any parsed, otherwise the capacity log.
func (l *ToyoLoader) loadChannel(channelPath string) *table.Table {
	raw := l.LoadRawFiles(channelPath)
	if !raw.Empty() {
		return raw
	}
	return l.LoadCapacityLog(channelPath)
}

// LoadCapacityLog reads the CAPACITY.LOG summary of one channel folder as
// comma-delimited text with a header row. A missing or malformed file
// yields an empty table.
func (l *ToyoLoader) LoadCapacityLog(channelPath string) *table.Table {
	name := filepath.Base(channelPath)
	path := filepath.Join(channelPath, equipment.CapacityLogName)
	if _, err := os.Stat(path); err != nil {
		l.log.Warn("CAPACITY.LOG not found", zap.String("channel", name))
		return table.New()
	}

	lines, err := readTextLines(path)
	if err != nil {
		l.log.Warn("skipping CAPACITY.LOG", zap.String("channel", name), zap.Error(err))
		return table.New()
	}
	t, err := parseDelimited(lines, 0, false)
	if err != nil {
		l.log.Warn("skipping CAPACITY.LOG", zap.String("channel", name), zap.Error(err))
		return table.New()
	}
	l.log.Info("loaded CAPACITY.LOG",
		zap.String("channel", name), zap.Int("rows", t.NumRows()))
	return t
}

// LoadRawFiles reads and concatenates every six-digit raw sample file of
// one channel folder, sorted by name. Per-file failures are logged and
// skipped.
func (l *ToyoLoader) LoadRawFiles(channelPath string) *table.Table {
	name := filepath.Base(channelPath)
	files, err := l.rawFiles(channelPath)
	if err != nil {
		l.log.Warn("channel folder not readable",
			zap.String("channel", name), zap.Error(err))
		return table.New()
	}
	if len(files) == 0 {
		l.log.Warn("no raw data files found", zap.String("channel", name))
		return table.New()
	}
	l.log.Info("loading raw data files",
		zap.String("channel", name), zap.Int("files", len(files)))

	bar := l.rawBar(name, len(files))
	combined := table.New()
	for _, f := range files {
		t, err := l.readRawFile(f)
		if err != nil {
			l.log.Warn("skipping raw data file",
				zap.String("file", filepath.Base(f)), zap.Error(err))
		} else {
			combined.Concat(t)
		}
		if bar != nil {
			bar.Increment()
		}
	}
	l.log.Info("loaded raw data",
		zap.String("channel", name), zap.Int("rows", combined.NumRows()))
	return combined
}

func (l *ToyoLoader) rawFiles(channelPath string) ([]string, error) {
	entries, err := os.ReadDir(channelPath)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && rawFileName.MatchString(e.Name()) {
			files = append(files, filepath.Join(channelPath, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// readRawFile parses one raw sample file: skip the metadata preamble up to
// the detected header line, then read delimited rows under the trimmed
// header names. Junk columns are dropped here only; the capacity log keeps
// its header names verbatim.
func (l *ToyoLoader) readRawFile(path string) (*table.Table, error) {
	lines, err := readTextLines(path)
	if err != nil {
		return nil, err
	}
	return parseDelimited(lines, findHeaderLine(lines), true)
}

// findHeaderLine returns the index of the first line containing one of the
// header tokens, or 0 when none matches.
func findHeaderLine(lines []string) int {
	for i, line := range lines {
		for _, tok := range headerTokens {
			if strings.Contains(line, tok) {
				return i
			}
		}
	}
	return 0
}

// parseDelimited reads comma-delimited rows starting at the header line.
// Header names are whitespace-trimmed. With dropJunk set, columns whose
// trimmed header is empty, "nan", "none" (any case) or starts with
// "Unnamed" are dropped.
func parseDelimited(lines []string, headerIdx int, dropJunk bool) (*table.Table, error) {
	if headerIdx >= len(lines) {
		return table.New(), nil
	}
	r := csv.NewReader(strings.NewReader(strings.Join(lines[headerIdx:], "\n")))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse delimited data: %w", err)
	}
	if len(records) == 0 {
		return table.New(), nil
	}

	header := records[0]
	keep := make([]int, 0, len(header))
	names := make([]string, 0, len(header))
	for c, h := range header {
		h = strings.TrimSpace(h)
		if dropJunk && junkColumn(h) {
			continue
		}
		keep = append(keep, c)
		names = append(names, h)
	}

	t := table.New(names...)
	for _, rec := range records[1:] {
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		i := t.AppendRow()
		for k, c := range keep {
			if c < len(rec) {
				t.Set(i, names[k], table.Parse(rec[c]))
			}
		}
	}
	return t, nil
}

func junkColumn(h string) bool {
	return h == "" || h == "nan" ||
		strings.HasPrefix(h, "Unnamed") ||
		strings.EqualFold(h, "none")
}

func (l *ToyoLoader) rawBar(name string, total int) *mpb.Bar {
	if l.progress == nil {
		return nil
	}
	return l.progress.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name(fmt.Sprintf("Loading Ch%s: ", name)),
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "done"),
		),
	)
}
