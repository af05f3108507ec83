// Package loader reads per-channel cycler files into tables. One loader
// variant exists per equipment family; both share the channel bookkeeping
// and merge step.
package loader

import (
	"context"
	"errors"
	"fmt"

	"github.com/vbauerster/mpb/v8"
	"go.uber.org/zap"

	"battminer/internal/equipment"
	"battminer/internal/table"
)

// ErrNotLoaded is returned by merge when no channel has been loaded yet.
var ErrNotLoaded = errors.New("no channel data loaded")

// ChannelColumn is the merged-table column holding the owning channel name.
const ChannelColumn = "channel"

// Loader loads every channel of one data directory and merges the results.
// Implementations are single-use and not safe for concurrent callers; they
// own their channel tables for their whole lifetime.
type Loader interface {
	// LoadAllChannels reads every channel folder. Per-file failures are
	// logged and skipped; a channel whose files all fail yields an empty
	// table, not an error.
	LoadAllChannels(ctx context.Context) (map[string]*table.Table, error)

	// MergeChannelData concatenates all held channel tables, stamping each
	// row with its channel name. Fails with ErrNotLoaded before any load.
	MergeChannelData() (*table.Table, error)

	// DataPath returns the root directory the loader reads from.
	DataPath() string

	// Channels returns the held channel names in insertion order.
	Channels() []string

	// ChannelTable returns one held channel table.
	ChannelTable(name string) (*table.Table, bool)

	// Filter drops every held channel whose name is not in keep. A nil
	// keep list is a no-op.
	Filter(keep []string)

	// DetachProgress drops the attached progress container. Later reads
	// render no bars. Must be called once the container has been waited
	// on, since a waited container cannot accept new bars.
	DetachProgress()
}

// Option configures a loader.
type Option func(*base)

// WithProgress attaches an mpb progress container; per-channel bars are
// rendered during the initial channel scan. Purely cosmetic.
func WithProgress(p *mpb.Progress) Option {
	return func(b *base) { b.progress = p }
}

// New builds the loader variant for the detected equipment family.
func New(dataPath string, equip equipment.Type, log *zap.Logger, opts ...Option) (Loader, error) {
	switch equip {
	case equipment.TypePNE:
		return NewPNELoader(dataPath, log, opts...), nil
	case equipment.TypeToyo:
		return NewToyoLoader(dataPath, log, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", equipment.ErrUnsupported, string(equip))
	}
}

// base carries the state shared by both loader variants: the data path,
// the injected logger and the insertion-ordered channel table collection.
type base struct {
	dataPath string
	log      *zap.Logger
	progress *mpb.Progress

	names  []string
	tables map[string]*table.Table
}

func newBase(dataPath string, log *zap.Logger, opts ...Option) base {
	if log == nil {
		log = zap.NewNop()
	}
	b := base{
		dataPath: dataPath,
		log:      log,
		tables:   make(map[string]*table.Table),
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b *base) put(name string, t *table.Table) {
	if _, ok := b.tables[name]; !ok {
		b.names = append(b.names, name)
	}
	b.tables[name] = t
}

// DataPath returns the root directory this loader reads from.
func (b *base) DataPath() string { return b.dataPath }

// DetachProgress drops the progress container so later reads render no
// bars.
func (b *base) DetachProgress() { b.progress = nil }

// Channels returns channel names in the order they were loaded.
func (b *base) Channels() []string { return b.names }

// ChannelTable returns one held channel table.
func (b *base) ChannelTable(name string) (*table.Table, bool) {
	t, ok := b.tables[name]
	return t, ok
}

// Filter keeps only the named channels, preserving insertion order.
func (b *base) Filter(keep []string) {
	if keep == nil {
		return
	}
	wanted := make(map[string]bool, len(keep))
	for _, k := range keep {
		wanted[k] = true
	}
	var names []string
	for _, n := range b.names {
		if wanted[n] {
			names = append(names, n)
		} else {
			delete(b.tables, n)
		}
	}
	b.names = names
}

// MergeChannelData concatenates every held channel table into one, each row
// stamped with its channel name. Channel order is insertion order; no row
// is dropped or reordered.
func (b *base) MergeChannelData() (*table.Table, error) {
	if len(b.names) == 0 {
		return nil, fmt.Errorf("%w: call LoadAllChannels first", ErrNotLoaded)
	}
	merged := table.New()
	for _, name := range b.names {
		ch := b.tables[name].Clone()
		ch.SetConst(ChannelColumn, table.Str(name))
		merged.Concat(ch)
	}
	b.log.Info("merged channel data",
		zap.Int("channels", len(b.names)),
		zap.Int("rows", merged.NumRows()))
	return merged, nil
}

// snapshot returns the held tables keyed by name, for LoadAllChannels
// return values.
func (b *base) snapshot() map[string]*table.Table {
	out := make(map[string]*table.Table, len(b.tables))
	for k, v := range b.tables {
		out[k] = v
	}
	return out
}
