package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vbauerster/mpb/v8"
	"go.uber.org/zap"

	"battminer/internal/equipment"
	"battminer/internal/export"
	"battminer/internal/labeling"
	"battminer/internal/loader"
	"battminer/internal/table"
	"battminer/internal/visualize"
)

// ErrNoData marks a run where the directory validated but yielded no
// usable rows. Distinct from equipment.ErrInvalidPath: the caller may
// treat it as "nothing to do" rather than a failure.
var ErrNoData = errors.New("no data loaded")

// Processor runs the pipeline over one data directory. It owns its loaded
// tables for its lifetime and is not safe for concurrent use.
type Processor struct {
	cfg *Config
	log *zap.Logger

	equip  equipment.Type
	info   equipment.BatteryInfo
	loader loader.Loader

	merged *table.Table
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*processorOptions)

type processorOptions struct {
	progress *mpb.Progress
}

// WithProgress attaches a progress container rendered during loads.
func WithProgress(p *mpb.Progress) ProcessorOption {
	return func(o *processorOptions) { o.progress = p }
}

// NewProcessor validates the data path, classifies the equipment family,
// parses the battery descriptor and builds the matching loader. Fails
// fast with equipment.ErrInvalidPath before any file is read.
func NewProcessor(cfg *Config, log *zap.Logger, opts ...ProcessorOption) (*Processor, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var po processorOptions
	for _, opt := range opts {
		opt(&po)
	}

	equip, err := equipment.ValidatePath(cfg.DataPath)
	if err != nil {
		return nil, err
	}
	info := equipment.ParseBatteryInfo(cfg.DataPath)

	var loaderOpts []loader.Option
	if po.progress != nil {
		loaderOpts = append(loaderOpts, loader.WithProgress(po.progress))
	}
	ld, err := loader.New(cfg.DataPath, equip, log, loaderOpts...)
	if err != nil {
		return nil, err
	}

	log.Info("processor ready",
		zap.String("data_path", cfg.DataPath),
		zap.String("equipment", string(equip)),
		zap.String("battery", info.FullName))

	return &Processor{
		cfg:    cfg,
		log:    log,
		equip:  equip,
		info:   info,
		loader: ld,
	}, nil
}

// Equipment returns the detected equipment family.
func (p *Processor) Equipment() equipment.Type { return p.equip }

// BatteryInfo returns the descriptor parsed from the directory name.
func (p *Processor) BatteryInfo() equipment.BatteryInfo { return p.info }

// Channels returns the loaded channel names in load order.
func (p *Processor) Channels() []string { return p.loader.Channels() }

// LoadData reads every channel, then applies the configured channel
// filter. Returns ErrNoData when nothing usable remains. The progress
// container only covers this initial scan; the loader releases it here
// so the caller may wait on it before exporting, which re-reads files
// on Toyo trees.
func (p *Processor) LoadData(ctx context.Context) error {
	_, err := p.loader.LoadAllChannels(ctx)
	p.loader.DetachProgress()
	if err != nil {
		return err
	}
	p.loader.Filter(p.cfg.Channels)
	p.merged = nil

	names := p.loader.Channels()
	if len(names) == 0 {
		return fmt.Errorf("%w: no channels after filtering", ErrNoData)
	}
	allEmpty := true
	for _, name := range names {
		if t, ok := p.loader.ChannelTable(name); ok && !t.Empty() {
			allEmpty = false
			break
		}
	}
	if allEmpty {
		return fmt.Errorf("%w: every channel loaded empty", ErrNoData)
	}
	return nil
}

// MergeChannels concatenates the loaded channels into one table, cached
// for repeated callers.
func (p *Processor) MergeChannels() (*table.Table, error) {
	if p.merged != nil {
		return p.merged, nil
	}
	merged, err := p.loader.MergeChannelData()
	if err != nil {
		return nil, err
	}
	p.merged = merged
	return merged, nil
}

// labeler builds the label inference engine when labeling is enabled.
func (p *Processor) labeler() *labeling.Labeler {
	if !p.cfg.Labeling {
		return nil
	}
	capacity := p.cfg.ratedCapacity(float64(p.info.CapacityMAh))
	return labeling.NewLabeler(capacity, p.log)
}

// ExportCSV writes the run's CSV outputs: one merged file plus summary for
// PNE, per-channel pairs plus summary for Toyo. Returns the paths written.
func (p *Processor) ExportCSV() ([]string, error) {
	exp := export.New(p.cfg.OutputDir, p.log)
	base := export.BaseFilename(p.info, p.equip, time.Now())

	if toyo, ok := p.loader.(*loader.ToyoLoader); ok {
		return exp.ExportToyoChannels(toyo, p.labeler(), p.info, base)
	}

	merged, err := p.MergeChannels()
	if err != nil {
		return nil, err
	}
	return exp.ExportMerged(merged, p.loader, p.info, p.equip, base)
}

// ExportParquet writes the merged table as a Parquet file and returns its
// path. Empty when there was nothing to write.
func (p *Processor) ExportParquet() (string, error) {
	merged, err := p.MergeChannels()
	if err != nil {
		return "", err
	}
	exp := export.New(p.cfg.OutputDir, p.log)
	base := export.BaseFilename(p.info, p.equip, time.Now())
	return exp.ExportParquet(merged, p.info, p.equip, base)
}

// Visualize renders the configured plots from the merged table.
func (p *Processor) Visualize() ([]string, error) {
	merged, err := p.MergeChannels()
	if err != nil {
		return nil, err
	}
	viz := visualize.New(merged, p.info, p.log)
	return viz.Create(p.cfg.OutputDir, p.cfg.Plots, time.Now())
}
