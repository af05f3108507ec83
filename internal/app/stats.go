package app

import (
	"fmt"
	"strings"

	"battminer/internal/equipment"
)

// Column candidates for summary statistics, preferred name first. The two
// equipment families expose different schemas.
var (
	statsCycleColumns    = []string{"total_cycle", "TotlCycle", "Cycle", "current_cycle"}
	statsCapacityColumns = []string{"dchg_capacity_mah", "Cap[mAh]"}
)

// SummaryStats aggregates one processed run for display.
type SummaryStats struct {
	Info         equipment.BatteryInfo
	Equipment    equipment.Type
	TotalRows    int
	Channels     []string
	ChannelCount int

	// TotalCycles is the maximum over the first recognized cycle column.
	// HasCycles is false when no such column exists.
	TotalCycles float64
	HasCycles   bool

	// Capacity statistics over the first recognized capacity column.
	MaxCapacityMAh float64
	MinCapacityMAh float64
	AvgCapacityMAh float64
	HasCapacity    bool
}

// SummaryStats computes run statistics over the merged table.
func (p *Processor) SummaryStats() (*SummaryStats, error) {
	merged, err := p.MergeChannels()
	if err != nil {
		return nil, err
	}
	if merged.Empty() {
		return nil, ErrNoData
	}

	stats := &SummaryStats{
		Info:         p.info,
		Equipment:    p.equip,
		TotalRows:    merged.NumRows(),
		Channels:     p.loader.Channels(),
		ChannelCount: len(p.loader.Channels()),
	}

	for _, col := range statsCycleColumns {
		if !merged.HasColumn(col) {
			continue
		}
		for i := 0; i < merged.NumRows(); i++ {
			if v, ok := merged.Float(i, col); ok {
				if !stats.HasCycles || v > stats.TotalCycles {
					stats.TotalCycles = v
					stats.HasCycles = true
				}
			}
		}
		break
	}

	for _, col := range statsCapacityColumns {
		if !merged.HasColumn(col) {
			continue
		}
		var sum float64
		var count int
		for i := 0; i < merged.NumRows(); i++ {
			v, ok := merged.Float(i, col)
			if !ok {
				continue
			}
			if count == 0 || v > stats.MaxCapacityMAh {
				stats.MaxCapacityMAh = v
			}
			if count == 0 || v < stats.MinCapacityMAh {
				stats.MinCapacityMAh = v
			}
			sum += v
			count++
		}
		if count > 0 {
			stats.AvgCapacityMAh = sum / float64(count)
			stats.HasCapacity = true
		}
		break
	}

	return stats, nil
}

// String renders the stats as a printable block.
func (s *SummaryStats) String() string {
	var b strings.Builder
	b.WriteString("Summary Statistics\n")
	b.WriteString(strings.Repeat("=", 50) + "\n")
	fmt.Fprintf(&b, "Battery: %s\n", s.Info.FullName)
	fmt.Fprintf(&b, "Equipment Type: %s\n", string(s.Equipment))
	fmt.Fprintf(&b, "Total Rows: %d\n", s.TotalRows)
	fmt.Fprintf(&b, "Channels (%d): %s\n", s.ChannelCount, strings.Join(s.Channels, ", "))
	if s.HasCycles {
		fmt.Fprintf(&b, "Total Cycles: %g\n", s.TotalCycles)
	}
	if s.HasCapacity {
		fmt.Fprintf(&b, "Capacity (mAh): min %.3f, max %.3f, avg %.3f\n",
			s.MinCapacityMAh, s.MaxCapacityMAh, s.AvgCapacityMAh)
	}
	return b.String()
}
