// Package labeling reconstructs cycle, pattern, step, C-rate and cutoff
// annotations for Toyo capacity logs, where the source files carry only
// weakly-typed numeric codes. The heuristic constants in this package are
// calibrated against reference exports and must not be "cleaned up":
// downstream comparisons are bit-for-bit.
package labeling

import (
	"math"
	"strings"

	"go.uber.org/zap"

	"battminer/internal/table"
)

// DefaultRatedCapacityMAh is used when the battery descriptor carries no
// capacity and the caller supplies none.
const DefaultRatedCapacityMAh = 1730.0

// Pattern classification of a capacity-log row: periodic calibration
// cycles versus ongoing life cycling. The Korean labels are the reference
// output vocabulary.
const (
	PatternWarranty = "보증"
	PatternLife     = "수명"
)

// Step labels. Warranty cycles only distinguish charge and discharge;
// life cycles use a four/two step taxonomy keyed on the Mode code.
const (
	StepCharge    = "충전"
	StepDischarge = "방전"

	StepLifeCC1   = "step1 CC충전"
	StepLifeCC2   = "step2 CC충전"
	StepLifeCCCV3 = "step3 CCCV충전"
	StepLifeCCCV4 = "step4 CCCV충전"
	StepLifeDchg1 = "step1 방전"
	StepLifeDchg2 = "step2 방전"
)

// Label column names added to capacity-log and raw tables.
const (
	ColCycle         = "계산cycle"
	ColPattern       = "패턴"
	ColStep          = "스텝"
	ColCRate         = "C-rate"
	ColCutoffVoltage = "Cutoff-Voltage"
	ColCutoffCurrent = "Cutoff-Current"
)

// Source columns consumed by the engine.
const (
	colCondition = "Condition"
	colMode      = "Mode"
	colTotlCycle = "TotlCycle"
	colFinish    = "Finish"
	colCapMAh    = "Cap[mAh]"
	colCurrent   = "Current"
	colVoltage   = "Voltage"
)

// Finish codes marking how a step terminated.
const (
	finishVoltage = "Vol"
	finishCurrent = "Cur"
)

// Cutoff defaults applied when no raw sample matches a terminated step.
const (
	defaultChargeCutoffV    = 4.5
	defaultDischargeCutoffV = 2.75
	defaultCutoffCurrentMA  = 87.0
)

// Labeler derives label columns for one channel. Not safe for concurrent
// use; create one per channel.
type Labeler struct {
	ratedCapacity float64
	log           *zap.Logger
}

// NewLabeler creates a labeler. A non-positive rated capacity falls back
// to DefaultRatedCapacityMAh.
func NewLabeler(ratedCapacityMAh float64, log *zap.Logger) *Labeler {
	if ratedCapacityMAh <= 0 {
		ratedCapacityMAh = DefaultRatedCapacityMAh
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Labeler{ratedCapacity: ratedCapacityMAh, log: log}
}

// RatedCapacity returns the capacity the engine normalizes currents by.
func (l *Labeler) RatedCapacity() float64 { return l.ratedCapacity }

// LabelCapacityLog returns a copy of capacity with the five label columns
// appended. raw may be nil or empty; C-rate and cutoffs then come from the
// estimation tables instead of raw cross-reference.
func (l *Labeler) LabelCapacityLog(capacity, raw *table.Table) *table.Table {
	out := capacity.Clone()
	n := out.NumRows()

	cycles := computeCycles(out)
	patterns := make([]string, n)
	steps := make([]string, n)
	for i := 0; i < n; i++ {
		patterns[i] = classifyPattern(cycles[i])
		steps[i] = classifyStep(out, i, patterns[i])
	}

	for i := 0; i < n; i++ {
		out.Set(i, ColCycle, table.Num(float64(cycles[i])))
	}
	for i := 0; i < n; i++ {
		out.Set(i, ColPattern, table.Str(patterns[i]))
	}
	for i := 0; i < n; i++ {
		out.Set(i, ColStep, table.Str(steps[i]))
	}

	if raw != nil && !raw.Empty() {
		idx := indexByStep(raw)
		for i := 0; i < n; i++ {
			out.Set(i, ColCRate, table.Num(l.crossReferenceCRate(out, i, raw, idx, patterns[i])))
		}
		for i := 0; i < n; i++ {
			out.Set(i, ColCutoffVoltage, l.cutoffVoltage(out, i, raw, idx, steps[i]))
		}
		for i := 0; i < n; i++ {
			out.Set(i, ColCutoffCurrent, l.cutoffCurrent(out, i, raw, idx))
		}
	} else {
		for i := 0; i < n; i++ {
			out.Set(i, ColCRate, table.Num(l.estimateCRate(out, i, patterns[i], steps[i])))
		}
		out.SetConst(ColCutoffVoltage, table.Null())
		out.SetConst(ColCutoffCurrent, table.Null())
	}

	l.log.Info("labeled capacity log", zap.Int("rows", n),
		zap.Bool("raw_cross_reference", raw != nil && !raw.Empty()))
	return out
}

// LabelRawData returns a copy of raw with a per-sample C-rate column and,
// when a labeled capacity table is supplied, pattern/step columns
// back-filled by exact match on (TotlCycle, Condition, Mode). Unmatched
// rows get empty strings, not nulls.
func (l *Labeler) LabelRawData(raw, labeledCapacity *table.Table) *table.Table {
	out := raw.Clone()
	n := out.NumRows()

	out.AddColumn(ColCRate)
	for i := 0; i < n; i++ {
		if cur, ok := out.Float(i, colCurrent); ok {
			out.Set(i, ColCRate, table.Num(round3(math.Abs(cur)/l.ratedCapacity)))
		}
	}

	if labeledCapacity == nil || !labeledCapacity.HasColumn(ColPattern) {
		return out
	}

	patternByStep := make(map[stepKey]string)
	stepByStep := make(map[stepKey]string)
	for i := 0; i < labeledCapacity.NumRows(); i++ {
		k := keyOf(labeledCapacity, i)
		patternByStep[k] = labeledCapacity.Text(i, ColPattern)
		stepByStep[k] = labeledCapacity.Text(i, ColStep)
	}

	out.AddColumn(ColPattern)
	out.AddColumn(ColStep)
	for i := 0; i < n; i++ {
		k := keyOf(out, i)
		out.Set(i, ColPattern, table.Str(patternByStep[k]))
		out.Set(i, ColStep, table.Str(stepByStep[k]))
	}
	return out
}

// computeCycles walks rows in file order: the counter increments on the
// first row and on every transition of Condition into 1. It never resets.
func computeCycles(t *table.Table) []int {
	cycles := make([]int, t.NumRows())
	cycle := 0
	var prev float64
	for i := 0; i < t.NumRows(); i++ {
		cond, _ := t.Float(i, colCondition)
		if i == 0 || (cond == 1 && prev != 1) {
			cycle++
		}
		cycles[i] = cycle
		prev = cond
	}
	return cycles
}

// classifyPattern marks cycle 1 and every exact multiple of 100 as a
// warranty (calibration) cycle.
func classifyPattern(cycle int) string {
	if cycle == 1 || (cycle > 0 && cycle%100 == 0) {
		return PatternWarranty
	}
	return PatternLife
}

// classifyStep derives the charge/discharge sub-phase from the pattern,
// the Condition code (1 = charge phase) and the Mode thresholds.
func classifyStep(t *table.Table, i int, pattern string) string {
	cond, _ := t.Float(i, colCondition)
	mode, _ := t.Float(i, colMode)

	switch pattern {
	case PatternWarranty:
		if cond == 1 {
			return StepCharge
		}
		return StepDischarge
	case PatternLife:
		if cond == 1 {
			switch {
			case mode <= 2:
				return StepLifeCC1
			case mode == 3:
				return StepLifeCC2
			case mode == 4:
				return StepLifeCCCV3
			case mode >= 5:
				return StepLifeCCCV4
			default:
				return StepCharge
			}
		}
		if mode <= 5 {
			return StepLifeDchg1
		}
		return StepLifeDchg2
	default:
		return ""
	}
}

// stepKey identifies one (cycle, condition, mode) step for raw-table
// cross-reference.
type stepKey struct {
	totlCycle, condition, mode float64
}

func keyOf(t *table.Table, i int) stepKey {
	tc, _ := t.Float(i, colTotlCycle)
	c, _ := t.Float(i, colCondition)
	m, _ := t.Float(i, colMode)
	return stepKey{tc, c, m}
}

// indexByStep groups raw row indices by step key, preserving file order
// within each group.
func indexByStep(raw *table.Table) map[stepKey][]int {
	idx := make(map[stepKey][]int)
	for i := 0; i < raw.NumRows(); i++ {
		k := keyOf(raw, i)
		idx[k] = append(idx[k], i)
	}
	return idx
}

// crossReferenceCRate computes C-rate from matching raw samples: the mean
// of the absolute non-zero currents over the step, divided by rated
// capacity. Without a raw match it falls back to a capacity/pattern
// heuristic.
func (l *Labeler) crossReferenceCRate(capacity *table.Table, i int, raw *table.Table, idx map[stepKey][]int, pattern string) float64 {
	matches := idx[keyOf(capacity, i)]
	if len(matches) > 0 {
		var sum float64
		var count int
		for _, ri := range matches {
			if cur, ok := raw.Float(ri, colCurrent); ok && cur != 0 {
				sum += math.Abs(cur)
				count++
			}
		}
		if count == 0 {
			return 0.0
		}
		return round3(sum / float64(count) / l.ratedCapacity)
	}

	capMAh, _ := capacity.Float(i, colCapMAh)
	if capMAh <= 0 {
		return 0.0
	}
	if pattern == PatternWarranty {
		return 0.2
	}
	switch {
	case capMAh < 300:
		return 1.0
	case capMAh < 600:
		return 0.5
	default:
		return 0.3
	}
}

// estimateCRate is the no-raw-data estimation table: pattern and step keyed
// with a declared-capacity fallback when the step is unrecognized.
func (l *Labeler) estimateCRate(t *table.Table, i int, pattern, step string) float64 {
	switch pattern {
	case PatternWarranty:
		return 0.2
	case PatternLife:
		switch {
		case strings.Contains(step, "step1"):
			return 0.5
		case strings.Contains(step, "step2"):
			if strings.Contains(step, StepCharge) {
				return 0.3
			}
			return 0.5
		case strings.Contains(step, "step3"), strings.Contains(step, "step4"):
			return 0.5
		}
		capMAh, _ := t.Float(i, colCapMAh)
		switch {
		case capMAh > 1500:
			return 0.7
		case capMAh > 1000:
			return 0.5
		case capMAh > 500:
			return 0.3
		default:
			return 0.2
		}
	default:
		return 0.0
	}
}

// cutoffVoltage extracts the terminal voltage for voltage-terminated rows:
// the last matching raw sample's Voltage, or the charge/discharge default
// when no sample matches. Rows with another Finish code stay null.
func (l *Labeler) cutoffVoltage(capacity *table.Table, i int, raw *table.Table, idx map[stepKey][]int, step string) table.Value {
	if capacity.Text(i, colFinish) != finishVoltage {
		return table.Null()
	}
	if matches := idx[keyOf(capacity, i)]; len(matches) > 0 {
		last := matches[len(matches)-1]
		if v, ok := raw.Float(last, colVoltage); ok {
			return table.Num(round4(v))
		}
	}
	if strings.Contains(step, StepCharge) {
		return table.Num(defaultChargeCutoffV)
	}
	return table.Num(defaultDischargeCutoffV)
}

// cutoffCurrent extracts the terminal current for current-terminated rows
// (CV charge end): absolute value of the last matching raw sample's
// Current, defaulting to 87 mA when nothing matches.
func (l *Labeler) cutoffCurrent(capacity *table.Table, i int, raw *table.Table, idx map[stepKey][]int) table.Value {
	if capacity.Text(i, colFinish) != finishCurrent {
		return table.Null()
	}
	if matches := idx[keyOf(capacity, i)]; len(matches) > 0 {
		last := matches[len(matches)-1]
		if c, ok := raw.Float(last, colCurrent); ok {
			return table.Num(round1(math.Abs(c)))
		}
	}
	return table.Num(defaultCutoffCurrentMA)
}

func round1(x float64) float64 { return math.Round(x*10) / 10 }
func round3(x float64) float64 { return math.Round(x*1000) / 1000 }
func round4(x float64) float64 { return math.Round(x*10000) / 10000 }
