package labeling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battminer/internal/table"
)

// buildTable fills a table from string fields, parsing each like the
// loaders do.
func buildTable(cols []string, rows [][]string) *table.Table {
	t := table.New(cols...)
	for _, row := range rows {
		i := t.AppendRow()
		for c, field := range row {
			t.Set(i, cols[c], table.Parse(field))
		}
	}
	return t
}

var capacityCols = []string{"TotlCycle", "Condition", "Mode", "Finish", "Cap[mAh]"}

func TestComputeCycles(t *testing.T) {
	// A new cycle starts on the first row and whenever Condition
	// transitions into 1. Consecutive 1s stay in the same cycle.
	capacity := buildTable(capacityCols, [][]string{
		{"1", "1", "1", "", "1650"},
		{"1", "2", "6", "", "1640"},
		{"2", "1", "1", "", "1651"},
		{"2", "1", "3", "", "1652"},
		{"2", "2", "6", "", "1641"},
		{"3", "1", "1", "", "1653"},
	})

	cycles := computeCycles(capacity)
	assert.Equal(t, []int{1, 1, 2, 2, 2, 3}, cycles)
}

func TestComputeCyclesRunOfOnesSharesCycle(t *testing.T) {
	var rows [][]string
	for _, cond := range []string{"1", "2", "1", "1", "1", "1", "2", "2"} {
		rows = append(rows, []string{"1", cond, "1", "", "1650"})
	}
	capacity := buildTable(capacityCols, rows)

	cycles := computeCycles(capacity)
	assert.Equal(t, []int{1, 1, 2, 2, 2, 2, 2, 2}, cycles,
		"a run of Condition 1 rows increments once, on entry")
}

func TestClassifyPattern(t *testing.T) {
	assert.Equal(t, PatternWarranty, classifyPattern(1))
	assert.Equal(t, PatternLife, classifyPattern(2))
	assert.Equal(t, PatternLife, classifyPattern(99))
	assert.Equal(t, PatternWarranty, classifyPattern(100))
	assert.Equal(t, PatternLife, classifyPattern(101))
	assert.Equal(t, PatternWarranty, classifyPattern(200))
}

func TestClassifyStepWarranty(t *testing.T) {
	capacity := buildTable(capacityCols, [][]string{
		{"1", "1", "1", "", ""},
		{"1", "2", "6", "", ""},
	})
	assert.Equal(t, StepCharge, classifyStep(capacity, 0, PatternWarranty))
	assert.Equal(t, StepDischarge, classifyStep(capacity, 1, PatternWarranty))
}

func TestClassifyStepLife(t *testing.T) {
	capacity := buildTable(capacityCols, [][]string{
		{"2", "1", "1", "", ""}, // charge, mode<=2
		{"2", "1", "3", "", ""},
		{"2", "1", "4", "", ""},
		{"2", "1", "7", "", ""}, // mode>=5
		{"2", "2", "4", "", ""}, // discharge, mode<=5
		{"2", "2", "6", "", ""}, // discharge, mode>5
	})
	assert.Equal(t, StepLifeCC1, classifyStep(capacity, 0, PatternLife))
	assert.Equal(t, StepLifeCC2, classifyStep(capacity, 1, PatternLife))
	assert.Equal(t, StepLifeCCCV3, classifyStep(capacity, 2, PatternLife))
	assert.Equal(t, StepLifeCCCV4, classifyStep(capacity, 3, PatternLife))
	assert.Equal(t, StepLifeDchg1, classifyStep(capacity, 4, PatternLife))
	assert.Equal(t, StepLifeDchg2, classifyStep(capacity, 5, PatternLife))
}

func TestLabelCapacityLogWithoutRaw(t *testing.T) {
	capacity := buildTable(capacityCols, [][]string{
		{"1", "1", "1", "Cur", "1650"},
		{"1", "2", "6", "Vol", "1640"},
	})

	l := NewLabeler(1650, nil)
	labeled := l.LabelCapacityLog(capacity, nil)

	// Source table is untouched.
	assert.False(t, capacity.HasColumn(ColCycle))

	c, _ := labeled.Float(0, ColCycle)
	assert.Equal(t, 1.0, c)
	assert.Equal(t, PatternWarranty, labeled.Text(0, ColPattern))
	assert.Equal(t, StepCharge, labeled.Text(0, ColStep))
	assert.Equal(t, StepDischarge, labeled.Text(1, ColStep))

	// Warranty estimate is a flat 0.2 C.
	r, _ := labeled.Float(0, ColCRate)
	assert.Equal(t, 0.2, r)

	// Cutoffs are null without raw data.
	assert.True(t, labeled.Value(0, ColCutoffVoltage).IsNull())
	assert.True(t, labeled.Value(1, ColCutoffCurrent).IsNull())
}

func TestEstimateCRateLifeSteps(t *testing.T) {
	l := NewLabeler(1000, nil)
	capacity := buildTable(capacityCols, [][]string{
		{"2", "1", "1", "", "800"},
	})

	assert.Equal(t, 0.5, l.estimateCRate(capacity, 0, PatternLife, StepLifeCC1))
	assert.Equal(t, 0.3, l.estimateCRate(capacity, 0, PatternLife, StepLifeCC2))
	assert.Equal(t, 0.5, l.estimateCRate(capacity, 0, PatternLife, StepLifeDchg2))
	assert.Equal(t, 0.5, l.estimateCRate(capacity, 0, PatternLife, StepLifeCCCV3))

	// Unrecognized step falls back to the declared-capacity table.
	assert.Equal(t, 0.3, l.estimateCRate(capacity, 0, PatternLife, "other"))
	assert.Equal(t, 0.0, l.estimateCRate(capacity, 0, "", "other"))
}

func TestCrossReferenceCRateFromRaw(t *testing.T) {
	capacity := buildTable(capacityCols, [][]string{
		{"2", "1", "1", "", "1650"},
	})
	raw := buildTable([]string{"TotlCycle", "Condition", "Mode", "Current", "Voltage"}, [][]string{
		{"2", "1", "1", "825", "4.1"},
		{"2", "1", "1", "-825", "4.1"},
		{"2", "1", "1", "0", "4.1"}, // zero samples excluded from the mean
	})

	l := NewLabeler(1650, nil)
	labeled := l.LabelCapacityLog(capacity, raw)

	r, ok := labeled.Float(0, ColCRate)
	require.True(t, ok)
	assert.Equal(t, 0.5, r, "mean of |non-zero currents| over rated capacity")
}

func TestCrossReferenceCRateAllZeroCurrents(t *testing.T) {
	capacity := buildTable(capacityCols, [][]string{
		{"2", "1", "1", "", "1650"},
	})
	raw := buildTable([]string{"TotlCycle", "Condition", "Mode", "Current"}, [][]string{
		{"2", "1", "1", "0"},
	})

	l := NewLabeler(1650, nil)
	labeled := l.LabelCapacityLog(capacity, raw)
	r, _ := labeled.Float(0, ColCRate)
	assert.Equal(t, 0.0, r)
}

func TestCrossReferenceCRateFallback(t *testing.T) {
	// Raw data exists but matches nothing: the declared-capacity
	// heuristic applies per row.
	capacity := buildTable(capacityCols, [][]string{
		{"1", "1", "1", "", "1650"}, // cycle 1: warranty
		{"1", "2", "6", "", "1650"}, // still cycle 1: warranty
		{"2", "1", "1", "", "250"},  // cycle 2: life, < 300
		{"2", "1", "3", "", "450"},  // life, < 600
		{"2", "1", "4", "", "1650"}, // life, >= 600
		{"2", "2", "6", "", "0"},    // no capacity
	})
	raw := buildTable([]string{"TotlCycle", "Condition", "Mode", "Current"}, [][]string{
		{"9", "9", "9", "825"},
	})

	l := NewLabeler(1650, nil)
	labeled := l.LabelCapacityLog(capacity, raw)

	expect := []float64{0.2, 0.2, 1.0, 0.5, 0.3, 0.0}
	for i, want := range expect {
		got, _ := labeled.Float(i, ColCRate)
		assert.Equal(t, want, got, "row %d", i)
	}
}

func TestCutoffExtraction(t *testing.T) {
	capacity := buildTable(capacityCols, [][]string{
		{"1", "1", "1", "Cur", "1650"}, // CV charge end: current cutoff
		{"1", "2", "6", "Vol", "1640"}, // discharge end: voltage cutoff
		{"2", "1", "1", "", "1650"},    // no finish code: both null
	})
	raw := buildTable([]string{"TotlCycle", "Condition", "Mode", "Current", "Voltage"}, [][]string{
		{"1", "1", "1", "825", "4.19999"},
		{"1", "1", "1", "-86.96", "4.20004"}, // last matching: cutoff source
		{"1", "2", "6", "-825", "2.75012"},
	})

	l := NewLabeler(1650, nil)
	labeled := l.LabelCapacityLog(capacity, raw)

	cur, ok := labeled.Float(0, ColCutoffCurrent)
	require.True(t, ok)
	assert.Equal(t, 87.0, cur, "absolute last current, one decimal")
	assert.True(t, labeled.Value(0, ColCutoffVoltage).IsNull(), "a step has one cutoff kind")

	v, ok := labeled.Float(1, ColCutoffVoltage)
	require.True(t, ok)
	assert.Equal(t, 2.7501, v, "last voltage, four decimals")
	assert.True(t, labeled.Value(1, ColCutoffCurrent).IsNull())

	assert.True(t, labeled.Value(2, ColCutoffVoltage).IsNull())
	assert.True(t, labeled.Value(2, ColCutoffCurrent).IsNull())
}

func TestCutoffDefaultsWhenNoRawMatch(t *testing.T) {
	capacity := buildTable(capacityCols, [][]string{
		{"1", "1", "1", "Vol", "1650"}, // charge, no match: 4.5
		{"1", "2", "6", "Vol", "1640"}, // discharge, no match: 2.75
		{"1", "1", "2", "Cur", "1650"}, // no match: 87.0
	})
	raw := buildTable([]string{"TotlCycle", "Condition", "Mode", "Current", "Voltage"}, [][]string{
		{"9", "9", "9", "1", "1"},
	})

	l := NewLabeler(1650, nil)
	labeled := l.LabelCapacityLog(capacity, raw)

	v, _ := labeled.Float(0, ColCutoffVoltage)
	assert.Equal(t, 4.5, v)
	v, _ = labeled.Float(1, ColCutoffVoltage)
	assert.Equal(t, 2.75, v)
	c, _ := labeled.Float(2, ColCutoffCurrent)
	assert.Equal(t, 87.0, c)
}

func TestLabelRawData(t *testing.T) {
	capacity := buildTable(capacityCols, [][]string{
		{"1", "1", "1", "Cur", "1650"},
		{"1", "2", "6", "Vol", "1640"},
	})
	raw := buildTable([]string{"TotlCycle", "Condition", "Mode", "Current", "Voltage"}, [][]string{
		{"1", "1", "1", "825", "4.1"},
		{"1", "2", "6", "-825", "3.7"},
		{"9", "9", "9", "330", "3.9"}, // unmatched
	})

	l := NewLabeler(1650, nil)
	labeledCap := l.LabelCapacityLog(capacity, raw)
	labeledRaw := l.LabelRawData(raw, labeledCap)

	// Source raw table is untouched.
	assert.False(t, raw.HasColumn(ColCRate))

	r, _ := labeledRaw.Float(0, ColCRate)
	assert.Equal(t, 0.5, r)
	r, _ = labeledRaw.Float(1, ColCRate)
	assert.Equal(t, 0.5, r, "per-sample C-rate uses the absolute current")
	r, _ = labeledRaw.Float(2, ColCRate)
	assert.Equal(t, 0.2, r)

	assert.Equal(t, PatternWarranty, labeledRaw.Text(0, ColPattern))
	assert.Equal(t, StepCharge, labeledRaw.Text(0, ColStep))
	assert.Equal(t, StepDischarge, labeledRaw.Text(1, ColStep))

	// Unmatched rows carry empty strings, not nulls.
	assert.Equal(t, "", labeledRaw.Text(2, ColPattern))
	assert.False(t, labeledRaw.Value(2, ColPattern).IsNull())
}

func TestLabelRawDataWithoutCapacity(t *testing.T) {
	raw := buildTable([]string{"TotlCycle", "Condition", "Mode", "Current"}, [][]string{
		{"1", "1", "1", "825"},
	})

	l := NewLabeler(1650, nil)
	labeledRaw := l.LabelRawData(raw, nil)

	r, _ := labeledRaw.Float(0, ColCRate)
	assert.Equal(t, 0.5, r)
	assert.False(t, labeledRaw.HasColumn(ColPattern))
}

func TestNewLabelerDefaultCapacity(t *testing.T) {
	l := NewLabeler(0, nil)
	assert.Equal(t, DefaultRatedCapacityMAh, l.RatedCapacity())

	l = NewLabeler(4352, nil)
	assert.Equal(t, 4352.0, l.RatedCapacity())
}
