// Package visualize renders plots of merged cycler data to PNG files. It
// reads the merged table and battery descriptor only and never mutates
// them. Column names differ between equipment families, so every plot
// resolves its columns from a candidate list and skips quietly when none
// match.
package visualize

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"battminer/internal/equipment"
	"battminer/internal/loader"
	"battminer/internal/table"
)

// Plot type names accepted by Create.
const (
	PlotVoltageCurrent = "voltage_current"
	PlotCapacityFade   = "capacity_fade"
	PlotStatistics     = "statistics"
	PlotChannels       = "channels"
)

// AllPlots is the default plot selection, in render order.
var AllPlots = []string{PlotVoltageCurrent, PlotCapacityFade, PlotStatistics, PlotChannels}

// Column candidates per concern, preferred name first.
var (
	timeColumns    = []string{"tot_time_cs", "PassTime[Sec]", "time", "TotlPassTime"}
	voltageColumns = []string{"voltage_v", "Voltage[V]", "voltage_uv"}
	currentColumns = []string{"current_ma", "Current[mA]", "current_ua"}
	cycleColumns   = []string{"total_cycle", "TotlCycle", "Cycle"}
	chgCapColumns  = []string{"chg_capacity_mah", "Cap[mAh]", "chg_capacity_uah"}
	dchgCapColumns = []string{"dchg_capacity_mah", "Cap[mAh]", "dchg_capacity_uah"}
	energyColumns  = []string{"chg_wh", "Pow[mWh]", "chg_power_mw"}
	avgVoltColumns = []string{"avg_voltage_uv", "AveVolt[V]", "voltage_v"}
)

// Visualizer renders plots from one merged table.
type Visualizer struct {
	data *table.Table
	info equipment.BatteryInfo
	log  *zap.Logger
}

// New returns a visualizer over the merged table.
func New(data *table.Table, info equipment.BatteryInfo, log *zap.Logger) *Visualizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Visualizer{data: data, info: info, log: log}
}

// Create renders the requested plot types into outputDir, naming each file
// "<type>_<timestamp>.png". Unknown types and plots whose columns are
// missing are logged and skipped. Returns the paths written.
func (v *Visualizer) Create(outputDir string, plots []string, ts time.Time) ([]string, error) {
	if v.data == nil || v.data.Empty() {
		v.log.Warn("no data to visualize")
		return nil, nil
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if plots == nil {
		plots = AllPlots
	}

	stamp := ts.Format("20060102_150405")
	var files []string
	for _, kind := range plots {
		path := filepath.Join(outputDir, fmt.Sprintf("%s_%s.png", kind, stamp))

		var err error
		var ok bool
		switch kind {
		case PlotVoltageCurrent:
			ok, err = v.VoltageCurrentProfile(path)
		case PlotCapacityFade:
			ok, err = v.CapacityFade(path)
		case PlotStatistics:
			ok, err = v.CycleStatistics(path)
		case PlotChannels:
			ok, err = v.ChannelComparison(nil, path)
		default:
			v.log.Warn("unknown plot type", zap.String("type", kind))
			continue
		}
		if err != nil {
			v.log.Error("plot failed", zap.String("type", kind), zap.Error(err))
			continue
		}
		if ok {
			files = append(files, path)
			v.log.Info("saved plot", zap.String("type", kind), zap.String("path", path))
		}
	}
	return files, nil
}

// VoltageCurrentProfile draws voltage and current over time as two stacked
// panels sharing an x axis. Returns false when no time column exists.
func (v *Visualizer) VoltageCurrentProfile(path string) (bool, error) {
	timeCol := v.firstColumn(timeColumns)
	if timeCol == "" {
		v.log.Warn("no time column found in data")
		return false, nil
	}

	top := v.newPlot("Voltage Profile")
	top.Y.Label.Text = "Voltage (V)"

	bottom := v.newPlot("Current Profile")
	bottom.X.Label.Text = "Time"
	bottom.Y.Label.Text = "Current (mA)"

	if col := v.firstColumn(voltageColumns); col != "" {
		line, err := plotter.NewLine(v.seriesXY(timeCol, col))
		if err != nil {
			return false, err
		}
		line.Color = plotutil.Color(0)
		top.Add(line)
	}
	if col := v.firstColumn(currentColumns); col != "" {
		line, err := plotter.NewLine(v.seriesXY(timeCol, col))
		if err != nil {
			return false, err
		}
		line.Color = plotutil.Color(1)
		bottom.Add(line)
	}

	return true, writeTiled(path, [][]*plot.Plot{{top}, {bottom}}, 14*vg.Inch, 10*vg.Inch)
}

// CapacityFade draws per-cycle maximum charge and discharge capacity.
// Returns false when the cycle or capacity columns are absent.
func (v *Visualizer) CapacityFade(path string) (bool, error) {
	cycleCol := v.firstColumn(cycleColumns)
	chgCol := v.firstColumn(chgCapColumns)
	dchgCol := v.firstColumn(dchgCapColumns)
	if cycleCol == "" || (chgCol == "" && dchgCol == "") {
		v.log.Warn("required columns for capacity fade plot not found")
		return false, nil
	}

	p := v.newPlot("Capacity Fade Over Cycles")
	p.X.Label.Text = "Cycle Number"
	p.Y.Label.Text = "Capacity (mAh)"
	p.Legend.Top = true

	var args []interface{}
	if chgCol != "" {
		args = append(args, "Charge Capacity", v.groupMaxXY(cycleCol, chgCol, ""))
	}
	if dchgCol != "" && dchgCol != chgCol {
		args = append(args, "Discharge Capacity", v.groupMaxXY(cycleCol, dchgCol, ""))
	}
	if err := plotutil.AddLinePoints(p, args...); err != nil {
		return false, err
	}

	return true, p.Save(12*vg.Inch, 8*vg.Inch, path)
}

// CycleStatistics draws a 2x2 panel: coulombic efficiency, energy per
// cycle, average voltage per cycle and average temperature per cycle.
// Returns false when no cycle column exists.
func (v *Visualizer) CycleStatistics(path string) (bool, error) {
	cycleCol := v.firstColumn(cycleColumns)
	if cycleCol == "" {
		v.log.Warn("cycle column not found for statistics plot")
		return false, nil
	}

	efficiency := v.newPlot("Coulombic Efficiency")
	efficiency.X.Label.Text = "Cycle Number"
	efficiency.Y.Label.Text = "Coulombic Efficiency (%)"
	if v.data.HasColumn("chg_capacity_mah") && v.data.HasColumn("dchg_capacity_mah") {
		chg := v.groupMax(cycleCol, "chg_capacity_mah", "")
		dchg := v.groupMax(cycleCol, "dchg_capacity_mah", "")
		var pts plotter.XYs
		for cycle, c := range chg {
			if d, ok := dchg[cycle]; ok && c != 0 {
				pts = append(pts, plotter.XY{X: cycle, Y: d / c * 100})
			}
		}
		sortXY(pts)
		if err := plotutil.AddLinePoints(efficiency, pts); err != nil {
			return false, err
		}
	}

	energy := v.newPlot("Energy per Cycle")
	energy.X.Label.Text = "Cycle Number"
	energy.Y.Label.Text = "Energy"
	energy.Legend.Top = true
	var energyArgs []interface{}
	for _, col := range energyColumns {
		if v.data.HasColumn(col) {
			energyArgs = append(energyArgs, col, v.groupMaxXY(cycleCol, col, ""))
		}
	}
	if len(energyArgs) > 0 {
		if err := plotutil.AddLinePoints(energy, energyArgs...); err != nil {
			return false, err
		}
	}

	voltage := v.newPlot("Average Voltage per Cycle")
	voltage.X.Label.Text = "Cycle Number"
	voltage.Y.Label.Text = "Average Voltage (V)"
	if col := v.firstColumn(avgVoltColumns); col != "" {
		pts := v.groupMeanXY(cycleCol, col)
		if strings.Contains(col, "uv") {
			for i := range pts {
				pts[i].Y /= 1e6
			}
		}
		if err := plotutil.AddLinePoints(voltage, pts); err != nil {
			return false, err
		}
	}

	temperature := v.newPlot("Average Temperature per Cycle")
	temperature.X.Label.Text = "Cycle Number"
	temperature.Y.Label.Text = "Temperature (C)"
	temperature.Legend.Top = true
	var tempArgs []interface{}
	for _, col := range v.data.Columns() {
		if !strings.Contains(strings.ToLower(col), "temp") {
			continue
		}
		tempArgs = append(tempArgs, col, v.groupMeanXY(cycleCol, col))
		if len(tempArgs) >= 6 {
			break
		}
	}
	if len(tempArgs) > 0 {
		if err := plotutil.AddLinePoints(temperature, tempArgs...); err != nil {
			return false, err
		}
	}

	grid := [][]*plot.Plot{
		{efficiency, energy},
		{voltage, temperature},
	}
	return true, writeTiled(path, grid, 14*vg.Inch, 10*vg.Inch)
}

// ChannelComparison draws per-channel discharge capacity and capacity
// retention over cycles. With a nil channel list the first five channels
// in the data are compared. Returns false when the data has no channel
// column.
func (v *Visualizer) ChannelComparison(channels []string, path string) (bool, error) {
	if !v.data.HasColumn(loader.ChannelColumn) {
		v.log.Warn("channel column not found in data")
		return false, nil
	}

	available := v.distinctChannels()
	if channels == nil {
		if len(available) > 5 {
			available = available[:5]
		}
		channels = available
	} else {
		channels = intersect(channels, available)
	}

	cycleCol := v.firstColumn(cycleColumns)
	capCol := v.firstColumn([]string{"dchg_capacity_mah", "Cap[mAh]"})

	capacity := v.newPlot("Capacity Comparison Across Channels")
	capacity.X.Label.Text = "Cycle Number"
	capacity.Y.Label.Text = "Discharge Capacity (mAh)"
	capacity.Legend.Top = true

	retention := v.newPlot("Capacity Retention Comparison")
	retention.X.Label.Text = "Cycle Number"
	retention.Y.Label.Text = "Capacity Retention (%)"
	retention.Legend.Top = true

	if cycleCol != "" && capCol != "" {
		var capArgs, retArgs []interface{}
		for _, ch := range channels {
			pts := v.groupMaxXY(cycleCol, capCol, ch)
			if len(pts) == 0 {
				continue
			}
			capArgs = append(capArgs, ch, pts)

			initial := pts[0].Y
			if initial == 0 {
				initial = 1
			}
			ret := make(plotter.XYs, len(pts))
			for i, pt := range pts {
				ret[i] = plotter.XY{X: pt.X, Y: pt.Y / initial * 100}
			}
			retArgs = append(retArgs, ch, ret)
		}
		if len(capArgs) > 0 {
			if err := plotutil.AddLinePoints(capacity, capArgs...); err != nil {
				return false, err
			}
			if err := plotutil.AddLinePoints(retention, retArgs...); err != nil {
				return false, err
			}
		}
	}

	return true, writeTiled(path, [][]*plot.Plot{{capacity}, {retention}}, 14*vg.Inch, 10*vg.Inch)
}

// newPlot builds a titled plot, prefixing the battery descriptor when one
// was parsed.
func (v *Visualizer) newPlot(title string) *plot.Plot {
	p := plot.New()
	if !v.info.Empty() {
		title = fmt.Sprintf("%s %s %dmAh - %s",
			v.info.Manufacturer, v.info.Model, v.info.CapacityMAh, title)
	}
	p.Title.Text = title
	p.Add(plotter.NewGrid())
	return p
}

// firstColumn returns the first candidate present in the data.
func (v *Visualizer) firstColumn(candidates []string) string {
	for _, c := range candidates {
		if v.data.HasColumn(c) {
			return c
		}
	}
	return ""
}

// seriesXY extracts (x, y) pairs for two columns, dropping rows where
// either value is missing or non-numeric.
func (v *Visualizer) seriesXY(xCol, yCol string) plotter.XYs {
	var pts plotter.XYs
	for i := 0; i < v.data.NumRows(); i++ {
		x, okX := v.data.Float(i, xCol)
		y, okY := v.data.Float(i, yCol)
		if okX && okY {
			pts = append(pts, plotter.XY{X: x, Y: y})
		}
	}
	return pts
}

// groupMax returns the per-cycle maximum of valCol, optionally restricted
// to one channel.
func (v *Visualizer) groupMax(cycleCol, valCol, channel string) map[float64]float64 {
	out := make(map[float64]float64)
	for i := 0; i < v.data.NumRows(); i++ {
		if channel != "" && v.data.Text(i, loader.ChannelColumn) != channel {
			continue
		}
		cycle, okC := v.data.Float(i, cycleCol)
		val, okV := v.data.Float(i, valCol)
		if !okC || !okV {
			continue
		}
		if cur, ok := out[cycle]; !ok || val > cur {
			out[cycle] = val
		}
	}
	return out
}

func (v *Visualizer) groupMaxXY(cycleCol, valCol, channel string) plotter.XYs {
	return toSortedXY(v.groupMax(cycleCol, valCol, channel))
}

// groupMeanXY returns the per-cycle mean of valCol, sorted by cycle.
func (v *Visualizer) groupMeanXY(cycleCol, valCol string) plotter.XYs {
	sums := make(map[float64]float64)
	counts := make(map[float64]int)
	for i := 0; i < v.data.NumRows(); i++ {
		cycle, okC := v.data.Float(i, cycleCol)
		val, okV := v.data.Float(i, valCol)
		if !okC || !okV {
			continue
		}
		sums[cycle] += val
		counts[cycle]++
	}
	means := make(map[float64]float64, len(sums))
	for cycle, sum := range sums {
		means[cycle] = sum / float64(counts[cycle])
	}
	return toSortedXY(means)
}

// distinctChannels returns channel names in first-appearance order.
func (v *Visualizer) distinctChannels() []string {
	seen := make(map[string]bool)
	var out []string
	for i := 0; i < v.data.NumRows(); i++ {
		ch := v.data.Text(i, loader.ChannelColumn)
		if ch != "" && !seen[ch] {
			seen[ch] = true
			out = append(out, ch)
		}
	}
	return out
}

func intersect(want, available []string) []string {
	ok := make(map[string]bool, len(available))
	for _, a := range available {
		ok[a] = true
	}
	var out []string
	for _, w := range want {
		if ok[w] {
			out = append(out, w)
		}
	}
	return out
}

func toSortedXY(m map[float64]float64) plotter.XYs {
	pts := make(plotter.XYs, 0, len(m))
	for x, y := range m {
		pts = append(pts, plotter.XY{X: x, Y: y})
	}
	sortXY(pts)
	return pts
}

func sortXY(pts plotter.XYs) {
	sort.Slice(pts, func(i, j int) bool { return pts[i].X < pts[j].X })
}

// writeTiled aligns a grid of plots onto one PNG canvas.
func writeTiled(path string, grid [][]*plot.Plot, w, h vg.Length) error {
	img := vgimg.New(w, h)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: len(grid),
		Cols: len(grid[0]),
		PadX: vg.Millimeter * 5,
		PadY: vg.Millimeter * 5,
	}
	canvases := plot.Align(grid, tiles, dc)
	for r := range grid {
		for c := range grid[r] {
			if grid[r][c] != nil {
				grid[r][c].Draw(canvases[r][c])
			}
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
