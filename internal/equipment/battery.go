package equipment

import (
	"regexp"
	"strconv"
	"strings"
)

// BatteryInfo is the descriptor parsed from a data directory name such as
// "LGES_G3_MP1_4352mAh_상온수명". Every field is optional; zero values mean
// the token was absent.
type BatteryInfo struct {
	Manufacturer  string
	Model         string
	CapacityMAh   int
	TestCondition string
	FullName      string
}

var (
	capacityToken = regexp.MustCompile(`(?i)(\d+)mAh`)
	// The trailing-token check is deliberately case sensitive: a directory
	// ending in "4352mAh" has no test condition, one ending in "4352MAH"
	// keeps it as a condition token.
	conditionExclude = regexp.MustCompile(`\d+mAh`)
)

// ParseBatteryInfo tokenizes the base name of dataPath on underscores:
// first token is the manufacturer, following tokens up to the capacity
// token form the model, the last token is the test condition unless it is
// itself a capacity.
func ParseBatteryInfo(dataPath string) BatteryInfo {
	base := pathBase(dataPath)
	info := BatteryInfo{FullName: base}

	if m := capacityToken.FindStringSubmatch(base); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			info.CapacityMAh = n
		}
	}

	parts := strings.Split(base, "_")
	if len(parts) >= 2 {
		info.Manufacturer = parts[0]
		var model []string
		for _, p := range parts[1:] {
			if strings.Contains(p, "mAh") {
				break
			}
			model = append(model, p)
		}
		info.Model = strings.Join(model, "_")
	}
	if len(parts) > 0 {
		last := parts[len(parts)-1]
		if !conditionExclude.MatchString(last) {
			info.TestCondition = last
		}
	}
	return info
}

// RatedCapacity returns the declared capacity in mAh, or fallback when the
// descriptor carries none.
func (b BatteryInfo) RatedCapacity(fallback float64) float64 {
	if b.CapacityMAh > 0 {
		return float64(b.CapacityMAh)
	}
	return fallback
}

// Empty reports whether no descriptor field was recognized.
func (b BatteryInfo) Empty() bool {
	return b.Manufacturer == "" && b.Model == "" && b.CapacityMAh == 0 && b.TestCondition == ""
}

// pathBase is filepath.Base that also understands Windows separators, since
// the cycler folders routinely arrive on copied Windows volumes.
func pathBase(p string) string {
	p = strings.TrimRight(p, "/\\")
	if i := strings.LastIndexAny(p, "/\\"); i >= 0 {
		return p[i+1:]
	}
	return p
}
