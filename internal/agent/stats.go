package agent

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"
)

// numbers reads a numeric series from params[key]. Strings that parse as
// numbers are accepted.
func numbers(params map[string]any, keys ...string) stats.Float64Data {
	for _, k := range keys {
		if raw, ok := params[k]; ok {
			if data := stats.LoadRawData(raw); len(data) > 0 {
				return data
			}
		}
	}
	return nil
}

func basicStats(data stats.Float64Data) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("basic_stats needs numeric data")
	}
	mean, _ := data.Mean()
	median, _ := data.Median()
	sd, _ := data.StandardDeviationPopulation()
	lo, _ := data.Min()
	hi, _ := data.Max()
	return fmt.Sprintf("Basic statistics: count %d, mean %.2f, median %.2f, std dev %.2f, min %.2f, max %.2f",
		len(data), mean, median, sd, lo, hi), nil
}

func correlation(x, y stats.Float64Data) (string, error) {
	if len(x) < 2 || len(x) != len(y) {
		return "", fmt.Errorf("correlation needs two series of equal length (got %d and %d)", len(x), len(y))
	}
	r, err := stats.Correlation(x, y)
	if err != nil {
		return "", fmt.Errorf("correlation: %w", err)
	}
	if math.IsNaN(r) {
		return "", fmt.Errorf("correlation undefined for constant series")
	}
	return fmt.Sprintf("Correlation: %.2f (%s)", r, strength(r)), nil
}

func strength(r float64) string {
	dir := "positive"
	if r < 0 {
		dir = "negative"
	}
	switch a := math.Abs(r); {
	case a >= 0.7:
		return "strong " + dir
	case a >= 0.4:
		return "moderate " + dir
	case a >= 0.1:
		return "weak " + dir
	}
	return "no meaningful correlation"
}

// trend fits a least-squares line over index positions.
func trend(data stats.Float64Data) (string, error) {
	if len(data) < 2 {
		return "", fmt.Errorf("trend needs at least two points")
	}
	series := make(stats.Series, len(data))
	for i, v := range data {
		series[i] = stats.Coordinate{X: float64(i), Y: v}
	}
	fit, err := stats.LinearRegression(series)
	if err != nil {
		return "", fmt.Errorf("trend: %w", err)
	}
	slope := fit[1].Y - fit[0].Y
	dir := "flat"
	switch {
	case slope > 0:
		dir = "upward"
	case slope < 0:
		dir = "downward"
	}
	return fmt.Sprintf("Trend: %s, slope %.3f per period over %d periods", dir, slope, len(data)), nil
}

func growthRate(data stats.Float64Data) (string, error) {
	if len(data) < 2 {
		return "", fmt.Errorf("growth_rate needs at least two points")
	}
	first, last := data[0], data[len(data)-1]
	if first == 0 {
		return "", fmt.Errorf("growth_rate undefined from a zero starting value")
	}
	total := (last - first) / math.Abs(first) * 100
	out := fmt.Sprintf("Growth: %.1f%% from %.2f to %.2f", total, first, last)
	if first > 0 && last > 0 && len(data) > 2 {
		periodic := (math.Pow(last/first, 1/float64(len(data)-1)) - 1) * 100
		out += fmt.Sprintf(" (%.1f%% per period compounded)", periodic)
	}
	return out, nil
}

// anomalies flags points more than two standard deviations from the mean.
func anomalies(data stats.Float64Data) (string, error) {
	if len(data) < 3 {
		return "", fmt.Errorf("anomaly detection needs at least three points")
	}
	mean, _ := data.Mean()
	sd, _ := data.StandardDeviationPopulation()
	if sd == 0 {
		return "Detected 0 anomalies: all values are identical", nil
	}
	var found []string
	for i, v := range data {
		if z := (v - mean) / sd; math.Abs(z) > 2 {
			found = append(found, fmt.Sprintf("index %d value %.2f (z=%.2f)", i, v, z))
		}
	}
	if len(found) == 0 {
		return fmt.Sprintf("Detected 0 anomalies across %d values (mean %.2f, std dev %.2f)", len(data), mean, sd), nil
	}
	return fmt.Sprintf("Detected %d anomalies: %s", len(found), strings.Join(found, "; ")), nil
}

// aggregate sums each group and reports its share of the total.
func aggregate(groups map[string]any) (string, error) {
	if len(groups) == 0 {
		return "", fmt.Errorf("aggregate needs groups")
	}
	type share struct {
		name string
		sum  float64
	}
	var shares []share
	total := 0.0
	for name, raw := range groups {
		sum, err := stats.LoadRawData(raw).Sum()
		if err != nil {
			sum = 0
		}
		if f, ok := raw.(float64); ok {
			sum = f
		}
		shares = append(shares, share{name, sum})
		total += sum
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].sum != shares[j].sum {
			return shares[i].sum > shares[j].sum
		}
		return shares[i].name < shares[j].name
	})
	parts := make([]string, len(shares))
	for i, s := range shares {
		pct := 0.0
		if total != 0 {
			pct = s.sum / total * 100
		}
		parts[i] = fmt.Sprintf("%s: %.2f (%.0f%%)", s.name, s.sum, pct)
	}
	return "Aggregated: " + strings.Join(parts, ", "), nil
}
