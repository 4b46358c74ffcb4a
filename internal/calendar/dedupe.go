package calendar

// Dedupe collapses recurring series for list views: each series keeps a
// single representative, preferring the original over generated instances,
// while non-recurring events pass through unchanged. Order follows the first
// appearance of each series.
func Dedupe(items []Instance) []Instance {
	out := make([]Instance, 0, len(items))
	series := make(map[int64]int)
	for _, item := range items {
		if !item.Recurring && !item.Generated {
			out = append(out, item)
			continue
		}
		idx, seen := series[item.OriginID]
		if !seen {
			series[item.OriginID] = len(out)
			out = append(out, item)
			continue
		}
		if out[idx].Generated && !item.Generated {
			out[idx] = item
		}
	}
	return out
}
