package pdf

// RenderedPage is a rasterized page encoded as PNG.
type RenderedPage struct {
	Page int    `json:"page"`
	PNG  []byte `json:"-"`
}

// DefaultDPI is used when a caller passes a non-positive resolution.
const DefaultDPI = 150.0

func normalizeDPI(dpi float64) float64 {
	if dpi <= 0 {
		return DefaultDPI
	}
	return dpi
}

func selectPages(pages []int, total int) []int {
	if len(pages) == 0 {
		all := make([]int, total)
		for i := range all {
			all[i] = i + 1
		}
		return all
	}
	out := make([]int, 0, len(pages))
	for _, p := range pages {
		if p >= 1 && p <= total {
			out = append(out, p)
		}
	}
	return out
}
