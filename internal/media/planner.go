package media

import "sort"

// Plan returns every ladder rung that fits inside the source, smallest first.
// Sources are never upscaled; an empty result is a NoEligibleRenditionError.
func Plan(sourceWidth, sourceHeight int, ladder Ladder) ([]Rendition, error) {
	var out []Rendition
	for _, r := range ladder {
		if r.Width <= sourceWidth && r.Height <= sourceHeight {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, &NoEligibleRenditionError{Width: sourceWidth, Height: sourceHeight}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Height != out[j].Height {
			return out[i].Height < out[j].Height
		}
		return out[i].Width < out[j].Width
	})
	return out, nil
}
