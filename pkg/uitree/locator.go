package uitree

import "strings"

// DefaultDedupEpsilon is the pixel distance under which two button centers are one control.
const DefaultDedupEpsilon = 10

func matchesAny(e Element, candidates []string, exact bool) bool {
	text := strings.TrimSpace(e.Text)
	desc := strings.TrimSpace(e.ContentDesc)
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if exact {
			if text == c || desc == c {
				return true
			}
			continue
		}
		if strings.Contains(text, c) || strings.Contains(desc, c) {
			return true
		}
	}
	return false
}

func (s *Snapshot) filter(keep func(Element) bool) []Element {
	var out []Element
	for _, e := range s.Elements {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// FindByText returns elements whose text or content description equals (exact)
// or contains any candidate, in document order.
func (s *Snapshot) FindByText(candidates []string, exact bool) []Element {
	return s.filter(func(e Element) bool { return matchesAny(e, candidates, exact) })
}

// FindByResourceID matches the full id or its "<pkg>:id/<name>" suffix.
func (s *Snapshot) FindByResourceID(id string) []Element {
	if id == "" {
		return nil
	}
	return s.filter(func(e Element) bool {
		return e.ResourceID == id || strings.HasSuffix(e.ResourceID, ":id/"+id)
	})
}

// FindByClassName matches the fully qualified class or its simple name.
func (s *Snapshot) FindByClassName(class string) []Element {
	if class == "" {
		return nil
	}
	return s.filter(func(e Element) bool {
		return e.ClassName == class || strings.HasSuffix(e.ClassName, "."+class)
	})
}

// FindClickable returns clickable elements with a non-empty area.
func (s *Snapshot) FindClickable() []Element {
	return s.filter(func(e Element) bool { return e.Clickable && e.Bounds.Area() > 0 })
}

// ContainsText reports whether any element text or description contains needle.
func (s *Snapshot) ContainsText(needle string) bool {
	if needle == "" {
		return false
	}
	for _, e := range s.Elements {
		if strings.Contains(e.Text, needle) || strings.Contains(e.ContentDesc, needle) {
			return true
		}
	}
	return false
}

// FindActionableButtons returns actionable elements whose label exactly equals a keyword.
// Candidates whose centers are closer than epsilon on both axes to an earlier match
// are the same control (a label and its clickable container, say) and are dropped.
// A non-positive epsilon uses DefaultDedupEpsilon.
func (s *Snapshot) FindActionableButtons(keywords []string, epsilon int) []Element {
	if epsilon <= 0 {
		epsilon = DefaultDedupEpsilon
	}
	var out []Element
	for _, e := range s.Elements {
		if !e.Actionable() || e.Bounds.Area() <= 0 || !matchesAny(e, keywords, true) {
			continue
		}
		cx, cy := e.Center()
		dup := false
		for _, k := range out {
			kx, ky := k.Center()
			if abs(cx-kx) < epsilon && abs(cy-ky) < epsilon {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, e)
		}
	}
	return out
}

// Nearest returns the element of candidates whose center is closest to (x, y) and
// within maxDist on both axes.
func Nearest(candidates []Element, x, y, maxDist int) (Element, bool) {
	best := -1
	bestDist := 0
	for i, e := range candidates {
		cx, cy := e.Center()
		dx, dy := abs(cx-x), abs(cy-y)
		if dx > maxDist || dy > maxDist {
			continue
		}
		if d := dx + dy; best == -1 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best == -1 {
		return Element{}, false
	}
	return candidates[best], true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
