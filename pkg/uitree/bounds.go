package uitree

import (
	"fmt"
	"regexp"
	"strconv"
)

// Rect is an on-screen pixel rectangle.
type Rect struct {
	Left, Top, Right, Bottom int
}

var boundsPattern = regexp.MustCompile(`^\s*\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]\s*$`)

// ParseBounds parses the uiautomator "[x1,y1][x2,y2]" form.
func ParseBounds(s string) (Rect, error) {
	m := boundsPattern.FindStringSubmatch(s)
	if len(m) != 5 {
		return Rect{}, fmt.Errorf("invalid bounds format: %q", s)
	}
	var v [4]int
	for i := 0; i < 4; i++ {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Rect{}, fmt.Errorf("invalid bounds value %q: %w", m[i+1], err)
		}
		v[i] = n
	}
	r := Rect{Left: v[0], Top: v[1], Right: v[2], Bottom: v[3]}
	if r.Right < r.Left || r.Bottom < r.Top {
		return Rect{}, fmt.Errorf("inverted bounds: %q", s)
	}
	return r, nil
}

func (r Rect) Width() int  { return r.Right - r.Left }
func (r Rect) Height() int { return r.Bottom - r.Top }
func (r Rect) Area() int   { return r.Width() * r.Height() }

// Center returns the tap point of the rectangle.
func (r Rect) Center() (int, int) {
	return r.Left + r.Width()/2, r.Top + r.Height()/2
}

// Contains checks if point (x, y) is inside the rectangle
func (r Rect) Contains(x, y int) bool {
	return x >= r.Left && x <= r.Right && y >= r.Top && y <= r.Bottom
}

func (r Rect) String() string {
	return fmt.Sprintf("[%d,%d][%d,%d]", r.Left, r.Top, r.Right, r.Bottom)
}
