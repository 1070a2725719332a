package uitree

import (
	"fmt"
	"strings"
)

// ElementType is the semantic role inferred from class name and flags.
type ElementType int

const (
	TypeUnknown ElementType = iota
	TypeButton
	TypeText
	TypeInput
	TypeImage
	TypeList
	TypeScroll
)

func (t ElementType) String() string {
	switch t {
	case TypeUnknown:
		return "unknown"
	case TypeButton:
		return "button"
	case TypeText:
		return "text"
	case TypeInput:
		return "input"
	case TypeImage:
		return "image"
	case TypeList:
		return "list"
	case TypeScroll:
		return "scroll"
	}
	return fmt.Sprintf("ElementType(%d)", int(t))
}

// Element is one node of a snapshot. Elements are values and never change after parsing.
type Element struct {
	Index       int // document order within the snapshot
	Bounds      Rect
	Text        string
	ResourceID  string
	ClassName   string
	Package     string
	ContentDesc string
	Clickable   bool
	Scrollable  bool
	// InClickable is set when an ancestor is clickable, so tapping this node activates it.
	InClickable bool
	Type        ElementType
}

// Actionable reports whether tapping the element's center would trigger a control.
func (e Element) Actionable() bool {
	return e.Clickable || e.InClickable || e.Type == TypeButton
}

// Label is the visible text, falling back to the content description.
func (e Element) Label() string {
	if t := strings.TrimSpace(e.Text); t != "" {
		return t
	}
	return strings.TrimSpace(e.ContentDesc)
}

func (e Element) Center() (int, int) { return e.Bounds.Center() }

func inferType(className, text string, clickable, scrollable bool) ElementType {
	cls := strings.ToLower(className)
	switch {
	case strings.Contains(cls, "edittext") || strings.Contains(cls, "input"):
		return TypeInput
	case strings.Contains(cls, "button"):
		return TypeButton
	case strings.Contains(cls, "list") || strings.Contains(cls, "recycler"):
		return TypeList
	case strings.Contains(cls, "scroll"):
		return TypeScroll
	case scrollable:
		return TypeList
	case clickable:
		return TypeButton
	case strings.Contains(cls, "image"):
		return TypeImage
	case strings.Contains(cls, "text") && text != "":
		return TypeText
	}
	return TypeUnknown
}
