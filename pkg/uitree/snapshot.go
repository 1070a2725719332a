// Package uitree parses uiautomator hierarchy dumps into flat snapshots and
// answers element and page questions against them.
package uitree

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"flowfarm/pkg/logger"
)

type xmlNode struct {
	Text        string    `xml:"text,attr"`
	ResourceID  string    `xml:"resource-id,attr"`
	Class       string    `xml:"class,attr"`
	Package     string    `xml:"package,attr"`
	ContentDesc string    `xml:"content-desc,attr"`
	Clickable   string    `xml:"clickable,attr"`
	Scrollable  string    `xml:"scrollable,attr"`
	Bounds      string    `xml:"bounds,attr"`
	Nodes       []xmlNode `xml:"node"`
}

type xmlHierarchy struct {
	XMLName xml.Name  `xml:"hierarchy"`
	Nodes   []xmlNode `xml:"node"`
}

// ParseError describes a dump that could not be read as a hierarchy.
type ParseError struct {
	Size int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse UI dump (%d bytes): %v", e.Size, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Snapshot is the flattened element list of one dump.
type Snapshot struct {
	Elements   []Element
	CapturedAt time.Time
	// Skipped counts nodes dropped for malformed bounds.
	Skipped int
}

func (s *Snapshot) Len() int { return len(s.Elements) }

// Parse converts a dump into a snapshot. It never returns a nil snapshot:
// on a document-level failure the snapshot is empty and a *ParseError is returned.
func Parse(data []byte) (*Snapshot, error) {
	snap := &Snapshot{CapturedAt: time.Now()}

	content := string(data)
	start := strings.Index(content, "<?xml")
	if start == -1 {
		start = strings.Index(content, "<hierarchy")
	}
	if start == -1 {
		err := &ParseError{Size: len(data), Err: fmt.Errorf("no hierarchy element")}
		logger.Error("uitree").Err(err).Msg("UI dump rejected")
		return snap, err
	}
	content = content[start:]
	if end := strings.LastIndex(content, ">"); end != -1 {
		content = content[:end+1]
	}

	var root xmlHierarchy
	if err := xml.Unmarshal([]byte(fixEntities(content)), &root); err != nil {
		perr := &ParseError{Size: len(data), Err: err}
		logger.Error("uitree").Err(perr).Msg("UI dump rejected")
		return snap, perr
	}

	for i := range root.Nodes {
		snap.walk(&root.Nodes[i], false)
	}
	if snap.Skipped > 0 {
		logger.Debug("uitree").Int("skipped", snap.Skipped).Msg("nodes with malformed bounds omitted")
	}
	return snap, nil
}

// walk appends n and its descendants in depth-first document order.
func (s *Snapshot) walk(n *xmlNode, inClickable bool) {
	clickable := n.Clickable == "true"
	scrollable := n.Scrollable == "true"

	if r, err := ParseBounds(n.Bounds); err != nil {
		s.Skipped++
	} else {
		s.Elements = append(s.Elements, Element{
			Index:       len(s.Elements),
			Bounds:      r,
			Text:        n.Text,
			ResourceID:  n.ResourceID,
			ClassName:   n.Class,
			Package:     n.Package,
			ContentDesc: n.ContentDesc,
			Clickable:   clickable,
			Scrollable:  scrollable,
			InClickable: inClickable,
			Type:        inferType(n.Class, n.Text, clickable, scrollable),
		})
	}

	for i := range n.Nodes {
		s.walk(&n.Nodes[i], inClickable || clickable)
	}
}

// fixEntities escapes bare ampersands that some ROMs leave in attribute values.
// Go's regexp has no lookahead, so this is a replacement chain.
func fixEntities(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "&amp;amp;", "&amp;")
	s = strings.ReplaceAll(s, "&amp;lt;", "&lt;")
	s = strings.ReplaceAll(s, "&amp;gt;", "&gt;")
	s = strings.ReplaceAll(s, "&amp;quot;", "&quot;")
	s = strings.ReplaceAll(s, "&amp;apos;", "&apos;")
	s = strings.ReplaceAll(s, "&amp;#", "&#")
	return s
}

// ElementSummary counts snapshot elements by role.
type ElementSummary struct {
	Total      int            `json:"total"`
	Clickable  int            `json:"clickable"`
	Scrollable int            `json:"scrollable"`
	WithText   int            `json:"withText"`
	ByType     map[string]int `json:"byType"`
}

func (s *Snapshot) Summary() ElementSummary {
	sum := ElementSummary{Total: len(s.Elements), ByType: make(map[string]int)}
	for _, e := range s.Elements {
		if e.Clickable {
			sum.Clickable++
		}
		if e.Scrollable {
			sum.Scrollable++
		}
		if e.Label() != "" {
			sum.WithText++
		}
		sum.ByType[e.Type.String()]++
	}
	return sum
}
