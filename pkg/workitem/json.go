package workitem

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"flowfarm/pkg/types"
)

// FormatVersion is written into exported documents.
const FormatVersion = "1.0"

// Document is the JSON layout of an export and of a checkpoint file.
type Document struct {
	Metadata Metadata         `json:"metadata"`
	Settings Settings         `json:"settings"`
	Items    []types.WorkItem `json:"items"`
}

type Metadata struct {
	Version     string     `json:"version"`
	CreatedAt   time.Time  `json:"createdAt"`
	Total       int        `json:"total"`
	Description string     `json:"description,omitempty"`
	Statistics  Statistics `json:"statistics"`
}

type Settings struct {
	MaxRetry int `json:"maxRetry"`
}

// ParseJSON validates a JSON document and returns its items in document order.
// Items may be a top-level array or sit under "items" (or the older "contacts").
// Any problem rejects the entire document.
func ParseJSON(data []byte) ([]types.WorkItem, error) {
	var ps problems
	if !gjson.ValidBytes(data) {
		ps.add(-1, "", "malformed JSON")
		return nil, ps.err()
	}

	root := gjson.ParseBytes(data)
	list := root
	if !root.IsArray() {
		list = root.Get("items")
		if !list.Exists() {
			list = root.Get("contacts")
		}
	}
	if !list.IsArray() {
		ps.add(-1, "items", "missing or not an array")
		return nil, ps.err()
	}

	var items []types.WorkItem
	seen := make(map[string]int)
	list.ForEach(func(_, r gjson.Result) bool {
		i := len(items)
		it := itemFromJSON(i, r, &ps)
		if it.ID != "" {
			if prev, dup := seen[it.ID]; dup {
				ps.add(i, "id", "duplicates item %d", prev)
			}
			seen[it.ID] = i
		}
		items = append(items, it)
		return true
	})
	if err := ps.err(); err != nil {
		return nil, err
	}
	assignIDs(items)
	return items, nil
}

func str(r gjson.Result, keys ...string) (string, bool) {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() && v.Type != gjson.Null {
			return strings.TrimSpace(v.String()), true
		}
	}
	return "", false
}

func itemFromJSON(i int, r gjson.Result, ps *problems) types.WorkItem {
	it := types.WorkItem{Seq: i, Priority: types.DefaultPriority}
	if !r.IsObject() {
		ps.add(i, "", "not an object")
		return it
	}

	required := func(field string, keys ...string) string {
		v, _ := str(r, keys...)
		if v == "" {
			ps.add(i, field, "required")
		}
		return v
	}
	it.Platform = required("platform", "platform")
	it.Username = required("username", "username")
	it.UserID = required("userId", "userId", "user_id")

	it.ID, _ = str(r, "id")
	it.ProfileURL, _ = str(r, "profileUrl", "profile_url")
	it.Category, _ = str(r, "category")
	it.Notes, _ = str(r, "notes")
	it.AssignedDevice, _ = str(r, "assignedDevice", "assigned_device")
	it.LastError, _ = str(r, "lastError", "last_error")

	if v := r.Get("priority"); v.Exists() && v.Type != gjson.Null {
		p, err := intValue(v)
		if err != nil || p < 0 {
			ps.add(i, "priority", "must be a non-negative integer, got %s", v.Raw)
		} else {
			it.Priority = p
		}
	}
	if v := r.Get("retryCount"); v.Exists() {
		n, err := intValue(v)
		if err != nil || n < 0 {
			ps.add(i, "retryCount", "must be a non-negative integer, got %s", v.Raw)
		} else {
			it.RetryCount = n
		}
	} else if v := r.Get("retry_count"); v.Exists() {
		it.RetryCount, _ = intValue(v)
	}

	if v, ok := str(r, "status", "follow_status"); ok {
		st, err := types.ParseItemStatus(v)
		if err != nil {
			ps.add(i, "status", "%v", err)
		}
		it.Status = st
	}

	if v, ok := str(r, "lastAttempt", "last_attempt"); ok && v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			ps.add(i, "lastAttempt", "not an RFC 3339 timestamp")
		} else {
			it.LastAttempt = &t
		}
	}

	switch tags := r.Get("tags"); {
	case tags.IsArray():
		for _, t := range tags.Array() {
			if s := strings.TrimSpace(t.String()); s != "" {
				it.Tags = append(it.Tags, s)
			}
		}
	case tags.Type == gjson.String:
		it.Tags = splitTags(tags.String())
	}
	return it
}

func intValue(v gjson.Result) (int, error) {
	switch v.Type {
	case gjson.Number:
		if v.Num != float64(int(v.Num)) {
			return 0, fmt.Errorf("not an integer")
		}
		return int(v.Num), nil
	case gjson.String:
		return strconv.Atoi(strings.TrimSpace(v.Str))
	}
	return 0, fmt.Errorf("not a number")
}

// ExportJSON serialises items with metadata. ParseJSON reads the result back unchanged.
func ExportJSON(items []types.WorkItem, maxRetry int) ([]byte, error) {
	doc := Document{
		Metadata: Metadata{
			Version:    FormatVersion,
			CreatedAt:  time.Now(),
			Total:      len(items),
			Statistics: Summarize(items),
		},
		Settings: Settings{MaxRetry: maxRetry},
		Items:    items,
	}
	if doc.Items == nil {
		doc.Items = []types.WorkItem{}
	}
	return json.MarshalIndent(doc, "", "  ")
}
