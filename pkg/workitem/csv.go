package workitem

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"flowfarm/pkg/types"
)

var csvAliases = map[string]string{
	"user_id":     "userid",
	"profile_url": "profileurl",
}

// ParseCSV reads a header row (platform, username, userId, plus optional id,
// category, priority, notes, tags, profileUrl) followed by one item per row.
func ParseCSV(r io.Reader) ([]types.WorkItem, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var ps problems
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		ps.add(-1, "", "empty document")
		return nil, ps.err()
	}
	if err != nil {
		ps.add(-1, "", "read header: %v", err)
		return nil, ps.err()
	}

	cols := make(map[string]int)
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if alias, ok := csvAliases[h]; ok {
			h = alias
		}
		cols[h] = i
	}
	for _, req := range []string{"platform", "username", "userid"} {
		if _, ok := cols[req]; !ok {
			ps.add(-1, req, "missing column")
		}
	}
	if err := ps.err(); err != nil {
		return nil, err
	}

	var items []types.WorkItem
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		i := len(items)
		if err != nil {
			ps.add(i, "", "%v", err)
			return nil, ps.err()
		}
		get := func(col string) string {
			if idx, ok := cols[col]; ok && idx < len(rec) {
				return strings.TrimSpace(rec[idx])
			}
			return ""
		}

		it := types.WorkItem{
			Seq:        i,
			ID:         get("id"),
			Platform:   get("platform"),
			Username:   get("username"),
			UserID:     get("userid"),
			ProfileURL: get("profileurl"),
			Category:   get("category"),
			Notes:      get("notes"),
			Tags:       splitTags(get("tags")),
			Priority:   types.DefaultPriority,
		}
		for _, req := range []struct{ field, value string }{
			{"platform", it.Platform}, {"username", it.Username}, {"userId", it.UserID},
		} {
			if req.value == "" {
				ps.add(i, req.field, "required")
			}
		}
		if p := get("priority"); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil || n < 0 {
				ps.add(i, "priority", "must be a non-negative integer, got %q", p)
			} else {
				it.Priority = n
			}
		}
		items = append(items, it)
	}
	if err := ps.err(); err != nil {
		return nil, err
	}
	assignIDs(items)
	return items, nil
}

// Parse picks the decoder from the file name.
func Parse(name string, data []byte) ([]types.WorkItem, error) {
	var (
		items []types.WorkItem
		err   error
	)
	if strings.HasSuffix(strings.ToLower(name), ".csv") {
		items, err = ParseCSV(strings.NewReader(string(data)))
	} else {
		items, err = ParseJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return items, nil
}
