package types

import (
	"fmt"
	"time"
)

// ItemStatus is the outcome state of a work item.
type ItemStatus int

const (
	ItemPending ItemStatus = iota
	ItemSuccess
	ItemAlreadyDone
	ItemFailed
	ItemSkipped
	ItemError
)

func (s ItemStatus) String() string {
	switch s {
	case ItemPending:
		return "pending"
	case ItemSuccess:
		return "success"
	case ItemAlreadyDone:
		return "already_done"
	case ItemFailed:
		return "failed"
	case ItemSkipped:
		return "skipped"
	case ItemError:
		return "error"
	}
	return fmt.Sprintf("ItemStatus(%d)", int(s))
}

// ParseItemStatus accepts the String form plus the legacy "already_followed" label.
func ParseItemStatus(s string) (ItemStatus, error) {
	switch s {
	case "", "pending":
		return ItemPending, nil
	case "success":
		return ItemSuccess, nil
	case "already_done", "already_followed":
		return ItemAlreadyDone, nil
	case "failed":
		return ItemFailed, nil
	case "skipped":
		return ItemSkipped, nil
	case "error":
		return ItemError, nil
	}
	return ItemPending, fmt.Errorf("unknown item status %q", s)
}

func (s ItemStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ItemStatus) UnmarshalText(b []byte) error {
	st, err := ParseItemStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// DefaultPriority is applied to imported items that carry no priority.
const DefaultPriority = 2

// WorkItem is one unit of scheduled automation work
type WorkItem struct {
	ID             string     `json:"id"`
	Platform       string     `json:"platform"`
	Username       string     `json:"username"`
	UserID         string     `json:"userId"`
	ProfileURL     string     `json:"profileUrl,omitempty"`
	Category       string     `json:"category,omitempty"`
	Priority       int        `json:"priority"`
	Notes          string     `json:"notes,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	Status         ItemStatus `json:"status"`
	RetryCount     int        `json:"retryCount"`
	AssignedDevice string     `json:"assignedDevice,omitempty"`
	LastAttempt    *time.Time `json:"lastAttempt,omitempty"`
	LastError      string     `json:"lastError,omitempty"`

	// Seq is the position of the item in its import; used to break scheduling ties.
	Seq int `json:"-"`
}

// Clone returns a deep copy of the item.
func (w WorkItem) Clone() WorkItem {
	if w.Tags != nil {
		w.Tags = append([]string(nil), w.Tags...)
	}
	if w.LastAttempt != nil {
		t := *w.LastAttempt
		w.LastAttempt = &t
	}
	return w
}

// AssignmentPlan maps each device to the ordered item ids it will process.
// Devices lists the participating devices in plan order.
type AssignmentPlan struct {
	Devices []string            `json:"devices"`
	Items   map[string][]string `json:"items"`
}

// Size is the number of items across all devices.
func (p AssignmentPlan) Size() int {
	n := 0
	for _, ids := range p.Items {
		n += len(ids)
	}
	return n
}
