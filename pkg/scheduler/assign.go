// Package scheduler partitions pending work across devices and runs one worker per device.
package scheduler

import (
	"sort"

	"flowfarm/pkg/types"
)

// Assign deals the pending items round-robin over devices in import order, then
// orders each device's list by (priority, retry count, import order). Non-pending
// items are left out. The result depends only on its inputs.
func Assign(items []types.WorkItem, devices []string) types.AssignmentPlan {
	plan := types.AssignmentPlan{Items: make(map[string][]string)}

	seen := make(map[string]bool, len(devices))
	for _, d := range devices {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		plan.Devices = append(plan.Devices, d)
		plan.Items[d] = []string{}
	}
	if len(plan.Devices) == 0 {
		return plan
	}

	var pending []types.WorkItem
	for _, it := range items {
		if it.Status == types.ItemPending {
			pending = append(pending, it)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].Seq < pending[j].Seq })

	lists := make(map[string][]types.WorkItem, len(plan.Devices))
	for i, it := range pending {
		d := plan.Devices[i%len(plan.Devices)]
		lists[d] = append(lists[d], it)
	}
	for d, list := range lists {
		sort.SliceStable(list, func(i, j int) bool {
			a, b := list[i], list[j]
			if a.Priority != b.Priority {
				return a.Priority < b.Priority
			}
			if a.RetryCount != b.RetryCount {
				return a.RetryCount < b.RetryCount
			}
			return a.Seq < b.Seq
		})
		for _, it := range list {
			plan.Items[d] = append(plan.Items[d], it.ID)
		}
	}
	return plan
}
