package types

import "time"

// DeviceStats holds per-device counters for one batch.
// Processed counts dispatched items; Unprocessed counts items left Pending
// because the device became unavailable or the batch was stopped.
type DeviceStats struct {
	DeviceID    string `json:"deviceId"`
	Processed   int    `json:"processed"`
	Success     int    `json:"success"`
	AlreadyDone int    `json:"alreadyDone"`
	Failed      int    `json:"failed"`
	Skipped     int    `json:"skipped"`
	Error       int    `json:"error"`
	Unprocessed int    `json:"unprocessed"`
}

// Record counts one dispatched item with its final status.
func (s *DeviceStats) Record(status ItemStatus) {
	s.Processed++
	switch status {
	case ItemSuccess:
		s.Success++
	case ItemAlreadyDone:
		s.AlreadyDone++
	case ItemFailed:
		s.Failed++
	case ItemSkipped:
		s.Skipped++
	case ItemError, ItemPending:
		// a dispatched item never stays pending; treat it as an error
		s.Error++
	}
}

// Add accumulates o into s.
func (s *DeviceStats) Add(o DeviceStats) {
	s.Processed += o.Processed
	s.Success += o.Success
	s.AlreadyDone += o.AlreadyDone
	s.Failed += o.Failed
	s.Skipped += o.Skipped
	s.Error += o.Error
	s.Unprocessed += o.Unprocessed
}

// SuccessRate is (Success+AlreadyDone)/Processed, or 0 when nothing was processed.
func (s DeviceStats) SuccessRate() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Success+s.AlreadyDone) / float64(s.Processed)
}

// ExecutionStats is the result of one batch
type ExecutionStats struct {
	BatchID     string        `json:"batchId"`
	StartedAt   time.Time     `json:"startedAt"`
	FinishedAt  time.Time     `json:"finishedAt"`
	Stopped     bool          `json:"stopped"`
	Devices     []DeviceStats `json:"devices"`
	Totals      DeviceStats   `json:"totals"`
	SuccessRate float64       `json:"successRate"`
}
