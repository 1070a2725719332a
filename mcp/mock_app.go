package mcp

import (
	"context"
	"errors"
	"sync"
	"time"

	"flowfarm/pkg/scheduler"
	"flowfarm/pkg/types"
)

// MockCall records a method call for verification
type MockCall struct {
	Method string
	Args   []interface{}
}

// MockFarmApp is a mock implementation of FarmApp for testing
type MockFarmApp struct {
	mu    sync.Mutex
	Calls []MockCall

	// Devices
	ScanDevicesResult []Device
	ScanDevicesError  error
	Devices           []Device

	// Work items
	ImportAdded    int
	ImportSkipped  int
	ImportError    error
	ExportResult   []byte
	ExportError    error
	Items          []WorkItem
	ListItemsError error

	// Batches
	Plan             AssignmentPlan
	PlanError        error
	StartError       error
	Running          bool
	Stats            ExecutionStats
	History          []ExecutionStats
	ListBatchesError error
	Progress         *scheduler.Broadcaster

	AppVersion string
}

// NewMockFarmApp creates a new MockFarmApp with sensible defaults
func NewMockFarmApp() *MockFarmApp {
	return &MockFarmApp{
		Calls:      make([]MockCall, 0),
		AppVersion: "1.0.0-test",
		Plan:       AssignmentPlan{Items: map[string][]string{}},
		Progress:   scheduler.NewBroadcaster(),
	}
}

func (m *MockFarmApp) recordCall(method string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Method: method, Args: args})
}

// WasMethodCalled checks if a method was called
func (m *MockFarmApp) WasMethodCalled(method string) bool {
	return m.GetLastCallByMethod(method) != nil
}

// GetLastCallByMethod returns the last call to a specific method
func (m *MockFarmApp) GetLastCallByMethod(method string) *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Calls) - 1; i >= 0; i-- {
		if m.Calls[i].Method == method {
			call := m.Calls[i]
			return &call
		}
	}
	return nil
}

func (m *MockFarmApp) GetAppVersion() string {
	m.recordCall("GetAppVersion")
	return m.AppVersion
}

func (m *MockFarmApp) ScanDevices(ctx context.Context) ([]Device, error) {
	m.recordCall("ScanDevices")
	return m.ScanDevicesResult, m.ScanDevicesError
}

func (m *MockFarmApp) ListDevices() []Device {
	m.recordCall("ListDevices")
	return m.Devices
}

func (m *MockFarmApp) DeviceSummary() DeviceSummary {
	m.recordCall("DeviceSummary")
	sum := DeviceSummary{Total: len(m.Devices)}
	for _, d := range m.Devices {
		switch d.Status {
		case types.DeviceConnected:
			sum.Connected++
		case types.DeviceWorking:
			sum.Working++
		case types.DeviceOffline:
			sum.Offline++
		case types.DeviceError:
			sum.Error++
		default:
			sum.Other++
		}
	}
	return sum
}

func (m *MockFarmApp) ImportItems(name string, data []byte) (int, int, error) {
	m.recordCall("ImportItems", name, string(data))
	return m.ImportAdded, m.ImportSkipped, m.ImportError
}

func (m *MockFarmApp) ExportItems() ([]byte, error) {
	m.recordCall("ExportItems")
	return m.ExportResult, m.ExportError
}

func (m *MockFarmApp) ListItems(status string) ([]WorkItem, error) {
	m.recordCall("ListItems", status)
	if m.ListItemsError != nil {
		return nil, m.ListItemsError
	}
	if status == "" {
		return m.Items, nil
	}
	var out []WorkItem
	for _, it := range m.Items {
		if it.Status.String() == status {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *MockFarmApp) ItemStatistics() Statistics {
	m.recordCall("ItemStatistics")
	return Statistics{Total: len(m.Items)}
}

func (m *MockFarmApp) PlanBatch(platform string) (AssignmentPlan, error) {
	m.recordCall("PlanBatch", platform)
	return m.Plan, m.PlanError
}

func (m *MockFarmApp) StartBatch(platform string) (AssignmentPlan, error) {
	m.recordCall("StartBatch", platform)
	if m.StartError != nil {
		return AssignmentPlan{}, m.StartError
	}
	m.mu.Lock()
	m.Running = m.Plan.Size() > 0
	m.mu.Unlock()
	return m.Plan, nil
}

func (m *MockFarmApp) StopBatch() bool {
	m.recordCall("StopBatch")
	m.mu.Lock()
	defer m.mu.Unlock()
	was := m.Running
	m.Running = false
	return was
}

func (m *MockFarmApp) IsBatchRunning() bool {
	m.recordCall("IsBatchRunning")
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Running
}

func (m *MockFarmApp) GetStats() ExecutionStats {
	m.recordCall("GetStats")
	return m.Stats
}

func (m *MockFarmApp) ListBatches(limit int) ([]ExecutionStats, error) {
	m.recordCall("ListBatches", limit)
	if m.ListBatchesError != nil {
		return nil, m.ListBatchesError
	}
	if len(m.History) > limit {
		return m.History[:limit], nil
	}
	return m.History, nil
}

// ErrMock is returned by mocks configured to fail
var ErrMock = errors.New("mock failure")

// SampleDevice creates a connected device for testing
func SampleDevice(id string) Device {
	d := types.NewDevice(id)
	d.Status = types.DeviceConnected
	d.Model = "Pixel 6"
	d.AndroidVersion = "14"
	d.Battery = 80
	d.Transport = "usb"
	d.LastSeen = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return d
}

// SampleItem creates a work item for testing
func SampleItem(id, username string, status types.ItemStatus) WorkItem {
	return WorkItem{
		ID:       id,
		Platform: "xiaohongshu",
		Username: username,
		UserID:   "uid-" + username,
		Priority: types.DefaultPriority,
		Status:   status,
	}
}

// SampleStats creates finished batch statistics for testing
func SampleStats(batchID string) ExecutionStats {
	totals := types.DeviceStats{Processed: 5, Success: 2, AlreadyDone: 1, Failed: 1, Error: 1}
	return ExecutionStats{
		BatchID:     batchID,
		StartedAt:   time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt:  time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC),
		Devices:     []types.DeviceStats{{DeviceID: "d1", Processed: 5, Success: 2, AlreadyDone: 1, Failed: 1, Error: 1}},
		Totals:      totals,
		SuccessRate: totals.SuccessRate(),
	}
}

func (m *MockFarmApp) SubscribeEvents(buffer int) (<-chan Event, func()) {
	m.recordCall("SubscribeEvents", buffer)
	return m.Progress.Subscribe(buffer)
}
