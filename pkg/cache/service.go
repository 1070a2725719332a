// Package cache keeps small pieces of state across restarts: the devices the farm
// has seen and a few operator settings.
package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"flowfarm/pkg/logger"
	"flowfarm/pkg/types"
)

// Settings represents persistent application settings
type Settings struct {
	LastBatchID string `json:"lastBatchId"`
	LastImport  string `json:"lastImport"`
}

// Service manages the device history and settings files.
type Service struct {
	dir          string
	devicesPath  string
	settingsPath string

	devices   map[string]types.Device
	devicesMu sync.RWMutex

	settings   Settings
	settingsMu sync.RWMutex
}

// New loads (or starts) the state kept under dir.
func New(dir string) (*Service, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	s := &Service{
		dir:          dir,
		devicesPath:  filepath.Join(dir, "devices.json"),
		settingsPath: filepath.Join(dir, "settings.json"),
		devices:      make(map[string]types.Device),
	}
	s.loadDevices()
	s.loadSettings()
	return s, nil
}

// ========================================
// Device history
// ========================================

// Remember records devices as last seen. Devices not in the list are kept.
func (s *Service) Remember(devices []types.Device) {
	s.devicesMu.Lock()
	defer s.devicesMu.Unlock()
	for _, d := range devices {
		s.devices[d.ID] = d.Clone()
	}
}

// Devices returns the history ordered by id.
func (s *Service) Devices() []types.Device {
	s.devicesMu.RLock()
	out := make([]types.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d.Clone())
	}
	s.devicesMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Service) Forget(id string) {
	s.devicesMu.Lock()
	delete(s.devices, id)
	s.devicesMu.Unlock()
}

func (s *Service) SaveDevices() error {
	data, err := json.MarshalIndent(s.Devices(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.devicesPath, data, 0644); err != nil {
		logger.Error("cache").Str("path", s.devicesPath).Err(err).Msg("saving device history failed")
		return err
	}
	return nil
}

func (s *Service) loadDevices() {
	data, err := os.ReadFile(s.devicesPath)
	if err != nil {
		return
	}
	var list []types.Device
	if err := json.Unmarshal(data, &list); err != nil {
		logger.Warn("cache").Str("path", s.devicesPath).Err(err).Msg("ignoring unreadable device history")
		return
	}
	s.devicesMu.Lock()
	for _, d := range list {
		s.devices[d.ID] = d
	}
	s.devicesMu.Unlock()
}

// ========================================
// Settings
// ========================================

func (s *Service) Settings() Settings {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.settings
}

func (s *Service) UpdateSettings(fn func(*Settings)) {
	s.settingsMu.Lock()
	fn(&s.settings)
	s.settingsMu.Unlock()
}

func (s *Service) SaveSettings() error {
	data, err := json.Marshal(s.Settings())
	if err != nil {
		return err
	}
	return os.WriteFile(s.settingsPath, data, 0644)
}

func (s *Service) loadSettings() {
	data, err := os.ReadFile(s.settingsPath)
	if err != nil {
		return
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return
	}
	s.settingsMu.Lock()
	s.settings = settings
	s.settingsMu.Unlock()
}

func (s *Service) Dir() string { return s.dir }

// Close saves everything before shutdown
func (s *Service) Close() error {
	if err := s.SaveDevices(); err != nil {
		return err
	}
	return s.SaveSettings()
}
