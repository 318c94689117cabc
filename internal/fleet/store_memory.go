package fleet

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

type MemoryStore struct {
	mu       sync.RWMutex
	devices  []Device
	firmware []Firmware
	alerts   []Alert
}

func NewMemoryStore(seed Seed) *MemoryStore {
	return &MemoryStore{
		devices:  slices.Clone(seed.Devices),
		firmware: slices.Clone(seed.Firmware),
		alerts:   slices.Clone(seed.Alerts),
	}
}

func (s *MemoryStore) ListDevices(ctx context.Context) ([]Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.devices), nil
}

func (s *MemoryStore) GetDevice(ctx context.Context, id string) (Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.deviceIndex(id)
	if i < 0 {
		return Device{}, ErrDeviceNotFound
	}
	return s.devices[i], nil
}

func (s *MemoryStore) UpdateDevice(ctx context.Context, id string, fn func(*Device) error) (Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.deviceIndex(id)
	if i < 0 {
		return Device{}, ErrDeviceNotFound
	}

	updated := s.devices[i]
	if err := fn(&updated); err != nil {
		return Device{}, err
	}
	updated.ID = id

	next := slices.Clone(s.devices)
	next[i] = updated
	s.devices = next
	return updated, nil
}

func (s *MemoryStore) ListFirmware(ctx context.Context) ([]Firmware, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.firmware), nil
}

func (s *MemoryStore) GetFirmware(ctx context.Context, id string) (Firmware, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, fw := range s.firmware {
		if fw.ID == id {
			return fw, nil
		}
	}
	return Firmware{}, ErrFirmwareNotFound
}

func (s *MemoryStore) AddFirmware(ctx context.Context, fw Firmware) error {
	if err := ValidateFirmware(fw); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.firmware {
		if existing.ID == fw.ID {
			return fmt.Errorf("%w: duplicate id %s", ErrInvalidFirmware, fw.ID)
		}
	}

	next := make([]Firmware, 0, len(s.firmware)+1)
	next = append(next, fw)
	next = append(next, s.firmware...)
	s.firmware = next
	return nil
}

func (s *MemoryStore) ListAlerts(ctx context.Context) ([]Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.alerts), nil
}

func (s *MemoryStore) AcknowledgeAlert(ctx context.Context, id string) (Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, a := range s.alerts {
		if a.ID != id {
			continue
		}
		if a.Acknowledged {
			return a, nil
		}
		a.Acknowledged = true
		next := slices.Clone(s.alerts)
		next[i] = a
		s.alerts = next
		return a, nil
	}
	return Alert{}, ErrAlertNotFound
}

func (s *MemoryStore) deviceIndex(id string) int {
	return slices.IndexFunc(s.devices, func(d Device) bool { return d.ID == id })
}
