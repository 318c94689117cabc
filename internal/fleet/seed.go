package fleet

import (
	_ "embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var defaultSeedYAML []byte

// Seed is the initial content of a store.
type Seed struct {
	Devices  []Device
	Firmware []Firmware
	Alerts   []Alert
}

type seedFile struct {
	Devices []struct {
		ID              string       `yaml:"id"`
		Name            string       `yaml:"name"`
		IP              string       `yaml:"ip"`
		FirmwareVersion string       `yaml:"firmware_version"`
		LastSeenAgo     string       `yaml:"last_seen_ago"`
		Status          DeviceStatus `yaml:"status"`
		BatteryLevel    int          `yaml:"battery_level"`
		CPUUsage        int          `yaml:"cpu_usage"`
		Location        string       `yaml:"location"`
	} `yaml:"devices"`
	Firmware []struct {
		ID            string         `yaml:"id"`
		Version       string         `yaml:"version"`
		ReleaseDate   string         `yaml:"release_date"`
		Size          string         `yaml:"size"`
		IsSigned      bool           `yaml:"is_signed"`
		SignatureType SignatureType  `yaml:"signature_type"`
		Hash          string         `yaml:"hash"`
		Status        FirmwareStatus `yaml:"status"`
		Description   string         `yaml:"description"`
	} `yaml:"firmware"`
	Alerts []struct {
		ID           string   `yaml:"id"`
		Severity     Severity `yaml:"severity"`
		Message      string   `yaml:"message"`
		TimestampAgo string   `yaml:"timestamp_ago"`
		Source       string   `yaml:"source"`
		Acknowledged bool     `yaml:"acknowledged"`
	} `yaml:"alerts"`
}

// DefaultSeed returns the built-in fleet, with relative timestamps
// resolved against now.
func DefaultSeed(now time.Time) (Seed, error) {
	return ParseSeed(defaultSeedYAML, now)
}

func ParseSeed(data []byte, now time.Time) (Seed, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Seed{}, fmt.Errorf("failed to parse seed: %w", err)
	}

	var seed Seed
	for _, d := range file.Devices {
		if !d.Status.Valid() {
			return Seed{}, fmt.Errorf("device %s: unknown status %q", d.ID, d.Status)
		}
		ago, err := parseAgo(d.LastSeenAgo)
		if err != nil {
			return Seed{}, fmt.Errorf("device %s: %w", d.ID, err)
		}
		seed.Devices = append(seed.Devices, Device{
			ID:              d.ID,
			Name:            d.Name,
			IP:              d.IP,
			FirmwareVersion: d.FirmwareVersion,
			LastSeen:        now.Add(-ago),
			Status:          d.Status,
			BatteryLevel:    d.BatteryLevel,
			CPUUsage:        d.CPUUsage,
			Location:        d.Location,
		})
	}

	for _, f := range file.Firmware {
		released, err := time.Parse(time.DateOnly, f.ReleaseDate)
		if err != nil {
			return Seed{}, fmt.Errorf("firmware %s: invalid release date: %w", f.ID, err)
		}
		fw := Firmware{
			ID:            f.ID,
			Version:       f.Version,
			ReleaseDate:   released,
			Size:          f.Size,
			IsSigned:      f.IsSigned,
			SignatureType: f.SignatureType,
			Hash:          f.Hash,
			Status:        f.Status,
			Description:   f.Description,
		}
		if err := ValidateFirmware(fw); err != nil {
			return Seed{}, fmt.Errorf("firmware %s: %w", f.ID, err)
		}
		seed.Firmware = append(seed.Firmware, fw)
	}

	for _, a := range file.Alerts {
		ago, err := parseAgo(a.TimestampAgo)
		if err != nil {
			return Seed{}, fmt.Errorf("alert %s: %w", a.ID, err)
		}
		seed.Alerts = append(seed.Alerts, Alert{
			ID:           a.ID,
			Severity:     a.Severity,
			Message:      a.Message,
			Timestamp:    now.Add(-ago),
			Source:       a.Source,
			Acknowledged: a.Acknowledged,
		})
	}

	return seed, nil
}

func parseAgo(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q: %w", s, err)
	}
	return d, nil
}
