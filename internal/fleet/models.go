package fleet

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDeviceNotFound   = errors.New("device not found")
	ErrFirmwareNotFound = errors.New("firmware not found")
	ErrAlertNotFound    = errors.New("alert not found")
	ErrUnsignedFirmware = errors.New("unsigned firmware cannot be signed or deployed")
	ErrInvalidFirmware  = errors.New("invalid firmware record")
)

type DeviceStatus string

const (
	DeviceStatusOnline      DeviceStatus = "ONLINE"
	DeviceStatusOffline     DeviceStatus = "OFFLINE"
	DeviceStatusUpdating    DeviceStatus = "UPDATING"
	DeviceStatusVulnerable  DeviceStatus = "VULNERABLE"
	DeviceStatusCompromised DeviceStatus = "COMPROMISED"
)

func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceStatusOnline, DeviceStatusOffline, DeviceStatusUpdating,
		DeviceStatusVulnerable, DeviceStatusCompromised:
		return true
	}
	return false
}

type SignatureType string

const (
	SignatureRSA4096 SignatureType = "RSA-4096"
	SignatureECCP256 SignatureType = "ECC-P256"
	SignatureNone    SignatureType = "NONE"
)

type FirmwareStatus string

const (
	FirmwareStatusDraft      FirmwareStatus = "DRAFT"
	FirmwareStatusSigned     FirmwareStatus = "SIGNED"
	FirmwareStatusDeployed   FirmwareStatus = "DEPLOYED"
	FirmwareStatusDeprecated FirmwareStatus = "DEPRECATED"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

type Device struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	IP              string       `json:"ip"`
	FirmwareVersion string       `json:"firmware_version"`
	LastSeen        time.Time    `json:"last_seen"`
	Status          DeviceStatus `json:"status"`
	BatteryLevel    int          `json:"battery_level"`
	CPUUsage        int          `json:"cpu_usage"`
	Location        string       `json:"location"`
}

type Firmware struct {
	ID            string         `json:"id"`
	Version       string         `json:"version"`
	ReleaseDate   time.Time      `json:"release_date"`
	Size          string         `json:"size"`
	IsSigned      bool           `json:"is_signed"`
	SignatureType SignatureType  `json:"signature_type"`
	Hash          string         `json:"hash"`
	Signature     string         `json:"signature,omitempty"`
	Status        FirmwareStatus `json:"status"`
	Description   string         `json:"description"`
}

// Deployable reports whether the release may be pushed to devices.
func (f Firmware) Deployable() bool {
	return f.IsSigned && (f.Status == FirmwareStatusDeployed || f.Status == FirmwareStatusSigned)
}

type Alert struct {
	ID           string    `json:"id"`
	Severity     Severity  `json:"severity"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	Source       string    `json:"source"`
	Acknowledged bool      `json:"acknowledged"`
}

// ValidateFirmware rejects records that break the signing invariant:
// an unsigned build carries no signature algorithm and never reaches
// SIGNED or DEPLOYED.
func ValidateFirmware(fw Firmware) error {
	if fw.ID == "" || fw.Version == "" {
		return fmt.Errorf("%w: id and version are required", ErrInvalidFirmware)
	}

	switch fw.Status {
	case FirmwareStatusDraft, FirmwareStatusSigned, FirmwareStatusDeployed, FirmwareStatusDeprecated:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidFirmware, fw.Status)
	}

	switch fw.SignatureType {
	case SignatureRSA4096, SignatureECCP256, SignatureNone:
	default:
		return fmt.Errorf("%w: unknown signature type %q", ErrInvalidFirmware, fw.SignatureType)
	}

	if !fw.IsSigned {
		if fw.Status == FirmwareStatusSigned || fw.Status == FirmwareStatusDeployed {
			return ErrUnsignedFirmware
		}
		if fw.SignatureType != SignatureNone {
			return fmt.Errorf("%w: unsigned build declares %s", ErrUnsignedFirmware, fw.SignatureType)
		}
		return nil
	}

	if fw.SignatureType == SignatureNone {
		return fmt.Errorf("%w: signed build without signature type", ErrInvalidFirmware)
	}
	return nil
}
