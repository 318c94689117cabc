package fleet

import "context"

// Store owns the device, firmware and alert collections. Every mutation
// is a whole-record replacement; list snapshots handed to callers are
// never aliased with the store's own state.
type Store interface {
	ListDevices(ctx context.Context) ([]Device, error)
	GetDevice(ctx context.Context, id string) (Device, error)
	// UpdateDevice applies fn to the current record and stores the result
	// atomically. If fn returns an error the record is left untouched.
	UpdateDevice(ctx context.Context, id string, fn func(*Device) error) (Device, error)

	// ListFirmware returns releases most recent first.
	ListFirmware(ctx context.Context) ([]Firmware, error)
	GetFirmware(ctx context.Context, id string) (Firmware, error)
	// AddFirmware validates fw and prepends it to the release list.
	AddFirmware(ctx context.Context, fw Firmware) error

	ListAlerts(ctx context.Context) ([]Alert, error)
	// AcknowledgeAlert sets the acknowledged flag. It never clears it.
	AcknowledgeAlert(ctx context.Context, id string) (Alert, error)
}
