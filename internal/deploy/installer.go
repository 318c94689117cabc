package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/EternisAI/iot-shield/internal/fleet"
)

var ErrDeviceUnreachable = errors.New("device unreachable")

// Installer pushes a release onto a device. device is the record as it
// was before the deployment started.
type Installer interface {
	Install(ctx context.Context, device fleet.Device, release fleet.Firmware) error
}

// SimulatedInstaller stands in for the device transport. With
// FailOffline set, devices that were OFFLINE when the deployment began
// never answer.
type SimulatedInstaller struct {
	FailOffline bool
}

func (i SimulatedInstaller) Install(ctx context.Context, device fleet.Device, release fleet.Firmware) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !release.IsSigned {
		return fleet.ErrUnsignedFirmware
	}
	if i.FailOffline && device.Status == fleet.DeviceStatusOffline {
		return fmt.Errorf("%w: %s (%s)", ErrDeviceUnreachable, device.Name, device.IP)
	}

	slog.Debug("Simulated install complete",
		"device_id", device.ID,
		"from", device.FirmwareVersion,
		"to", release.Version)
	return nil
}
