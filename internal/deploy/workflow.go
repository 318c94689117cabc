package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/EternisAI/iot-shield/internal/events"
	"github.com/EternisAI/iot-shield/internal/fleet"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const DefaultDelay = 5 * time.Second

var (
	ErrDeploymentInProgress = errors.New("deployment already in progress")
	ErrNoActiveDeployment   = errors.New("no active deployment")
	ErrNoTargetRelease      = errors.New("no deployable firmware release")
	ErrDeploymentNotFound   = errors.New("deployment not found")
)

type State string

const (
	StatePending   State = "PENDING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
)

type Deployment struct {
	ID             string             `json:"id"`
	DeviceID       string             `json:"device_id"`
	DeviceName     string             `json:"device_name"`
	FirmwareID     string             `json:"firmware_id"`
	FromVersion    string             `json:"from_version"`
	TargetVersion  string             `json:"target_version"`
	PreviousStatus fleet.DeviceStatus `json:"previous_status"`
	State          State              `json:"state"`
	Error          string             `json:"error,omitempty"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     *time.Time         `json:"finished_at,omitempty"`
}

type Config struct {
	Delay       time.Duration `mapstructure:"delay"`
	FailOffline bool          `mapstructure:"fail_offline"`
}

type pendingDeployment struct {
	deploymentID string
	previous     fleet.Device
	release      fleet.Firmware

	// revertTo is the status restored on failure or cancel.
	revertTo fleet.DeviceStatus
	timer    clockwork.Timer
}

// Workflow drives devices through UPDATING and back. At most one
// deployment is pending per device.
type Workflow struct {
	store     fleet.Store
	installer Installer
	publisher events.Publisher
	clock     clockwork.Clock
	delay     time.Duration

	mu          sync.Mutex
	pending     map[string]*pendingDeployment
	deployments []Deployment
}

func NewWorkflow(store fleet.Store, installer Installer, publisher events.Publisher, clock clockwork.Clock, delay time.Duration) *Workflow {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Workflow{
		store:     store,
		installer: installer,
		publisher: publisher,
		clock:     clock,
		delay:     delay,
		pending:   make(map[string]*pendingDeployment),
	}
}

// Deploy marks the device UPDATING and schedules the install of the
// latest deployable release.
func (w *Workflow) Deploy(ctx context.Context, deviceID string) (Deployment, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.pending[deviceID]; ok {
		return Deployment{}, ErrDeploymentInProgress
	}
	if _, err := w.store.GetDevice(ctx, deviceID); err != nil {
		return Deployment{}, err
	}

	release, err := w.target(ctx)
	if err != nil {
		return Deployment{}, err
	}

	var previous fleet.Device
	updated, err := w.store.UpdateDevice(ctx, deviceID, func(d *fleet.Device) error {
		if d.Status == fleet.DeviceStatusUpdating {
			return ErrDeploymentInProgress
		}
		previous = *d
		d.Status = fleet.DeviceStatusUpdating
		return nil
	})
	if err != nil {
		return Deployment{}, err
	}

	dep := w.schedule(previous, release, previous.Status)
	slog.Info("Deployment started",
		"deployment_id", dep.ID,
		"device_id", deviceID,
		"from", previous.FirmwareVersion,
		"to", release.Version,
		"delay", w.delay)

	w.emitDevice(ctx, updated)
	events.Emit(ctx, w.publisher, events.TypeDeploymentPrefix+strings.ToLower(string(dep.State)), dep)
	return dep, nil
}

// Recover schedules completion for devices already UPDATING with no
// deployment behind them, such as seeded records or leftovers from a
// previous run. If the install fails they fall back to OFFLINE.
func (w *Workflow) Recover(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	devices, err := w.store.ListDevices(ctx)
	if err != nil {
		return 0, fmt.Errorf("list devices: %w", err)
	}

	var stranded []fleet.Device
	for _, d := range devices {
		if _, ok := w.pending[d.ID]; !ok && d.Status == fleet.DeviceStatusUpdating {
			stranded = append(stranded, d)
		}
	}
	if len(stranded) == 0 {
		return 0, nil
	}

	release, err := w.target(ctx)
	if err != nil {
		return 0, err
	}

	for _, d := range stranded {
		dep := w.schedule(d, release, fleet.DeviceStatusOffline)
		slog.Info("Resumed deployment", "deployment_id", dep.ID, "device_id", d.ID, "to", release.Version)
	}
	return len(stranded), nil
}

// Cancel stops the device's pending deployment and restores its prior
// status.
func (w *Workflow) Cancel(ctx context.Context, deviceID string) (Deployment, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	p, ok := w.pending[deviceID]
	if !ok {
		if _, err := w.store.GetDevice(ctx, deviceID); err != nil {
			return Deployment{}, err
		}
		return Deployment{}, ErrNoActiveDeployment
	}
	p.timer.Stop()
	delete(w.pending, deviceID)

	reverted, err := w.store.UpdateDevice(ctx, deviceID, func(d *fleet.Device) error {
		d.Status = p.revertTo
		d.FirmwareVersion = p.previous.FirmwareVersion
		return nil
	})
	if err != nil {
		return Deployment{}, fmt.Errorf("revert device: %w", err)
	}

	dep := w.finishLocked(p.deploymentID, StateCancelled, "")
	slog.Info("Deployment cancelled", "deployment_id", dep.ID, "device_id", deviceID)

	w.emitDevice(ctx, reverted)
	events.Emit(ctx, w.publisher, events.TypeDeploymentPrefix+"cancelled", dep)
	return dep, nil
}

// List returns deployments, most recent first.
func (w *Workflow) List() []Deployment {
	w.mu.Lock()
	defer w.mu.Unlock()

	list := slices.Clone(w.deployments)
	slices.Reverse(list)
	return list
}

func (w *Workflow) Get(id string) (Deployment, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	i := w.indexLocked(id)
	if i < 0 {
		return Deployment{}, ErrDeploymentNotFound
	}
	return w.deployments[i], nil
}

// Pending reports whether the device has a deployment in flight.
func (w *Workflow) Pending(deviceID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.pending[deviceID]
	return ok
}

// Shutdown stops every pending timer. Devices stay UPDATING so that
// Recover can pick them up on the next start.
func (w *Workflow) Shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, id)
	}
}

func (w *Workflow) target(ctx context.Context) (fleet.Firmware, error) {
	releases, err := w.store.ListFirmware(ctx)
	if err != nil {
		return fleet.Firmware{}, fmt.Errorf("list firmware: %w", err)
	}
	for _, fw := range releases {
		if fw.Deployable() {
			return fw, nil
		}
	}
	return fleet.Firmware{}, ErrNoTargetRelease
}

func (w *Workflow) schedule(previous fleet.Device, release fleet.Firmware, revertTo fleet.DeviceStatus) Deployment {
	dep := Deployment{
		ID:             uuid.NewString(),
		DeviceID:       previous.ID,
		DeviceName:     previous.Name,
		FirmwareID:     release.ID,
		FromVersion:    previous.FirmwareVersion,
		TargetVersion:  release.Version,
		PreviousStatus: revertTo,
		State:          StatePending,
		StartedAt:      w.clock.Now().UTC(),
	}
	w.deployments = append(w.deployments, dep)

	deviceID, deploymentID := previous.ID, dep.ID
	w.pending[deviceID] = &pendingDeployment{
		deploymentID: deploymentID,
		previous:     previous,
		release:      release,
		revertTo:     revertTo,
		timer: w.clock.AfterFunc(w.delay, func() {
			w.complete(deviceID, deploymentID)
		}),
	}
	return dep
}

func (w *Workflow) complete(deviceID, deploymentID string) {
	ctx := context.Background()

	w.mu.Lock()
	p, ok := w.pending[deviceID]
	if !ok || p.deploymentID != deploymentID {
		w.mu.Unlock()
		return
	}
	delete(w.pending, deviceID)
	w.mu.Unlock()

	installErr := w.installer.Install(ctx, p.previous, p.release)

	device, err := w.store.UpdateDevice(ctx, deviceID, func(d *fleet.Device) error {
		if installErr != nil {
			d.Status = p.revertTo
			d.FirmwareVersion = p.previous.FirmwareVersion
			return nil
		}
		d.Status = fleet.DeviceStatusOnline
		d.FirmwareVersion = p.release.Version
		d.LastSeen = w.clock.Now().UTC()
		return nil
	})
	if err != nil {
		slog.Error("Failed to record deployment outcome", "deployment_id", deploymentID, "device_id", deviceID, "error", err)
		if installErr == nil {
			installErr = err
		}
	}

	state, message := StateSucceeded, ""
	if installErr != nil {
		state, message = StateFailed, installErr.Error()
	}

	w.mu.Lock()
	dep := w.finishLocked(deploymentID, state, message)
	w.mu.Unlock()

	if state == StateFailed {
		slog.Warn("Deployment failed", "deployment_id", deploymentID, "device_id", deviceID, "error", message)
	} else {
		slog.Info("Deployment succeeded", "deployment_id", deploymentID, "device_id", deviceID, "version", p.release.Version)
	}

	if err == nil {
		w.emitDevice(ctx, device)
	}
	events.Emit(ctx, w.publisher, events.TypeDeploymentPrefix+strings.ToLower(string(state)), dep)
}

func (w *Workflow) finishLocked(deploymentID string, state State, message string) Deployment {
	i := w.indexLocked(deploymentID)
	if i < 0 {
		return Deployment{}
	}
	finished := w.clock.Now().UTC()
	dep := w.deployments[i]
	dep.State = state
	dep.Error = message
	dep.FinishedAt = &finished
	w.deployments[i] = dep
	return dep
}

func (w *Workflow) indexLocked(id string) int {
	return slices.IndexFunc(w.deployments, func(d Deployment) bool { return d.ID == id })
}

func (w *Workflow) emitDevice(ctx context.Context, d fleet.Device) {
	events.Emit(ctx, w.publisher, events.TypeDeviceStatus, map[string]any{
		"device_id":        d.ID,
		"status":           d.Status,
		"firmware_version": d.FirmwareVersion,
	})
}
