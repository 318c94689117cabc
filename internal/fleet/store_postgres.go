package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	deviceColumns   = "id, name, ip, firmware_version, last_seen, status, battery_level, cpu_usage, location"
	firmwareColumns = "id, version, release_date, size, is_signed, signature_type, hash, signature, status, description"
	alertColumns    = "id, severity, message, timestamp, source, acknowledged"
)

// PostgresStore keeps the fleet in the tables created by the db
// migrations. Insertion order is tracked by each table's seq column:
// devices and alerts list oldest first, firmware lists newest first.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// SeedIfEmpty loads seed when the devices table has no rows yet.
func (s *PostgresStore) SeedIfEmpty(ctx context.Context, seed Seed) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var count int64
		if err := tx.QueryRow(ctx, "SELECT count(*) FROM devices").Scan(&count); err != nil {
			return fmt.Errorf("count devices: %w", err)
		}
		if count > 0 {
			slog.Debug("Fleet already seeded", "devices", count)
			return nil
		}

		for _, d := range seed.Devices {
			if _, err := tx.Exec(ctx,
				"INSERT INTO devices ("+deviceColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
				d.ID, d.Name, d.IP, d.FirmwareVersion, d.LastSeen, string(d.Status), d.BatteryLevel, d.CPUUsage, d.Location,
			); err != nil {
				return fmt.Errorf("insert device %s: %w", d.ID, err)
			}
		}

		// Oldest release goes in first so it gets the lowest seq.
		for i := len(seed.Firmware) - 1; i >= 0; i-- {
			if err := insertFirmware(ctx, tx, seed.Firmware[i]); err != nil {
				return err
			}
		}

		for _, a := range seed.Alerts {
			if _, err := tx.Exec(ctx,
				"INSERT INTO alerts ("+alertColumns+") VALUES ($1, $2, $3, $4, $5, $6)",
				a.ID, string(a.Severity), a.Message, a.Timestamp, a.Source, a.Acknowledged,
			); err != nil {
				return fmt.Errorf("insert alert %s: %w", a.ID, err)
			}
		}

		slog.Info("Seeded fleet",
			"devices", len(seed.Devices),
			"firmware", len(seed.Firmware),
			"alerts", len(seed.Alerts))
		return nil
	})
}

func (s *PostgresStore) ListDevices(ctx context.Context) ([]Device, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+deviceColumns+" FROM devices ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	devices, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Device, error) {
		return scanDevice(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

func (s *PostgresStore) GetDevice(ctx context.Context, id string) (Device, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+deviceColumns+" FROM devices WHERE id = $1", id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Device{}, ErrDeviceNotFound
		}
		return Device{}, fmt.Errorf("get device: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) UpdateDevice(ctx context.Context, id string, fn func(*Device) error) (Device, error) {
	var updated Device
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, "SELECT "+deviceColumns+" FROM devices WHERE id = $1 FOR UPDATE", id)
		d, err := scanDevice(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrDeviceNotFound
			}
			return fmt.Errorf("lock device: %w", err)
		}

		if err := fn(&d); err != nil {
			return err
		}
		d.ID = id

		if _, err := tx.Exec(ctx,
			`UPDATE devices SET name = $2, ip = $3, firmware_version = $4, last_seen = $5,
			status = $6, battery_level = $7, cpu_usage = $8, location = $9 WHERE id = $1`,
			d.ID, d.Name, d.IP, d.FirmwareVersion, d.LastSeen, string(d.Status), d.BatteryLevel, d.CPUUsage, d.Location,
		); err != nil {
			return fmt.Errorf("update device: %w", err)
		}
		updated = d
		return nil
	})
	if err != nil {
		return Device{}, err
	}
	return updated, nil
}

func (s *PostgresStore) ListFirmware(ctx context.Context) ([]Firmware, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+firmwareColumns+" FROM firmware ORDER BY seq DESC")
	if err != nil {
		return nil, fmt.Errorf("list firmware: %w", err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Firmware, error) {
		return scanFirmware(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list firmware: %w", err)
	}
	return list, nil
}

func (s *PostgresStore) GetFirmware(ctx context.Context, id string) (Firmware, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+firmwareColumns+" FROM firmware WHERE id = $1", id)
	fw, err := scanFirmware(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Firmware{}, ErrFirmwareNotFound
		}
		return Firmware{}, fmt.Errorf("get firmware: %w", err)
	}
	return fw, nil
}

func (s *PostgresStore) AddFirmware(ctx context.Context, fw Firmware) error {
	if err := ValidateFirmware(fw); err != nil {
		return err
	}
	return insertFirmware(ctx, s.pool, fw)
}

func (s *PostgresStore) ListAlerts(ctx context.Context) ([]Alert, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+alertColumns+" FROM alerts ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	alerts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Alert, error) {
		return scanAlert(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

func (s *PostgresStore) AcknowledgeAlert(ctx context.Context, id string) (Alert, error) {
	row := s.pool.QueryRow(ctx,
		"UPDATE alerts SET acknowledged = TRUE WHERE id = $1 RETURNING "+alertColumns, id)
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Alert{}, ErrAlertNotFound
		}
		return Alert{}, fmt.Errorf("acknowledge alert: %w", err)
	}
	return a, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertFirmware(ctx context.Context, db execer, fw Firmware) error {
	_, err := db.Exec(ctx,
		"INSERT INTO firmware ("+firmwareColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		fw.ID, fw.Version, fw.ReleaseDate, fw.Size, fw.IsSigned, string(fw.SignatureType),
		fw.Hash, fw.Signature, string(fw.Status), fw.Description,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: duplicate id %s", ErrInvalidFirmware, fw.ID)
		}
		return fmt.Errorf("insert firmware %s: %w", fw.ID, err)
	}
	return nil
}

func scanDevice(row pgx.Row) (Device, error) {
	var d Device
	var status string
	err := row.Scan(&d.ID, &d.Name, &d.IP, &d.FirmwareVersion, &d.LastSeen,
		&status, &d.BatteryLevel, &d.CPUUsage, &d.Location)
	d.Status = DeviceStatus(status)
	return d, err
}

func scanFirmware(row pgx.Row) (Firmware, error) {
	var fw Firmware
	var sigType, status string
	err := row.Scan(&fw.ID, &fw.Version, &fw.ReleaseDate, &fw.Size, &fw.IsSigned,
		&sigType, &fw.Hash, &fw.Signature, &status, &fw.Description)
	fw.SignatureType = SignatureType(sigType)
	fw.Status = FirmwareStatus(status)
	return fw, err
}

func scanAlert(row pgx.Row) (Alert, error) {
	var a Alert
	var severity string
	err := row.Scan(&a.ID, &severity, &a.Message, &a.Timestamp, &a.Source, &a.Acknowledged)
	a.Severity = Severity(severity)
	return a, err
}
