package firmware

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"github.com/EternisAI/iot-shield/internal/events"
	"github.com/EternisAI/iot-shield/internal/fleet"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	MaxBinarySize      = 100 * 1024 * 1024
	DefaultDelay       = 2 * time.Second
	DefaultDescription = "Security patch and kernel optimization."

	hashPrefix = "SHA256:"
)

var (
	ErrInvalidBinaryFormat = errors.New("invalid firmware binary")
	ErrHSMUnavailable      = errors.New("signing module unavailable")
	ErrSignatureMismatch   = errors.New("firmware signature mismatch")
)

var allowedExtensions = []string{".bin", ".hex"}

type Config struct {
	Delay     time.Duration       `mapstructure:"delay"`
	Algorithm fleet.SignatureType `mapstructure:"algorithm"`
	KeyPath   string              `mapstructure:"key_path"`
}

// Binary is an uploaded firmware image.
type Binary struct {
	Filename    string
	Data        []byte
	Description string
}

type Service struct {
	store     fleet.Store
	signer    Signer
	publisher events.Publisher
	clock     clockwork.Clock
	delay     time.Duration
	intn      func(n int) int
}

func NewService(store fleet.Store, signer Signer, publisher events.Publisher, clock clockwork.Clock, delay time.Duration) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	if delay < 0 {
		delay = 0
	}
	return &Service{
		store:     store,
		signer:    signer,
		publisher: publisher,
		clock:     clock,
		delay:     delay,
		intn:      rand.IntN,
	}
}

func Validate(bin Binary) error {
	if len(bin.Data) == 0 {
		return fmt.Errorf("%w: empty file", ErrInvalidBinaryFormat)
	}
	if len(bin.Data) > MaxBinarySize {
		return fmt.Errorf("%w: larger than %d bytes", ErrInvalidBinaryFormat, MaxBinarySize)
	}
	ext := strings.ToLower(filepath.Ext(bin.Filename))
	for _, allowed := range allowedExtensions {
		if ext == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: only .bin and .hex files are allowed", ErrInvalidBinaryFormat)
}

// UploadAndSign hashes and signs bin, then prepends it to the catalogue
// as a signed DRAFT release.
func (s *Service) UploadAndSign(ctx context.Context, bin Binary) (fleet.Firmware, error) {
	if err := Validate(bin); err != nil {
		return fleet.Firmware{}, err
	}

	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return fleet.Firmware{}, ctx.Err()
		case <-s.clock.After(s.delay):
		}
	}

	if s.signer == nil {
		return fleet.Firmware{}, ErrHSMUnavailable
	}

	digest := sha256.Sum256(bin.Data)
	signature, err := s.signer.Sign(digest[:])
	if err != nil {
		slog.Error("Firmware signing failed", "filename", bin.Filename, "error", err)
		return fleet.Firmware{}, fmt.Errorf("%w: %v", ErrHSMUnavailable, err)
	}

	description := strings.TrimSpace(bin.Description)
	if description == "" {
		description = DefaultDescription
	}

	fw := fleet.Firmware{
		ID:            uuid.NewString(),
		Version:       fmt.Sprintf("2.4.%d", s.intn(9)),
		ReleaseDate:   s.clock.Now().UTC(),
		Size:          fmt.Sprintf("%.2f MB", float64(len(bin.Data))/1024/1024),
		IsSigned:      true,
		SignatureType: s.signer.Algorithm(),
		Hash:          hashPrefix + hex.EncodeToString(digest[:]),
		Signature:     base64.StdEncoding.EncodeToString(signature),
		Status:        fleet.FirmwareStatusDraft,
		Description:   description,
	}

	if err := s.store.AddFirmware(ctx, fw); err != nil {
		return fleet.Firmware{}, fmt.Errorf("store firmware: %w", err)
	}

	slog.Info("Firmware signed",
		"id", fw.ID,
		"version", fw.Version,
		"filename", bin.Filename,
		"size", fw.Size,
		"algorithm", fw.SignatureType)

	events.Emit(ctx, s.publisher, events.TypeFirmwareAdded, fw)
	return fw, nil
}

// Verify checks that data matches the recorded hash and signature.
func (s *Service) Verify(fw fleet.Firmware, data []byte) error {
	if !fw.IsSigned {
		return fleet.ErrUnsignedFirmware
	}
	if s.signer == nil {
		return ErrHSMUnavailable
	}
	if fw.SignatureType != s.signer.Algorithm() {
		return fmt.Errorf("%w: signed with %s", ErrSignatureMismatch, fw.SignatureType)
	}

	digest := sha256.Sum256(data)
	if fw.Hash != hashPrefix+hex.EncodeToString(digest[:]) {
		return fmt.Errorf("%w: hash differs", ErrSignatureMismatch)
	}

	signature, err := base64.StdEncoding.DecodeString(fw.Signature)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", ErrSignatureMismatch)
	}
	if err := s.signer.Verify(digest[:], signature); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	return nil
}
