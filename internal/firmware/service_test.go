package firmware

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/EternisAI/iot-shield/internal/events"
	"github.com/EternisAI/iot-shield/internal/fleet"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSigner struct{}

func (failingSigner) Algorithm() fleet.SignatureType { return fleet.SignatureECCP256 }
func (failingSigner) Sign([]byte) ([]byte, error)    { return nil, errors.New("token removed") }
func (failingSigner) Verify([]byte, []byte) error    { return errors.New("token removed") }

func newECDSASigner(t *testing.T) Signer {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	signer, err := NewECDSASigner(key)
	require.NoError(t, err)
	return signer
}

func newTestService(t *testing.T, signer Signer, delay time.Duration) (*Service, *fleet.MemoryStore, *clockwork.FakeClock, *events.Recorder) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC))
	seed, err := fleet.DefaultSeed(clock.Now())
	require.NoError(t, err)
	store := fleet.NewMemoryStore(seed)
	recorder := &events.Recorder{}
	svc := NewService(store, signer, recorder, clock, delay)
	svc.intn = func(int) int { return 3 }
	return svc, store, clock, recorder
}

func TestUploadAndSign(t *testing.T) {
	svc, store, clock, recorder := newTestService(t, newECDSASigner(t), 0)
	ctx := context.Background()
	before, err := store.ListFirmware(ctx)
	require.NoError(t, err)

	data := make([]byte, 3*1024*1024+512*1024)
	fw, err := svc.UploadAndSign(ctx, Binary{Filename: "gateway.bin", Data: data})
	require.NoError(t, err)

	sum := sha256.Sum256(data)
	assert.Equal(t, "SHA256:"+hex.EncodeToString(sum[:]), fw.Hash)
	assert.Equal(t, "2.4.3", fw.Version)
	assert.Equal(t, "3.50 MB", fw.Size)
	assert.True(t, fw.IsSigned)
	assert.Equal(t, fleet.SignatureECCP256, fw.SignatureType)
	assert.Equal(t, fleet.FirmwareStatusDraft, fw.Status)
	assert.Equal(t, DefaultDescription, fw.Description)
	assert.Equal(t, clock.Now().UTC(), fw.ReleaseDate)
	assert.NotEmpty(t, fw.ID)
	assert.NotEmpty(t, fw.Signature)

	after, err := store.ListFirmware(ctx)
	require.NoError(t, err)
	require.Len(t, after, len(before)+1)
	assert.Equal(t, fw, after[0])
	assert.Equal(t, before, after[1:])

	assert.NoError(t, svc.Verify(fw, data))
	assert.Equal(t, []string{events.TypeFirmwareAdded}, recorder.Types())
}

func TestUploadAndSign_KeepsDescription(t *testing.T) {
	svc, _, _, _ := newTestService(t, newECDSASigner(t), 0)

	fw, err := svc.UploadAndSign(context.Background(), Binary{Filename: "lock.HEX", Data: []byte{1}, Description: "  Lock fix. "})
	require.NoError(t, err)
	assert.Equal(t, "Lock fix.", fw.Description)
	assert.Equal(t, "0.00 MB", fw.Size)
}

func TestUploadAndSign_VersionRange(t *testing.T) {
	svc, _, _, _ := newTestService(t, newECDSASigner(t), 0)
	var bound int
	svc.intn = func(n int) int {
		bound = n
		return n - 1
	}

	fw, err := svc.UploadAndSign(context.Background(), Binary{Filename: "a.bin", Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, 9, bound)
	assert.Equal(t, "2.4.8", fw.Version)
}

func TestUploadAndSign_InvalidBinary(t *testing.T) {
	tests := []struct {
		name string
		bin  Binary
	}{
		{name: "empty", bin: Binary{Filename: "a.bin"}},
		{name: "wrong extension", bin: Binary{Filename: "a.zip", Data: []byte("x")}},
		{name: "no extension", bin: Binary{Filename: "firmware", Data: []byte("x")}},
		{name: "too large", bin: Binary{Filename: "a.bin", Data: make([]byte, MaxBinarySize+1)}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, store, _, recorder := newTestService(t, newECDSASigner(t), 0)

			_, err := svc.UploadAndSign(context.Background(), tc.bin)
			assert.ErrorIs(t, err, ErrInvalidBinaryFormat)

			list, err := store.ListFirmware(context.Background())
			require.NoError(t, err)
			assert.Len(t, list, 3)
			assert.Empty(t, recorder.Types())
		})
	}
}

func TestUploadAndSign_WaitsForDelay(t *testing.T) {
	svc, store, clock, _ := newTestService(t, newECDSASigner(t), DefaultDelay)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		fw  fleet.Firmware
		err error
	}
	done := make(chan result, 1)
	go func() {
		fw, err := svc.UploadAndSign(ctx, Binary{Filename: "a.bin", Data: []byte("payload")})
		done <- result{fw, err}
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	list, err := store.ListFirmware(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	clock.Advance(DefaultDelay)
	res := <-done
	require.NoError(t, res.err)

	list, err = store.ListFirmware(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.fw.ID, list[0].ID)
}

func TestUploadAndSign_Cancelled(t *testing.T) {
	svc, store, clock, _ := newTestService(t, newECDSASigner(t), DefaultDelay)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := svc.UploadAndSign(ctx, Binary{Filename: "a.bin", Data: []byte("payload")})
		done <- err
	}()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	list, err := store.ListFirmware(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestUploadAndSign_SignerFailure(t *testing.T) {
	svc, store, _, _ := newTestService(t, failingSigner{}, 0)

	_, err := svc.UploadAndSign(context.Background(), Binary{Filename: "a.bin", Data: []byte("x")})
	assert.ErrorIs(t, err, ErrHSMUnavailable)

	list, err := store.ListFirmware(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestVerify_DetectsTampering(t *testing.T) {
	svc, _, _, _ := newTestService(t, newECDSASigner(t), 0)
	data := []byte("original image")

	fw, err := svc.UploadAndSign(context.Background(), Binary{Filename: "a.bin", Data: data})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Verify(fw, []byte("patched image")), ErrSignatureMismatch)

	forged := fw
	forged.Signature = "AAAA"
	assert.ErrorIs(t, svc.Verify(forged, data), ErrSignatureMismatch)

	other, _, _, _ := newTestService(t, newECDSASigner(t), 0)
	assert.ErrorIs(t, other.Verify(fw, data), ErrSignatureMismatch)

	unsigned := fw
	unsigned.IsSigned = false
	assert.ErrorIs(t, svc.Verify(unsigned, data), fleet.ErrUnsignedFirmware)
}

func TestLoadOrGenerateSigner_ECDSA(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "signing.pem")

	first, err := LoadOrGenerateSigner(fleet.SignatureECCP256, path)
	require.NoError(t, err)
	assert.FileExists(t, path)

	second, err := LoadOrGenerateSigner(fleet.SignatureECCP256, path)
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("image"))
	sig, err := first.Sign(digest[:])
	require.NoError(t, err)
	assert.NoError(t, second.Verify(digest[:], sig))

	_, err = LoadOrGenerateSigner(fleet.SignatureRSA4096, path)
	assert.Error(t, err)
}

func TestLoadOrGenerateSigner_UnsupportedAlgorithm(t *testing.T) {
	_, err := LoadOrGenerateSigner(fleet.SignatureNone, "")
	assert.Error(t, err)
}

func TestRSASigner(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping RSA-4096 key generation in short mode")
	}

	signer, err := LoadOrGenerateSigner(fleet.SignatureRSA4096, "")
	require.NoError(t, err)
	assert.Equal(t, fleet.SignatureRSA4096, signer.Algorithm())

	digest := sha256.Sum256([]byte("image"))
	sig, err := signer.Sign(digest[:])
	require.NoError(t, err)
	assert.Len(t, sig, 512)
	assert.NoError(t, signer.Verify(digest[:], sig))
}
