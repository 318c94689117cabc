package auth

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T) (*Service, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	svc, err := newService(Config{JWTSecret: "test-secret", TokenTTL: time.Hour}, clock, bcrypt.MinCost)
	require.NoError(t, err)
	return svc, clock
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		wantRole Role
		wantErr  error
	}{
		{name: "admin", username: "admin", password: "admin", wantRole: RoleAdmin},
		{name: "viewer", username: "user", password: "user", wantRole: RoleViewer},
		{name: "surrounding whitespace", username: "  admin ", password: "\tadmin\n", wantRole: RoleAdmin},
		{name: "wrong password", username: "admin", password: "user", wantErr: ErrInvalidCredentials},
		{name: "crossed pair", username: "user", password: "admin", wantErr: ErrInvalidCredentials},
		{name: "case sensitive", username: "Admin", password: "admin", wantErr: ErrInvalidCredentials},
		{name: "empty", wantErr: ErrInvalidCredentials},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newTestService(t)

			session, token, err := svc.Login(context.Background(), tc.username, tc.password)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Empty(t, token)
				assert.Empty(t, svc.Sessions())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.wantRole, session.Role)
			assert.Equal(t, DefaultTab, session.ActiveTab)
			assert.NotEmpty(t, token)
			assert.Len(t, svc.Sessions(), 1)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newTestService(t)
	session, token, err := svc.Login(context.Background(), "user", "user")
	require.NoError(t, err)

	got, err := svc.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, session, got)

	_, err = svc.Authenticate(token + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := newService(Config{JWTSecret: "other-secret", TokenTTL: time.Hour}, clockwork.NewFakeClock(), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = other.Authenticate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateExpired(t *testing.T) {
	svc, clock := newTestService(t)
	_, token, err := svc.Login(context.Background(), "admin", "admin")
	require.NoError(t, err)

	clock.Advance(time.Hour + time.Second)

	_, err = svc.Authenticate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogoutIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	session, token, err := svc.Login(context.Background(), "admin", "admin")
	require.NoError(t, err)

	svc.Logout(session.ID)
	afterOnce := svc.Sessions()
	svc.Logout(session.ID)
	assert.Equal(t, afterOnce, svc.Sessions())
	assert.Empty(t, svc.Sessions())

	_, err = svc.Authenticate(token)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// A fresh login starts again on the default tab.
	next, _, err := svc.Login(context.Background(), "admin", "admin")
	require.NoError(t, err)
	assert.Equal(t, DefaultTab, next.ActiveTab)
}

func TestLogoutToken(t *testing.T) {
	svc, _ := newTestService(t)
	session, token, err := svc.Login(context.Background(), "user", "user")
	require.NoError(t, err)

	id, ok := svc.LogoutToken(token)
	assert.True(t, ok)
	assert.Equal(t, session.ID, id)
	assert.Empty(t, svc.Sessions())

	id, ok = svc.LogoutToken(token)
	assert.True(t, ok)
	assert.Equal(t, session.ID, id)

	_, ok = svc.LogoutToken("garbage")
	assert.False(t, ok)
}

func TestSetActiveTab(t *testing.T) {
	svc, _ := newTestService(t)
	session, _, err := svc.Login(context.Background(), "user", "user")
	require.NoError(t, err)

	updated, err := svc.SetActiveTab(session.ID, "Firmware")
	require.NoError(t, err)
	assert.Equal(t, TabFirmware, updated.ActiveTab)

	got, err := svc.Lookup(session.ID)
	require.NoError(t, err)
	assert.Equal(t, TabFirmware, got.ActiveTab)

	_, err = svc.SetActiveTab(session.ID, "settings")
	assert.ErrorIs(t, err, ErrUnknownTab)

	_, err = svc.SetActiveTab("missing", TabLogs)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStartCleanup(t *testing.T) {
	svc, clock := newTestService(t)
	_, _, err := svc.Login(context.Background(), "admin", "admin")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.StartCleanup(ctx, 10*time.Minute)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(2 * time.Hour)

	require.Eventually(t, func() bool { return len(svc.Sessions()) == 0 }, time.Second, 10*time.Millisecond)
}

func TestNewServiceRequiresSecret(t *testing.T) {
	_, err := NewService(Config{}, nil)
	assert.Error(t, err)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("s3cret", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)
	assert.True(t, CheckPassword("s3cret", hash))
	assert.False(t, CheckPassword("wrong", hash))
}
