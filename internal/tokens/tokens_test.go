package tokens

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec() *Codec {
	return New([]byte("test-access-secret"), []byte("test-refresh-secret"), 24*time.Hour, 30*24*time.Hour)
}

func TestCodec_AccessRoundtrip(t *testing.T) {
	t.Parallel()

	codec := newTestCodec()
	claims := Claims{UserID: uuid.NewString(), Email: "a@x.com", Phone: "000"}

	token, err := codec.SignAccess(claims)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := codec.VerifyAccess(token)
	require.NoError(t, err)
	assert.Equal(t, claims.UserID, got.UserID)
	assert.Equal(t, claims.Email, got.Email)
	assert.Equal(t, claims.Phone, got.Phone)
	assert.Equal(t, claims.UserID, got.Subject)
	require.NotNil(t, got.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), got.ExpiresAt.Time, time.Minute)
}

func TestCodec_RefreshNeverEmbedsAnotherToken(t *testing.T) {
	t.Parallel()

	codec := newTestCodec()
	token, err := codec.SignRefresh(Claims{UserID: "u1", Email: "a@x.com", RefreshToken: "should-be-dropped"})
	require.NoError(t, err)

	got, err := codec.VerifyRefresh(token)
	require.NoError(t, err)
	assert.Empty(t, got.RefreshToken)
}

// Two mints of identical claims in the same instant must still produce
// distinct tokens, or rotation would store the very value it retires.
func TestCodec_EveryMintIsUnique(t *testing.T) {
	t.Parallel()

	codec := newTestCodec()
	claims := Claims{UserID: "u1", Email: "a@x.com"}

	first, err := codec.SignRefresh(claims)
	require.NoError(t, err)
	second, err := codec.SignRefresh(claims)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	got, err := codec.VerifyRefresh(first)
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)

	firstAccess, err := codec.SignAccess(claims)
	require.NoError(t, err)
	secondAccess, err := codec.SignAccess(claims)
	require.NoError(t, err)
	assert.NotEqual(t, firstAccess, secondAccess)
}

func TestCodec_SecretsAreIndependent(t *testing.T) {
	t.Parallel()

	codec := newTestCodec()
	access, err := codec.SignAccess(Claims{UserID: "u1", Email: "a@x.com"})
	require.NoError(t, err)

	_, err = codec.VerifyRefresh(access)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestCodec_VerifyFailures(t *testing.T) {
	t.Parallel()

	codec := newTestCodec()
	expiredCodec := New([]byte("test-access-secret"), []byte("test-refresh-secret"), -time.Minute, -time.Minute)

	expired, err := expiredCodec.SignAccess(Claims{UserID: "u1", Email: "a@x.com"})
	require.NoError(t, err)

	otherCodec := New([]byte("other-secret"), []byte("other-refresh"), time.Hour, time.Hour)
	wrongKey, err := otherCodec.SignAccess(Claims{UserID: "u1", Email: "a@x.com"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "expired", token: expired, want: ErrTokenExpired},
		{name: "wrong secret", token: wrongKey, want: ErrInvalidSignature},
		{name: "garbage", token: "not-a-jwt", want: ErrTokenMalformed},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := codec.VerifyAccess(tt.token)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCodec_DecodeUnsafe_ReadsExpiredToken(t *testing.T) {
	t.Parallel()

	expiredCodec := New([]byte("test-access-secret"), []byte("test-refresh-secret"), -time.Minute, time.Hour)
	token, err := expiredCodec.SignAccess(Claims{UserID: "u1", Email: "a@x.com", RefreshToken: "embedded-refresh"})
	require.NoError(t, err)

	claims := expiredCodec.DecodeUnsafe(token)
	require.NotNil(t, claims)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "embedded-refresh", claims.RefreshToken)
}

func TestCodec_DecodeUnsafe_NilOnGarbage(t *testing.T) {
	t.Parallel()

	codec := newTestCodec()
	assert.Nil(t, codec.DecodeUnsafe("definitely not a token"))
}
