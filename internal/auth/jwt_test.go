package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func parseForTest(t *testing.T, signed string) *jwt.Token {
	t.Helper()
	token, err := jwt.ParseWithClaims(signed, jwt.MapClaims{}, func(*jwt.Token) (any, error) {
		return []byte(testSecret), nil
	})
	require.NoError(t, err)
	require.True(t, token.Valid)
	return token
}

func TestGenerateToken_RoundTrip(t *testing.T) {
	t.Parallel()
	signed, expiresAt, err := GenerateToken("operator-1", testSecret, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), expiresAt, time.Minute)

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(echo.POST, "/verify/tokens", nil), httptest.NewRecorder())
	c.Set("user", parseForTest(t, signed))

	userID, err := UserIDFromContext(c)
	require.NoError(t, err)
	assert.Equal(t, "operator-1", userID)
}

func TestGenerateToken_Validation(t *testing.T) {
	t.Parallel()
	_, _, err := GenerateToken("", testSecret, time.Hour)
	assert.Error(t, err)
	_, _, err = GenerateToken("operator-1", "", time.Hour)
	assert.Error(t, err)
	_, _, err = GenerateToken("operator-1", testSecret, 0)
	assert.Error(t, err)
}

func TestUserIDFromContext_MissingToken(t *testing.T) {
	t.Parallel()
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(echo.GET, "/", nil), httptest.NewRecorder())
	_, err := UserIDFromContext(c)
	assert.Error(t, err)
}
