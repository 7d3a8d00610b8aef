package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJWTManager(t *testing.T) {
	manager := NewJWTManager("test-secret-key-for-testing-purposes", IssuerPatient, 15*time.Minute)

	assert.NotNil(t, manager)
	assert.Equal(t, IssuerPatient, manager.Issuer())
	assert.Equal(t, 15*time.Minute, manager.accessTokenDuration)
}

func TestValidateToken_ValidToken(t *testing.T) {
	manager := NewJWTManager("test-secret", IssuerDoctor, 15*time.Minute)
	userID := uuid.New()

	token, err := manager.GenerateAccessToken(userID, "Dr. Rao")
	require.NoError(t, err)

	claims, err := manager.ValidateToken(token)

	assert.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "Dr. Rao", claims.Name)
	assert.Equal(t, IssuerDoctor, claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestValidateToken_ExpiredToken(t *testing.T) {
	manager := NewJWTManager("test-secret", IssuerPatient, 1*time.Nanosecond)

	token, err := manager.GenerateAccessToken(uuid.New(), "")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	claims, err := manager.ValidateToken(token)

	assert.Error(t, err)
	assert.Nil(t, claims)
	assert.Contains(t, err.Error(), "expired")
}

// A patient token must not validate as a doctor token, even if the secrets matched.
func TestValidateToken_WrongNamespace(t *testing.T) {
	patients := NewJWTManager("shared-secret", IssuerPatient, time.Minute)
	doctors := NewJWTManager("shared-secret", IssuerDoctor, time.Minute)

	token, err := patients.GenerateAccessToken(uuid.New(), "")
	require.NoError(t, err)

	_, err = doctors.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	issuing := NewJWTManager("secret-one", IssuerPatient, time.Minute)
	validating := NewJWTManager("secret-two", IssuerPatient, time.Minute)

	token, err := issuing.GenerateAccessToken(uuid.New(), "")
	require.NoError(t, err)

	_, err = validating.ValidateToken(token)
	assert.Error(t, err)
}

func TestTokenID(t *testing.T) {
	manager := NewJWTManager("test-secret", IssuerPatient, time.Minute)
	token, err := manager.GenerateAccessToken(uuid.New(), "")
	require.NoError(t, err)

	id, err := TokenID(token)
	assert.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = TokenID("not-a-token")
	assert.Error(t, err)
}
