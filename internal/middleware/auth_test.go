package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consultlink-backend/internal/domain"
	"consultlink-backend/pkg/constants"
	"consultlink-backend/pkg/jwt"
)

const (
	patientSecret = "patient-secret-patient-secret-0001"
	doctorSecret  = "doctor-secret-doctor-secret-000001"
)

type stubRevocation struct {
	revoked map[string]bool
	err     error
}

func (s *stubRevocation) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	return s.revoked[tokenID], s.err
}

func newTestAuthenticator(revocation RevocationChecker) (*Authenticator, *jwt.JWTManager, *jwt.JWTManager) {
	patients := jwt.NewJWTManager(patientSecret, jwt.IssuerPatient, time.Minute)
	doctors := jwt.NewJWTManager(doctorSecret, jwt.IssuerDoctor, time.Minute)
	return NewAuthenticator(patients, doctors, revocation), patients, doctors
}

func newAuthRouter(handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/whoami", handler, func(c *gin.Context) {
		identity, _ := IdentityFrom(c)
		c.JSON(http.StatusOK, gin.H{"role": identity.Role, "id": identity.UserID})
	})
	return router
}

func TestAuthMiddleware_Namespaces(t *testing.T) {
	auth, patients, doctors := newTestAuthenticator(nil)
	router := newAuthRouter(AuthMiddleware(auth))

	patientID := uuid.New()
	doctorID := uuid.New()
	patientToken, err := patients.GenerateAccessToken(patientID, "Asha")
	require.NoError(t, err)
	doctorToken, err := doctors.GenerateAccessToken(doctorID, "Dr. Rao")
	require.NoError(t, err)

	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
		wantBody   string
	}{
		{"patient header", map[string]string{constants.HeaderPatientToken: patientToken}, http.StatusOK, `"role":"patient"`},
		{"doctor header", map[string]string{constants.HeaderDoctorToken: doctorToken}, http.StatusOK, `"role":"doctor"`},
		{"patient token in doctor header", map[string]string{constants.HeaderDoctorToken: patientToken}, http.StatusUnauthorized, `"code":"INVALID_TOKEN"`},
		{"doctor token in patient header", map[string]string{constants.HeaderPatientToken: doctorToken}, http.StatusUnauthorized, `"code":"INVALID_TOKEN"`},
		{"both headers", map[string]string{constants.HeaderPatientToken: patientToken, constants.HeaderDoctorToken: doctorToken}, http.StatusUnauthorized, `"code":"UNAUTHORIZED"`},
		{"bearer is not accepted", map[string]string{"Authorization": "Bearer " + patientToken}, http.StatusUnauthorized, `"code":"UNAUTHORIZED"`},
		{"garbage", map[string]string{constants.HeaderPatientToken: "not-a-jwt"}, http.StatusUnauthorized, `"code":"INVALID_TOKEN"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestWebSocketAuthMiddleware_QueryParameter(t *testing.T) {
	auth, _, doctors := newTestAuthenticator(nil)
	doctorToken, err := doctors.GenerateAccessToken(uuid.New(), "")
	require.NoError(t, err)

	wsRouter := newAuthRouter(WebSocketAuthMiddleware(auth))
	req := httptest.NewRequest(http.MethodGet, "/whoami?dtoken="+doctorToken, nil)
	w := httptest.NewRecorder()
	wsRouter.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"role":"doctor"`)

	// Plain API routes ignore query credentials
	apiRouter := newAuthRouter(AuthMiddleware(auth))
	w = httptest.NewRecorder()
	apiRouter.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami?dtoken="+doctorToken, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticator_Revocation(t *testing.T) {
	_, patients, _ := newTestAuthenticator(nil)
	token, err := patients.GenerateAccessToken(uuid.New(), "")
	require.NoError(t, err)
	tokenID, err := jwt.TokenID(token)
	require.NoError(t, err)

	revoked, _, _ := newTestAuthenticator(&stubRevocation{revoked: map[string]bool{tokenID: true}})
	_, _, err = revoked.Resolve(context.Background(), token, "")
	assert.ErrorIs(t, err, errRevoked)

	// Fail open when the deny-list is unreachable
	down, _, _ := newTestAuthenticator(&stubRevocation{err: errors.New("connection refused")})
	identity, gotID, err := down.Resolve(context.Background(), token, "")
	require.NoError(t, err)
	assert.Equal(t, domain.RolePatient, identity.Role)
	assert.Equal(t, tokenID, gotID)
}

func TestAuthenticator_NoCredentials(t *testing.T) {
	auth, _, _ := newTestAuthenticator(nil)
	_, _, err := auth.Resolve(context.Background(), "", "")
	assert.ErrorIs(t, err, errNoCredentials)
}
