package session

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"consultlink-backend/internal/domain"
	"consultlink-backend/pkg/constants"
	apperrors "consultlink-backend/pkg/errors"
)

// MockService is a mock implementation of Service
type MockService struct {
	mock.Mock
}

func (m *MockService) CreateOrGetSession(ctx context.Context, appointmentID uuid.UUID, requester domain.Identity) (*domain.Session, error) {
	args := m.Called(ctx, appointmentID, requester)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockService) GetSession(ctx context.Context, appointmentID uuid.UUID, requester domain.Identity) (*domain.Session, error) {
	args := m.Called(ctx, appointmentID, requester)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockService) EndSession(ctx context.Context, appointmentID uuid.UUID, requester domain.Identity) (*domain.Session, error) {
	args := m.Called(ctx, appointmentID, requester)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func setupRouter(svc Service, identity domain.Identity) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(svc)

	router := gin.New()
	api := router.Group("/api/session", func(c *gin.Context) {
		if !identity.IsZero() {
			c.Set(constants.ContextIdentity, identity)
		}
		c.Next()
	})
	api.POST("/create", h.CreateSession)
	api.POST("/end", h.EndSession)
	api.GET("/:appointmentId", h.GetSession)
	return router
}

func post(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateSession(t *testing.T) {
	svc := new(MockService)
	patient := domain.Patient(uuid.New())
	appointmentID := uuid.New()
	svc.On("CreateOrGetSession", mock.Anything, appointmentID, patient).
		Return(&domain.Session{AppointmentID: appointmentID, RoomID: "room_abc", Status: domain.SessionScheduled}, nil)

	w := post(setupRouter(svc, patient), "/api/session/create", `{"appointmentId":"`+appointmentID.String()+`"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"room_id":"room_abc"`)
	assert.Contains(t, w.Body.String(), `"success":true`)
}

func TestCreateSession_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not eligible", apperrors.NotEligibleError("Payment is required"), http.StatusUnprocessableEntity, "NOT_ELIGIBLE"},
		{"unauthorized", apperrors.UnauthorizedError("Not a participant"), http.StatusUnauthorized, "UNAUTHORIZED"},
		{"infrastructure", assert.AnError, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			svc.On("CreateOrGetSession", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)

			w := post(setupRouter(svc, domain.Patient(uuid.New())), "/api/session/create", `{"appointmentId":"`+uuid.NewString()+`"}`)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantCode)
			assert.NotContains(t, w.Body.String(), assert.AnError.Error(), "internal errors are not leaked")
		})
	}
}

func TestCreateSession_Validation(t *testing.T) {
	svc := new(MockService)
	router := setupRouter(svc, domain.Patient(uuid.New()))

	assert.Equal(t, http.StatusBadRequest, post(router, "/api/session/create", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(router, "/api/session/create", `{"appointmentId":"42"}`).Code)
	svc.AssertNotCalled(t, "CreateOrGetSession", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateSession_Unauthenticated(t *testing.T) {
	svc := new(MockService)
	w := post(setupRouter(svc, domain.Identity{}), "/api/session/create", `{"appointmentId":"`+uuid.NewString()+`"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEndSession(t *testing.T) {
	svc := new(MockService)
	doctor := domain.Doctor(uuid.New())
	appointmentID := uuid.New()
	svc.On("EndSession", mock.Anything, appointmentID, doctor).
		Return(&domain.Session{AppointmentID: appointmentID, Status: domain.SessionEnded}, nil)

	w := post(setupRouter(svc, doctor), "/api/session/end", `{"appointmentId":"`+appointmentID.String()+`"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Session ended")
}

func TestEndSession_AlreadyEnded(t *testing.T) {
	svc := new(MockService)
	svc.On("EndSession", mock.Anything, mock.Anything, mock.Anything).Return(nil, apperrors.AlreadyEndedError())

	w := post(setupRouter(svc, domain.Doctor(uuid.New())), "/api/session/end", `{"appointmentId":"`+uuid.NewString()+`"}`)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "ALREADY_ENDED")
}

func TestGetSession(t *testing.T) {
	svc := new(MockService)
	patient := domain.Patient(uuid.New())
	appointmentID := uuid.New()
	svc.On("GetSession", mock.Anything, appointmentID, patient).Return(nil, apperrors.NotFoundError("Session"))

	router := setupRouter(svc, patient)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/session/"+appointmentID.String(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/session/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
