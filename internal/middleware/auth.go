package middleware

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"consultlink-backend/internal/domain"
	"consultlink-backend/pkg/constants"
	apperrors "consultlink-backend/pkg/errors"
	"consultlink-backend/pkg/jwt"
	"consultlink-backend/pkg/logger"
	"consultlink-backend/pkg/response"
)

// RevocationChecker reports whether a token id has been revoked
type RevocationChecker interface {
	IsTokenRevoked(ctx context.Context, tokenID string) (bool, error)
}

var (
	errNoCredentials        = errors.New("missing credentials")
	errAmbiguousCredentials = errors.New("both patient and doctor credentials supplied")
	errRevoked              = errors.New("token revoked")
)

// Authenticator turns a patient or doctor token into an Identity.
// The header a token arrived in selects the namespace that validates it.
type Authenticator struct {
	patients   *jwt.JWTManager
	doctors    *jwt.JWTManager
	revocation RevocationChecker
}

// NewAuthenticator creates an authenticator. revocation may be nil.
func NewAuthenticator(patients, doctors *jwt.JWTManager, revocation RevocationChecker) *Authenticator {
	return &Authenticator{
		patients:   patients,
		doctors:    doctors,
		revocation: revocation,
	}
}

// Resolve validates exactly one of the two credentials
func (a *Authenticator) Resolve(ctx context.Context, patientToken, doctorToken string) (domain.Identity, string, error) {
	var (
		manager *jwt.JWTManager
		token   string
		build   func(claims *jwt.Claims) domain.Identity
	)

	switch {
	case patientToken != "" && doctorToken != "":
		return domain.Identity{}, "", errAmbiguousCredentials
	case patientToken != "":
		manager, token = a.patients, patientToken
		build = func(claims *jwt.Claims) domain.Identity { return domain.Patient(claims.UserID) }
	case doctorToken != "":
		manager, token = a.doctors, doctorToken
		build = func(claims *jwt.Claims) domain.Identity { return domain.Doctor(claims.UserID) }
	default:
		return domain.Identity{}, "", errNoCredentials
	}

	claims, err := manager.ValidateToken(token)
	if err != nil {
		return domain.Identity{}, "", err
	}

	if a.revocation != nil && claims.ID != "" {
		revoked, err := a.revocation.IsTokenRevoked(ctx, claims.ID)
		if err != nil {
			// Fail open: the signature already checked out
			logger.FromContext(ctx).Warn("Revocation check unavailable",
				zap.String("token_id", claims.ID),
				zap.Error(err))
		} else if revoked {
			return domain.Identity{}, "", errRevoked
		}
	}

	identity := build(claims)
	identity.Name = claims.Name
	return identity, claims.ID, nil
}

// AuthMiddleware authenticates API requests from the token or dtoken header
func AuthMiddleware(a *Authenticator) gin.HandlerFunc {
	return a.handler(false)
}

// WebSocketAuthMiddleware also accepts the credential as a query parameter,
// since browsers cannot set headers on a websocket handshake
func WebSocketAuthMiddleware(a *Authenticator) gin.HandlerFunc {
	return a.handler(true)
}

func (a *Authenticator) handler(allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		patientToken := c.GetHeader(constants.HeaderPatientToken)
		doctorToken := c.GetHeader(constants.HeaderDoctorToken)
		if allowQuery && patientToken == "" && doctorToken == "" {
			patientToken = c.Query(constants.HeaderPatientToken)
			doctorToken = c.Query(constants.HeaderDoctorToken)
		}

		identity, tokenID, err := a.Resolve(c.Request.Context(), patientToken, doctorToken)
		if err != nil {
			var appErr *apperrors.AppError
			switch {
			case errors.Is(err, errNoCredentials):
				appErr = apperrors.UnauthorizedError("Not authorized, login again")
			case errors.Is(err, errAmbiguousCredentials):
				appErr = apperrors.UnauthorizedError("Send either a patient or a doctor token, not both")
			case errors.Is(err, errRevoked):
				appErr = apperrors.InvalidTokenError("Token revoked")
			default:
				appErr = apperrors.InvalidTokenError("Invalid token")
			}
			response.FromError(c, appErr)
			c.Abort()
			return
		}

		c.Set(constants.ContextIdentity, identity)
		c.Set(constants.ContextTokenID, tokenID)
		c.Next()
	}
}

// IdentityFrom returns the identity set by the auth middleware
func IdentityFrom(c *gin.Context) (domain.Identity, bool) {
	value, exists := c.Get(constants.ContextIdentity)
	if !exists {
		return domain.Identity{}, false
	}
	identity, ok := value.(domain.Identity)
	return identity, ok && !identity.IsZero()
}
