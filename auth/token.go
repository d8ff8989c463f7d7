package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gitlab.com/gridshare/gpu-cloud-service/db"
	"gitlab.com/gridshare/gpu-cloud-service/internal/config"
	"gitlab.com/gridshare/gpu-cloud-service/models"
)

// Rejection reasons, surfaced as stable machine-readable strings so client
// agents can branch on them. The channel close reasons mirror these.
var (
	ErrNoCredential      = errors.New("authentication token required")
	ErrInvalidCredential = errors.New("invalid or expired credential")
	ErrWrongRole         = errors.New("insufficient role")
	ErrNotOwner          = errors.New("not the resource owner")
	ErrInactiveUser      = errors.New("inactive user account")
)

func jwtSecret() []byte {
	return []byte(config.GetConfig().OAuth.JWTSecret)
}

// CreateAccessToken issues a signed bearer credential for a user id. Expiry
// comes from configuration (30 minutes by default).
func CreateAccessToken(userID string) (string, error) {
	expiry := time.Duration(config.GetConfig().OAuth.TokenExpiry) * time.Minute
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret())
}

// VerifyToken validates a bearer credential and returns the subject user id.
func VerifyToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidCredential
		}
		return jwtSecret(), nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidCredential
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidCredential
	}
	return claims.Subject, nil
}

// ResolveUser turns a bearer credential into an active user row. The same
// resolution step serves HTTP requests and channel opens.
func ResolveUser(tokenString string) (*models.User, error) {
	if tokenString == "" {
		return nil, ErrNoCredential
	}
	userID, err := VerifyToken(tokenString)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := db.DB.Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, ErrInvalidCredential
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}
	return &user, nil
}
