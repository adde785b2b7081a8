package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"tokoretur/backend/internal/domain"
)

var (
	errInvalidCredentials      = errors.New("these credentials do not match our records")
	errCurrentPasswordMismatch = errors.New("your current password doesn't match our records")
	errWeakPassword            = errors.New("new password must be at least 8 characters")
)

// UserStore is the slice of the repository the auth boundary needs.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, email string, passwordHash string) error
}

// AuthManager issues and verifies the HS256 bearer tokens that guard the
// refund endpoints. Credentials live in the user store; nothing is cached.
type AuthManager struct {
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	return &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || strings.TrimSpace(req.Password) == "" {
		return domain.LoginResponse{}, errInvalidCredentials
	}

	user, err := a.userStore.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !verifyPassword(user.Password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(email, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &jwtlib.RegisteredClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{Email: sub}, nil
}

// ChangePassword verifies the actor's current password before persisting a
// bcrypt hash of the new one.
func (a *AuthManager) ChangePassword(ctx context.Context, actor domain.Actor, req domain.ChangePasswordRequest) error {
	user, err := a.userStore.GetUserByEmail(ctx, actor.Email)
	if err != nil {
		return err
	}
	if !verifyPassword(user.Password, req.CurrentPassword) {
		return errCurrentPasswordMismatch
	}
	if len(strings.TrimSpace(req.NewPassword)) < 8 {
		return errWeakPassword
	}

	hash, err := hashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	return a.userStore.UpdateUserPassword(ctx, actor.Email, hash)
}

func (a *AuthManager) sign(email string, expiresAt time.Time) (string, error) {
	claims := jwtlib.RegisteredClaims{
		Subject:   email,
		IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
		ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		Issuer:    "tokoretur",
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
