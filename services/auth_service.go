package services

import (
	"errors"
	"log"
	"strings"
	"time"

	"plane-wars-server/models"
	"plane-wars-server/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const tokenTTL = 24 * time.Hour

type AuthService struct {
	DB     *gorm.DB
	secret []byte
}

func NewAuthService(db *gorm.DB, secret string) *AuthService {
	return &AuthService{DB: db, secret: []byte(secret)}
}

// Claims carried in every bearer token. Username is embedded so the
// websocket layer never needs a user lookup just to label a connection.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Register creates an account with a bcrypt-hashed password.
func (s *AuthService) Register(username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(password) < 6 {
		return nil, utils.NewCodedError(utils.CodeValidation, "username required and password must be at least 6 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
	}
	if err := s.DB.Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(strings.ToLower(err.Error()), "unique") {
			return nil, utils.NewCodedError(utils.CodeUsernameTaken, "username already exists")
		}
		return nil, err
	}

	log.Printf("[AUTH] Registered user %s (%s)", user.Username, user.ID)
	return user, nil
}

// Login verifies credentials and issues a signed HS256 token.
func (s *AuthService) Login(username, password string) (string, *models.User, error) {
	var user models.User
	if err := s.DB.First(&user, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, utils.NewCodedError(utils.CodeInvalidCredentials, "invalid credentials")
		}
		return "", nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", nil, utils.NewCodedError(utils.CodeInvalidCredentials, "invalid credentials")
	}

	token, err := s.IssueToken(&user)
	if err != nil {
		return "", nil, err
	}
	return token, &user, nil
}

// IssueToken signs a fresh bearer token for the user.
func (s *AuthService) IssueToken(user *models.User) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "plane-wars-server",
		},
	})
	return tok.SignedString(s.secret)
}

// ParseToken validates the signature and expiry and returns the claims.
// Expired tokens come back as TOKEN_EXPIRED, never silently ignored.
func (s *AuthService) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, utils.NewCodedError(utils.CodeTokenExpired, "token expired")
		}
		return nil, utils.NewCodedError(utils.CodeUnauthorized, "invalid token")
	}
	if !tok.Valid || claims.UserID == "" {
		return nil, utils.NewCodedError(utils.CodeUnauthorized, "invalid token")
	}
	return claims, nil
}
