package services

import (
	cryptorand "crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/coinvault/backend/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
)

type AuthService struct {
	credentials CredentialStore
	validator   *ValidationHelper
	logger      *zap.Logger
}

// LoginRequest represents the login request payload
// @Description Login request structure
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email" example:"user@example.com"` // User email address
	Password string `json:"password" validate:"required,min=6" example:"password123"`   // User password
}

// RegisterRequest represents the registration request payload
// @Description Registration request structure
type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email" example:"user@example.com"` // User email address
	Password    string `json:"password" validate:"required,min=6" example:"password123"`   // User password
	DisplayName string `json:"displayName" validate:"required,min=2,max=64" example:"Jane Doe"`
}

// AuthResponse represents the authentication response
// @Description Authentication response structure
type AuthResponse struct {
	Token string      `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."` // JWT token
	User  models.User `json:"user"`                                                    // User information
}

func NewAuthService(credentials CredentialStore, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		credentials: credentials,
		validator:   NewValidationHelper(),
		logger:      logger.With(zap.String("component", "auth")),
	}
}

// Register handles user registration
// @Summary Register a new user
// @Description Register a new user and open an empty wallet account
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration request"
// @Success 201 {object} AuthResponse "Registration successful"
// @Failure 400 {object} ErrorResponse "Invalid request"
// @Failure 409 {object} ErrorResponse "Email already exists"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /auth/register [post]
func (s *AuthService) Register(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("registration attempt", zap.String("remote_addr", r.RemoteAddr))

	var req RegisterRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.logger.Debug("registration failed, invalid request", zap.Error(err))
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := s.credentials.FindCredentials(r.Context(), email); err == nil {
		SendErrorResponse(w, "Email Already Exists", http.StatusConflict, nil)
		return
	} else if !errors.Is(err, models.ErrAccountNotFound) {
		s.logger.Error("credential lookup failed", zap.Error(err))
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	hashedPassword, err := hashPassword(req.Password)
	if err != nil {
		s.logger.Error("password hashing failed", zap.Error(err))
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	account := &models.Account{
		ID:           generateAccountID(),
		DisplayName:  strings.TrimSpace(req.DisplayName),
		Email:        email,
		Assets:       models.Assets{},
		Transactions: models.Ledger{},
	}

	if err := s.credentials.CreateAccount(r.Context(), account, hashedPassword); err != nil {
		s.logger.Warn("account creation failed", zap.String("email", email), zap.Error(err))
		SendErrorResponse(w, "Email Already Exists", http.StatusConflict, nil)
		return
	}

	token, err := generateJWT(account.ID)
	if err != nil {
		s.logger.Error("jwt generation failed", zap.String("account_id", account.ID), zap.Error(err))
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	s.logger.Info("account registered", zap.String("account_id", account.ID))
	writeJSON(w, http.StatusCreated, AuthResponse{
		Token: token,
		User:  models.User{AccountID: account.ID, Email: account.Email, DisplayName: account.DisplayName},
	})
}

// Login handles user authentication
// @Summary Login user
// @Description Authenticate user with email and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} AuthResponse "Login successful"
// @Failure 400 {object} ErrorResponse "Invalid request"
// @Failure 401 {object} ErrorResponse "Invalid credentials"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /auth/login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	creds, err := s.credentials.FindCredentials(r.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, models.ErrAccountNotFound) {
			s.logger.Error("credential lookup failed", zap.Error(err))
		}
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	if !verifyPassword(req.Password, creds.PasswordHash) {
		s.logger.Info("invalid password", zap.String("account_id", creds.AccountID))
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	token, err := generateJWT(creds.AccountID)
	if err != nil {
		s.logger.Error("jwt generation failed", zap.String("account_id", creds.AccountID), zap.Error(err))
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	s.logger.Info("login successful", zap.String("account_id", creds.AccountID))
	writeJSON(w, http.StatusOK, AuthResponse{
		Token: token,
		User:  models.User{AccountID: creds.AccountID, Email: strings.ToLower(req.Email)},
	})
}

func generateJWT(accountID string) (string, error) {
	expiryHours := viper.GetInt("jwt.expiry_hours")
	if expiryHours <= 0 {
		expiryHours = 24
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": accountID,
		"exp":     time.Now().Add(time.Duration(expiryHours) * time.Hour).Unix(),
	})

	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

type argon2Params struct {
	time      uint32
	memory    uint32
	threads   uint8
	keyLength uint32
	saltLen   int
}

func loadArgon2Params() argon2Params {
	p := argon2Params{time: 1, memory: 64 * 1024, threads: 4, keyLength: 32, saltLen: 16}
	if v := viper.GetInt("argon2.time"); v > 0 {
		p.time = uint32(v)
	}
	if v := viper.GetInt("argon2.memory"); v > 0 {
		p.memory = uint32(v)
	}
	if v := viper.GetInt("argon2.threads"); v > 0 {
		p.threads = uint8(v)
	}
	if v := viper.GetInt("argon2.key_length"); v > 0 {
		p.keyLength = uint32(v)
	}
	if v := viper.GetInt("argon2.salt_length"); v > 0 {
		p.saltLen = v
	}
	return p
}

func hashPassword(password string) (string, error) {
	p := loadArgon2Params()
	salt := make([]byte, p.saltLen)
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, p.keyLength)
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	p := loadArgon2Params()
	computedHash := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, computedHash) == 1
}

// generateAccountID returns a random 10-digit account number
func generateAccountID() string {
	const digits = "0123456789"
	b := make([]byte, 10)
	for i := range b {
		n, err := cryptorand.Int(cryptorand.Reader, big.NewInt(int64(len(digits))))
		if err != nil {
			n = big.NewInt(int64(time.Now().UnixNano() % 10))
		}
		b[i] = digits[n.Int64()]
	}
	return string(b)
}
