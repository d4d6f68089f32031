// Package stubapi is an in-memory implementation of the auth API for local
// development and end-to-end tests.
package stubapi

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/delta-auth/internal/crypto"
	"github.com/and161185/delta-auth/internal/errs"
	"github.com/and161185/delta-auth/internal/limiter"
	"github.com/and161185/delta-auth/internal/model"
	"github.com/and161185/delta-auth/internal/repository"
	"github.com/and161185/delta-auth/internal/validate"
)

// Defaults for Config.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour
	codeTTL           = 15 * time.Minute
)

// SupportedProviders lists the social providers the stub accepts.
var SupportedProviders = []string{"google", "apple", "github", "facebook"}

// Config configures the Service.
type Config struct {
	SignKey    []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type refreshEntry struct {
	userID    string
	expiresAt time.Time
}

type codeEntry struct {
	code      string
	expiresAt time.Time
}

// Service implements the auth API operations.
type Service struct {
	users      repository.UserRepository
	signKey    []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	lim        limiter.Limiter
	log        *zap.Logger
	now        func() time.Time

	mu          sync.Mutex
	refresh     map[string]refreshEntry
	revoked     map[string]time.Time // access token jti -> expiry
	resetCodes  map[string]codeEntry // email -> code
	verifyCodes map[string]codeEntry // user id -> code
}

// NewService constructs a Service. A nil limiter disables login throttling.
func NewService(users repository.UserRepository, cfg Config, lim limiter.Limiter, log *zap.Logger) *Service {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if lim == nil {
		lim = limiter.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		users:       users,
		signKey:     cfg.SignKey,
		accessTTL:   cfg.AccessTTL,
		refreshTTL:  cfg.RefreshTTL,
		lim:         lim,
		log:         log,
		now:         time.Now,
		refresh:     map[string]refreshEntry{},
		revoked:     map[string]time.Time{},
		resetCodes:  map[string]codeEntry{},
		verifyCodes: map[string]codeEntry{},
	}
}

// Register creates an account and signs it in.
func (s *Service) Register(ctx context.Context, d model.RegisterData) (*model.AuthResponse, error) {
	email := validate.NormalizeEmail(d.Email)
	if msg := validate.Email(email); msg != "" {
		return nil, badRequest(validate.FieldEmail, msg)
	}
	if msg := validate.Name("First name", d.FirstName); msg != "" {
		return nil, badRequest(validate.FieldFirstName, msg)
	}
	if msg := validate.Name("Last name", d.LastName); msg != "" {
		return nil, badRequest(validate.FieldLastName, msg)
	}
	if d.Username != "" {
		if msg := validate.Username(d.Username); msg != "" {
			return nil, badRequest(validate.FieldUsername, msg)
		}
	}
	if errs := validate.NewPassword(d.Password, d.ConfirmPassword); len(errs) > 0 {
		return nil, badRequest(validate.FieldPassword, errs[0].Message)
	}
	if msg := validate.AgreeToTerms(d.AgreeToTerms); msg != "" {
		return nil, badRequest(validate.FieldAgreeToTerms, msg)
	}

	hash, err := pkgcrypto.HashPassword(d.Password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	acc := &repository.Account{
		User: model.User{
			ID:        uuid.Must(uuid.NewV4()).String(),
			Email:     email,
			Username:  strings.TrimSpace(d.Username),
			FirstName: strings.TrimSpace(d.FirstName),
			LastName:  strings.TrimSpace(d.LastName),
			Role:      model.RoleStudent,
			CreatedAt: now,
			UpdatedAt: now,
			Preferences: model.Preferences{
				Theme:         "auto",
				Language:      "en",
				Notifications: model.NotificationSettings{Email: true, Marketing: d.AgreeToMarketing},
				Privacy:       model.PrivacySettings{ProfileVisibility: "public"},
			},
		},
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, acc); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			return nil, conflict(validate.FieldEmail, "An account with this email or username already exists")
		}
		return nil, err
	}
	s.log.Info("account registered", zap.String("user_id", acc.User.ID))
	return s.issue(ctx, acc)
}

// Login authenticates with throttling by (email, client address).
func (s *Service) Login(ctx context.Context, creds model.LoginCredentials, remote string) (*model.AuthResponse, error) {
	email := validate.NormalizeEmail(creds.Email)
	if email == "" || creds.Password == "" {
		return nil, badRequest(validate.FieldEmail, "Email and password are required")
	}
	key := limiter.Key(email) + ":" + hostOnly(remote)

	allowed, _, err := s.lim.Allow(ctx, key)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, errRateLimited
	}

	acc, err := s.users.GetByEmail(ctx, email)
	ok := false
	if err == nil {
		ok, _ = pkgcrypto.VerifyPassword(creds.Password, acc.PasswordHash)
	}
	if !ok {
		if blocked, _, ferr := s.lim.Failure(ctx, key); ferr == nil && blocked {
			return nil, errRateLimited
		}
		// unknown email and wrong password look the same
		return nil, errInvalidCredentials
	}
	_ = s.lim.Success(ctx, key)

	now := s.now().UTC()
	acc.User.LastLoginAt = &now
	if err := s.users.Update(ctx, acc); err != nil {
		return nil, err
	}
	return s.issue(ctx, acc)
}

// Refresh rotates a refresh token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*model.AuthResponse, error) {
	s.mu.Lock()
	e, ok := s.refresh[refreshToken]
	delete(s.refresh, refreshToken)
	s.mu.Unlock()
	if !ok || s.now().After(e.expiresAt) {
		return nil, errInvalidRefresh
	}
	acc, err := s.users.GetByID(ctx, e.userID)
	if err != nil {
		return nil, errInvalidRefresh
	}
	return s.issue(ctx, acc)
}

// Logout revokes the access token and every refresh token of its user.
func (s *Service) Logout(_ context.Context, c *Claims) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[c.ID] = c.ExpiresAt.Time
	for tok, e := range s.refresh {
		if e.userID == c.Subject {
			delete(s.refresh, tok)
		}
	}
	return nil
}

// ForgotPassword issues a recovery code. Unknown emails succeed silently.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = validate.NormalizeEmail(email)
	if msg := validate.Email(email); msg != "" {
		return badRequest(validate.FieldEmail, msg)
	}
	if _, err := s.users.GetByEmail(ctx, email); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		return err
	}
	code, err := newCode()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.resetCodes[email] = codeEntry{code: code, expiresAt: s.now().Add(codeTTL)}
	s.mu.Unlock()
	s.log.Info("password reset code issued", zap.String("email_hash", limiter.Key(email)[:12]), zap.String("code", code))
	return nil
}

// ResetPassword sets a new password using a recovery code.
func (s *Service) ResetPassword(ctx context.Context, code, password string) error {
	if strings.TrimSpace(code) == "" {
		return errInvalidCode
	}
	if errs := validate.NewPassword(password, password); len(errs) > 0 {
		return badRequest(validate.FieldPassword, errs[0].Message)
	}
	now := s.now()
	s.mu.Lock()
	var email string
	for e, c := range s.resetCodes {
		if c.code == code && now.Before(c.expiresAt) {
			email = e
			delete(s.resetCodes, e)
			break
		}
	}
	s.mu.Unlock()
	if email == "" {
		return errInvalidCode
	}
	acc, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return errInvalidCode
	}
	return s.setPassword(ctx, acc, password)
}

// ChangePassword replaces the password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, c *Claims, current, next string) error {
	acc, err := s.account(ctx, c)
	if err != nil {
		return err
	}
	if ok, _ := pkgcrypto.VerifyPassword(current, acc.PasswordHash); !ok {
		return badRequest(validate.FieldCurrentPassword, "Current password is incorrect")
	}
	if msg := validate.Password(next); msg != "" {
		return badRequest(validate.FieldNewPassword, msg)
	}
	return s.setPassword(ctx, acc, next)
}

func (s *Service) setPassword(ctx context.Context, acc *repository.Account, password string) error {
	hash, err := pkgcrypto.HashPassword(password)
	if err != nil {
		return err
	}
	acc.PasswordHash = hash
	acc.User.UpdatedAt = s.now().UTC()
	return s.users.Update(ctx, acc)
}

// UpdateProfile merges a partial update into the account.
func (s *Service) UpdateProfile(ctx context.Context, c *Claims, upd model.ProfileUpdate) (*model.User, error) {
	acc, err := s.account(ctx, c)
	if err != nil {
		return nil, err
	}
	if upd.FirstName != nil {
		if msg := validate.Name("First name", *upd.FirstName); msg != "" {
			return nil, badRequest(validate.FieldFirstName, msg)
		}
	}
	if upd.LastName != nil {
		if msg := validate.Name("Last name", *upd.LastName); msg != "" {
			return nil, badRequest(validate.FieldLastName, msg)
		}
	}
	if upd.Username != nil {
		if msg := validate.Username(*upd.Username); msg != "" {
			return nil, badRequest(validate.FieldUsername, msg)
		}
	}
	acc.User = *upd.ApplyTo(&acc.User)
	acc.User.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, acc); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			return nil, conflict(validate.FieldUsername, "This username is already taken")
		}
		return nil, err
	}
	return &acc.User, nil
}

// DeleteAccount removes the account and revokes its tokens.
func (s *Service) DeleteAccount(ctx context.Context, c *Claims) error {
	if err := s.users.Delete(ctx, c.Subject); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errUnauthorized
		}
		return err
	}
	s.log.Info("account deleted", zap.String("user_id", c.Subject))
	return s.Logout(ctx, c)
}

// SendVerificationEmail issues an email verification code.
func (s *Service) SendVerificationEmail(ctx context.Context, c *Claims) error {
	if _, err := s.account(ctx, c); err != nil {
		return err
	}
	code, err := newCode()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.verifyCodes[c.Subject] = codeEntry{code: code, expiresAt: s.now().Add(codeTTL)}
	s.mu.Unlock()
	s.log.Info("verification code issued", zap.String("user_id", c.Subject), zap.String("code", code))
	return nil
}

// VerifyEmail marks the address verified when code matches.
func (s *Service) VerifyEmail(ctx context.Context, c *Claims, code string) error {
	acc, err := s.account(ctx, c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	e, ok := s.verifyCodes[c.Subject]
	if ok && e.code == code && s.now().Before(e.expiresAt) {
		delete(s.verifyCodes, c.Subject)
	} else {
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return errInvalidCode
	}
	acc.User.IsEmailVerified = true
	acc.User.UpdatedAt = s.now().UTC()
	return s.users.Update(ctx, acc)
}

// SocialLogin signs in the account bound to a provider token, creating it on
// first use. The stub trusts the token and derives a stable identity from it.
func (s *Service) SocialLogin(ctx context.Context, provider, accessToken string) (*model.AuthResponse, error) {
	provider = strings.ToLower(provider)
	known := false
	for _, p := range SupportedProviders {
		known = known || p == provider
	}
	if !known {
		return nil, badRequest("provider", fmt.Sprintf("Unsupported provider %q", provider))
	}
	if accessToken == "" {
		return nil, errInvalidCredentials
	}
	sum := sha256.Sum256([]byte(provider + ":" + accessToken))
	handle := hex.EncodeToString(sum[:6])
	email := fmt.Sprintf("%s-%s@users.delta.local", provider, handle)

	acc, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, errs.ErrNotFound) {
		now := s.now().UTC()
		acc = &repository.Account{User: model.User{
			ID:              uuid.Must(uuid.NewV4()).String(),
			Email:           email,
			Username:        provider + "_" + handle,
			Role:            model.RoleStudent,
			IsEmailVerified: true,
			CreatedAt:       now,
			UpdatedAt:       now,
		}}
		if err := s.users.Create(ctx, acc); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	return s.issue(ctx, acc)
}

// PendingResetCode returns the outstanding recovery code for email.
func (s *Service) PendingResetCode(email string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.resetCodes[validate.NormalizeEmail(email)]
	return e.code, ok
}

// PendingVerificationCode returns the outstanding email verification code for a user.
func (s *Service) PendingVerificationCode(userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.verifyCodes[userID]
	return e.code, ok
}

func (s *Service) account(ctx context.Context, c *Claims) (*repository.Account, error) {
	acc, err := s.users.GetByID(ctx, c.Subject)
	if err != nil {
		return nil, errUnauthorized
	}
	return acc, nil
}

// issue mints an access token and a fresh refresh token for acc.
func (s *Service) issue(_ context.Context, acc *repository.Account) (*model.AuthResponse, error) {
	access, err := s.issueAccessToken(acc.User.ID)
	if err != nil {
		return nil, err
	}
	refresh := uuid.Must(uuid.NewV4()).String()
	s.mu.Lock()
	s.refresh[refresh] = refreshEntry{userID: acc.User.ID, expiresAt: s.now().Add(s.refreshTTL)}
	s.mu.Unlock()
	return &model.AuthResponse{
		User:         acc.User,
		Token:        access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL / time.Second),
	}, nil
}

// Claims are the access token claims.
type Claims = jwt.RegisteredClaims

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *Service) issueAccessToken(userID string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.Must(uuid.NewV4()).String(),
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
}

// Authenticate verifies an access token and returns its claims.
func (s *Service) Authenticate(token string) (*Claims, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	}, jwt.WithLeeway(30*time.Second), jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return nil, errUnauthorized
	}
	s.mu.Lock()
	_, revoked := s.revoked[claims.ID]
	s.mu.Unlock()
	if revoked {
		return nil, errUnauthorized
	}
	return &claims, nil
}

func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func hostOnly(remote string) string {
	if i := strings.LastIndex(remote, ":"); i > 0 {
		return remote[:i]
	}
	return remote
}
