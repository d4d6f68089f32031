package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/delta-auth/internal/errs"
	"github.com/and161185/delta-auth/internal/limiter"
	"github.com/and161185/delta-auth/internal/model"
	"github.com/and161185/delta-auth/internal/validate"
)

var errNotAuthenticated = errs.New(errs.KindUnauthorized, "You need to sign in first.")

// Login signs in with email and password. The session is persisted only when
// RememberMe is set; otherwise any stored session is removed. A failed login
// keeps the previous session, if any.
func (s *Store) Login(ctx context.Context, creds model.LoginCredentials) error {
	o, aerr := s.begin()
	if aerr != nil {
		return aerr
	}
	key := limiter.Key(creds.Email)
	ok, retry, err := s.limiter.Allow(ctx, key)
	if err != nil {
		s.log.Warn("login limiter unavailable", zap.Error(err))
	} else if !ok {
		return o.finish(rateLimited(retry), nil)
	}

	resp, err := s.api.Login(ctx, creds)
	if err != nil {
		if errs.KindOf(err) == errs.KindInvalidCredentials {
			if blocked, _, lerr := s.limiter.Failure(ctx, key); lerr != nil {
				s.log.Warn("record login failure", zap.Error(lerr))
			} else if blocked {
				s.log.Info("login locked after repeated failures")
			}
		}
		return o.finish(err, nil)
	}
	if err := s.limiter.Success(ctx, key); err != nil {
		s.log.Warn("reset login limiter", zap.Error(err))
	}

	persisted := false
	o.write(func() {
		if creds.RememberMe {
			persisted = s.persist(ctx, &resp.User, resp.Token, resp.RefreshToken)
		} else {
			s.clearStorage(ctx)
		}
	})
	s.log.Info("signed in", zap.String("user_id", resp.User.ID), zap.Bool("remember", creds.RememberMe))
	return o.finish(nil, s.applyAuth(resp, persisted))
}

func rateLimited(retry time.Duration) *errs.AuthError {
	mins := int(retry.Round(time.Minute) / time.Minute)
	if mins < 1 {
		mins = 1
	}
	return &errs.AuthError{
		Kind:    errs.KindRateLimited,
		Message: fmt.Sprintf("Too many failed attempts. Try again in %d minute(s).", mins),
		Err:     errs.ErrRateLimited,
	}
}

func (s *Store) applyAuth(resp *model.AuthResponse, persisted bool) func(*state) {
	u := resp.User
	exp := tokenExpiry(resp.Token, resp.ExpiresIn, s.now())
	return func(st *state) {
		*st = state{
			user:         &u,
			accessToken:  resp.Token,
			refreshToken: resp.RefreshToken,
			expiresAt:    exp,
			persisted:    persisted,
		}
	}
}

// Register creates an account and signs in. The session is always persisted.
func (s *Store) Register(ctx context.Context, data model.RegisterData) error {
	o, aerr := s.begin()
	if aerr != nil {
		return aerr
	}
	if msg := validate.AgreeToTerms(data.AgreeToTerms); msg != "" {
		return o.finish(errs.Validation(validate.FieldAgreeToTerms, msg), nil)
	}
	resp, err := s.api.Register(ctx, data)
	if err != nil {
		return o.finish(err, nil)
	}
	persisted := false
	o.write(func() { persisted = s.persist(ctx, &resp.User, resp.Token, resp.RefreshToken) })
	s.log.Info("registered", zap.String("user_id", resp.User.ID))
	return o.finish(nil, s.applyAuth(resp, persisted))
}

// LoginWithProvider runs the social sign-in for provider and persists the result.
func (s *Store) LoginWithProvider(ctx context.Context, provider string) error {
	o, aerr := s.begin()
	if aerr != nil {
		return aerr
	}
	if s.social == nil {
		return o.finish(errs.New(errs.KindUnknown, fmt.Sprintf("%s sign-in is not available.", provider)), nil)
	}
	resp, err := s.social.Authenticate(ctx, provider)
	if err != nil {
		return o.finish(err, nil)
	}
	persisted := false
	o.write(func() { persisted = s.persist(ctx, &resp.User, resp.Token, resp.RefreshToken) })
	s.log.Info("signed in with provider", zap.String("provider", provider), zap.String("user_id", resp.User.ID))
	return o.finish(nil, s.applyAuth(resp, persisted))
}

// Logout ends the session. The remote call is best effort; local state and
// storage are always cleared. Calls in flight are discarded.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	token := s.st.accessToken
	s.mu.Unlock()

	if token != "" {
		if err := s.api.Logout(ctx, token); err != nil {
			s.log.Warn("remote logout failed", zap.Error(err))
		}
	}

	s.storeMu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.storeMu.Unlock()
		return
	}
	s.generation++
	s.st = state{}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.clearStorage(ctx)
	s.storeMu.Unlock()
	s.notify(snap)
}

// Refresh renews the tokens. Without a refresh token, or when the API
// rejects it, the session is signed out and the error returned.
func (s *Store) Refresh(ctx context.Context) error {
	o, aerr := s.begin()
	if aerr != nil {
		return aerr
	}
	cur := o.current()
	if cur.refreshToken == "" {
		o.write(func() { s.clearStorage(ctx) })
		return o.finish(errNotAuthenticated, signedOut)
	}
	resp, err := s.api.Refresh(ctx, cur.refreshToken)
	if err != nil {
		s.log.Info("refresh failed, signing out", zap.Error(err))
		o.write(func() { s.clearStorage(ctx) })
		return o.finish(err, signedOut)
	}
	persisted := false
	if cur.persisted {
		o.write(func() { persisted = s.persist(ctx, &resp.User, resp.Token, resp.RefreshToken) })
	}
	return o.finish(nil, s.applyAuth(resp, persisted))
}

// ForgotPassword asks the API to send recovery instructions to email.
func (s *Store) ForgotPassword(ctx context.Context, email string) error {
	o, aerr := s.begin()
	if aerr != nil {
		return aerr
	}
	return o.finish(s.api.ForgotPassword(ctx, email), nil)
}

// ResetPassword sets a new password using a recovery token or code.
func (s *Store) ResetPassword(ctx context.Context, token, password string) error {
	o, aerr := s.begin()
	if aerr != nil {
		return aerr
	}
	return o.finish(s.api.ResetPassword(ctx, token, password), nil)
}

// ChangePassword replaces the password of the signed-in user.
func (s *Store) ChangePassword(ctx context.Context, current, next string) error {
	o, aerr := s.begin()
	if aerr != nil {
		return aerr
	}
	cur := o.current()
	if cur.accessToken == "" {
		return o.finish(errNotAuthenticated, nil)
	}
	return o.finish(s.api.ChangePassword(ctx, cur.accessToken, current, next), nil)
}

// UpdateProfile applies a partial update; the server's copy replaces the user.
func (s *Store) UpdateProfile(ctx context.Context, upd model.ProfileUpdate) error {
	o, aerr := s.begin()
	if aerr != nil {
		return aerr
	}
	cur := o.current()
	if cur.user == nil || cur.accessToken == "" {
		return o.finish(errNotAuthenticated, nil)
	}
	u, err := s.api.UpdateProfile(ctx, cur.accessToken, upd)
	if err != nil {
		return o.finish(err, nil)
	}
	if cur.persisted {
		o.write(func() { s.persist(ctx, u, cur.accessToken, cur.refreshToken) })
	}
	return o.finish(nil, func(st *state) { st.user = u })
}

// SendVerificationEmail asks the API to mail a verification code to the user.
func (s *Store) SendVerificationEmail(ctx context.Context) error {
	o, aerr := s.begin()
	if aerr != nil {
		return aerr
	}
	cur := o.current()
	if cur.accessToken == "" {
		return o.finish(errNotAuthenticated, nil)
	}
	return o.finish(s.api.SendVerificationEmail(ctx, cur.accessToken), nil)
}

// VerifyEmail confirms the address and marks the user verified.
func (s *Store) VerifyEmail(ctx context.Context, token string) error {
	o, aerr := s.begin()
	if aerr != nil {
		return aerr
	}
	cur := o.current()
	if cur.user == nil || cur.accessToken == "" {
		return o.finish(errNotAuthenticated, nil)
	}
	if err := s.api.VerifyEmail(ctx, cur.accessToken, token); err != nil {
		return o.finish(err, nil)
	}
	u := cur.user.Clone()
	u.IsEmailVerified = true
	if cur.persisted {
		o.write(func() { s.persist(ctx, u, cur.accessToken, cur.refreshToken) })
	}
	return o.finish(nil, func(st *state) {
		if st.user != nil {
			st.user.IsEmailVerified = true
		}
	})
}

// DeleteAccount removes the account and signs out on success.
func (s *Store) DeleteAccount(ctx context.Context) error {
	o, aerr := s.begin()
	if aerr != nil {
		return aerr
	}
	cur := o.current()
	if cur.user == nil || cur.accessToken == "" {
		return o.finish(errNotAuthenticated, nil)
	}
	if err := s.api.DeleteAccount(ctx, cur.accessToken); err != nil {
		return o.finish(err, nil)
	}
	o.write(func() { s.clearStorage(ctx) })
	s.log.Info("account deleted", zap.String("user_id", cur.user.ID))
	return o.finish(nil, signedOut)
}
