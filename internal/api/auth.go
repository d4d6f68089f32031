package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/and161185/delta-auth/internal/model"
)

// Login exchanges credentials for a session.
func (c *Client) Login(ctx context.Context, creds model.LoginCredentials) (*model.AuthResponse, error) {
	var out model.AuthResponse
	err := c.do(ctx, call{method: http.MethodPost, path: "/auth/login", body: creds, result: &out, credentials: true})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account and returns its first session.
func (c *Client) Register(ctx context.Context, data model.RegisterData) (*model.AuthResponse, error) {
	var out model.AuthResponse
	err := c.do(ctx, call{method: http.MethodPost, path: "/auth/register", body: data, result: &out, credentials: true})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout revokes the access token server side.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, call{method: http.MethodPost, path: "/auth/logout", token: token})
}

// Refresh trades a refresh token for a new session.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*model.AuthResponse, error) {
	var out model.AuthResponse
	body := map[string]string{"refreshToken": refreshToken}
	if err := c.do(ctx, call{method: http.MethodPost, path: "/auth/refresh", body: body, result: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// ForgotPassword asks the API to email recovery instructions.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.do(ctx, call{method: http.MethodPost, path: "/auth/forgot-password", body: map[string]string{"email": email}})
}

// ResetPassword completes recovery with the token (or code) sent by email.
func (c *Client) ResetPassword(ctx context.Context, resetToken, password string) error {
	body := map[string]string{"token": resetToken, "password": password}
	return c.do(ctx, call{method: http.MethodPost, path: "/auth/reset-password", body: body})
}

// ChangePassword replaces the password of the token's user.
func (c *Client) ChangePassword(ctx context.Context, token, current, next string) error {
	body := map[string]string{"currentPassword": current, "newPassword": next}
	return c.do(ctx, call{method: http.MethodPost, path: "/auth/change-password", token: token, body: body})
}

// UpdateProfile sends a partial update and returns the server's copy of the user.
func (c *Client) UpdateProfile(ctx context.Context, token string, upd model.ProfileUpdate) (*model.User, error) {
	var out struct {
		User model.User `json:"user"`
	}
	if err := c.do(ctx, call{method: http.MethodPut, path: "/auth/profile", token: token, body: upd, result: &out}); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// DeleteAccount removes the token's account.
func (c *Client) DeleteAccount(ctx context.Context, token string) error {
	return c.do(ctx, call{method: http.MethodDelete, path: "/auth/account", token: token})
}

// SendVerificationEmail asks the API to email a verification code.
func (c *Client) SendVerificationEmail(ctx context.Context, token string) error {
	return c.do(ctx, call{method: http.MethodPost, path: "/auth/send-verification-email", token: token})
}

// VerifyEmail confirms the address using the emailed verification token.
func (c *Client) VerifyEmail(ctx context.Context, token, verification string) error {
	body := map[string]string{"token": verification}
	return c.do(ctx, call{method: http.MethodPost, path: "/auth/verify-email", token: token, body: body})
}

// SocialLogin exchanges a provider access token for a session.
func (c *Client) SocialLogin(ctx context.Context, provider, providerToken string) (*model.AuthResponse, error) {
	var out model.AuthResponse
	body := map[string]string{"accessToken": providerToken}
	path := "/auth/social/" + url.PathEscape(provider)
	if err := c.do(ctx, call{method: http.MethodPost, path: path, body: body, result: &out, credentials: true}); err != nil {
		return nil, err
	}
	return &out, nil
}
