package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/delta-auth/internal/errs"
	"github.com/and161185/delta-auth/internal/model"
)

const (
	headerContentType = "Content-Type"
	headerAuth        = "Authorization"
	headerRequestID   = "X-Request-ID"
	contentTypeJSON   = "application/json"
)

// call describes one API request.
type call struct {
	method string
	path   string
	token  string // bearer token, optional
	body   any
	result any
	// credentials marks login/register, where 401 means wrong credentials
	// rather than an expired session.
	credentials bool
}

func (c *Client) do(ctx context.Context, cl call) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return networkError(err)
		}
	}

	reqURL := strings.TrimRight(c.baseURL, "/") + cl.path

	var bodyReader io.Reader
	if cl.body != nil {
		b, err := json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("api: marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, reqURL, bodyReader)
	if err != nil {
		return fmt.Errorf("api: create request: %w", err)
	}
	reqID := uuid.Must(uuid.NewV4()).String()
	req.Header.Set(headerContentType, contentTypeJSON)
	req.Header.Set(headerRequestID, reqID)
	if cl.token != "" {
		req.Header.Set(headerAuth, "Bearer "+cl.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug("api request failed",
			zap.String("method", cl.method), zap.String("path", cl.path),
			zap.String("request_id", reqID), zap.Error(err))
		return networkError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(err)
	}
	c.log.Debug("api request",
		zap.String("method", cl.method), zap.String("path", cl.path),
		zap.Int("status", resp.StatusCode), zap.Duration("took", time.Since(start)),
		zap.String("request_id", reqID))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseError(resp.StatusCode, respBody, cl.credentials)
	}
	if cl.result != nil {
		if len(bytes.TrimSpace(respBody)) == 0 {
			return networkError(errors.New("empty response body"))
		}
		if err := json.Unmarshal(respBody, cl.result); err != nil {
			return networkError(fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

func networkError(err error) *errs.AuthError {
	msg := "Unable to reach the authentication server"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "The authentication server did not respond in time"
	}
	return &errs.AuthError{Kind: errs.KindNetwork, Message: msg, Err: errors.Join(errs.ErrNetwork, err)}
}

// parseError maps a non-2xx response to an AuthError.
func parseError(status int, body []byte, credentials bool) *errs.AuthError {
	var apiErr model.APIError
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Message
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status))
	}

	ae := &errs.AuthError{Message: msg, Field: apiErr.Field, Status: status}
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		ae.Kind = errs.KindValidation
	case status == http.StatusUnauthorized && credentials:
		ae.Kind = errs.KindInvalidCredentials
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		ae.Kind = errs.KindUnauthorized
	default:
		ae.Kind = errs.KindUnknown
	}
	if apiErr.Code != "" {
		ae.Err = fmt.Errorf("api code %s", apiErr.Code)
	}
	return ae
}
