// Package social signs users in through third-party identity providers using
// the OAuth2 authorization code flow with PKCE and a loopback redirect.
package social

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/and161185/delta-auth/internal/errs"
	"github.com/and161185/delta-auth/internal/model"
)

// Supported provider names.
const (
	ProviderGoogle   = "google"
	ProviderApple    = "apple"
	ProviderGitHub   = "github"
	ProviderFacebook = "facebook"
)

// DefaultCallbackTimeout bounds how long Authenticate waits for the browser.
const DefaultCallbackTimeout = 5 * time.Minute

var appleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://appleid.apple.com/auth/authorize",
	TokenURL: "https://appleid.apple.com/auth/token",
}

// Endpoints are the well known provider endpoints.
var Endpoints = map[string]oauth2.Endpoint{
	ProviderGoogle:   google.Endpoint,
	ProviderApple:    appleEndpoint,
	ProviderGitHub:   github.Endpoint,
	ProviderFacebook: facebook.Endpoint,
}

var defaultScopes = map[string][]string{
	ProviderGoogle:   {"openid", "email", "profile"},
	ProviderGitHub:   {"read:user", "user:email"},
	ProviderFacebook: {"email", "public_profile"},
}

// ProviderConfig holds the client registration for one provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectPort int      // loopback port registered with the provider, 0 picks a free one
	Scopes       []string // optional, provider defaults otherwise
}

// Exchanger trades a provider access token for an auth API session.
// *api.Client implements it.
type Exchanger interface {
	SocialLogin(ctx context.Context, provider, providerToken string) (*model.AuthResponse, error)
}

type provider struct {
	name string
	cfg  oauth2.Config
	port int
}

// Registry holds the configured providers.
type Registry struct {
	providers       map[string]*provider
	exchanger       Exchanger
	open            func(url string) error
	log             *zap.Logger
	callbackTimeout time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithOpener sets how the authorization URL is shown to the user.
func WithOpener(open func(url string) error) Option {
	return func(r *Registry) { r.open = open }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithCallbackTimeout overrides DefaultCallbackTimeout.
func WithCallbackTimeout(d time.Duration) Option {
	return func(r *Registry) { r.callbackTimeout = d }
}

// WithEndpoint overrides the endpoint of a provider.
func WithEndpoint(name string, ep oauth2.Endpoint) Option {
	return func(r *Registry) {
		if p, ok := r.providers[name]; ok {
			p.cfg.Endpoint = ep
		}
	}
}

// PrintURL returns an opener that asks the user to visit the URL.
func PrintURL(w io.Writer) func(string) error {
	return func(url string) error {
		_, err := fmt.Fprintf(w, "Open this URL in your browser to continue:\n\n  %s\n\n", url)
		return err
	}
}

// NewRegistry builds a registry from provider configs keyed by provider name.
// Entries without a client id, or with an unknown name, are skipped.
func NewRegistry(cfgs map[string]ProviderConfig, ex Exchanger, opts ...Option) *Registry {
	r := &Registry{
		providers:       map[string]*provider{},
		exchanger:       ex,
		open:            PrintURL(os.Stderr),
		log:             zap.NewNop(),
		callbackTimeout: DefaultCallbackTimeout,
	}
	for name, pc := range cfgs {
		name = strings.ToLower(name)
		ep, ok := Endpoints[name]
		if !ok || pc.ClientID == "" {
			continue
		}
		scopes := pc.Scopes
		if len(scopes) == 0 {
			scopes = defaultScopes[name]
		}
		r.providers[name] = &provider{
			name: name,
			port: pc.RedirectPort,
			cfg: oauth2.Config{
				ClientID:     pc.ClientID,
				ClientSecret: pc.ClientSecret,
				Endpoint:     ep,
				Scopes:       scopes,
			},
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Providers returns the configured provider names, sorted.
func (r *Registry) Providers() []string {
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Authenticate runs the browser sign-in for name and exchanges the provider
// token for an auth API session.
func (r *Registry) Authenticate(ctx context.Context, name string) (*model.AuthResponse, error) {
	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, errs.Validation("provider", fmt.Sprintf("%s sign-in is not configured", name))
	}
	tok, err := r.authorize(ctx, p)
	if err != nil {
		return nil, err
	}
	r.log.Debug("provider token obtained", zap.String("provider", p.name))
	return r.exchanger.SocialLogin(ctx, p.name, tok.AccessToken)
}
