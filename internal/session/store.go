// Package session holds the authentication state of one client: the signed-in
// user, its tokens and the status of the last operation. It talks to the auth
// API, persists the session and notifies subscribers on every change.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/and161185/delta-auth/internal/errs"
	"github.com/and161185/delta-auth/internal/limiter"
	"github.com/and161185/delta-auth/internal/model"
	"github.com/and161185/delta-auth/internal/storage"
)

// DefaultRefreshInterval is the auto refresh period.
const DefaultRefreshInterval = 15 * time.Minute

// API is the subset of the auth API the store drives. *api.Client implements it.
type API interface {
	Login(ctx context.Context, creds model.LoginCredentials) (*model.AuthResponse, error)
	Register(ctx context.Context, data model.RegisterData) (*model.AuthResponse, error)
	Logout(ctx context.Context, token string) error
	Refresh(ctx context.Context, refreshToken string) (*model.AuthResponse, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, resetToken, password string) error
	ChangePassword(ctx context.Context, token, current, next string) error
	UpdateProfile(ctx context.Context, token string, upd model.ProfileUpdate) (*model.User, error)
	DeleteAccount(ctx context.Context, token string) error
	SendVerificationEmail(ctx context.Context, token string) error
	VerifyEmail(ctx context.Context, token, verification string) error
}

// SocialAuthenticator runs a provider sign-in and returns the resulting session.
type SocialAuthenticator interface {
	Authenticate(ctx context.Context, provider string) (*model.AuthResponse, error)
}

// Snapshot is a read-only copy of the store state.
type Snapshot struct {
	User         *model.User
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	IsLoading    bool
	Err          *errs.AuthError
	Persisted    bool // session is written to storage
}

// IsAuthenticated reports whether a user and both tokens are present.
func (s Snapshot) IsAuthenticated() bool {
	return s.User != nil && s.AccessToken != "" && s.RefreshToken != ""
}

type state struct {
	user         *model.User
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	loading      bool
	err          *errs.AuthError
	persisted    bool
}

// Store is the session state container. Construct with New; safe for concurrent use.
type Store struct {
	api             API
	storage         storage.Storage
	social          SocialAuthenticator
	limiter         limiter.Limiter
	log             *zap.Logger
	refreshInterval time.Duration
	now             func() time.Time

	storeMu    sync.Mutex // serializes storage writes; taken before mu
	mu         sync.Mutex
	st         state
	busy       bool
	generation uint64 // bumped by logout and Close; stale results are dropped
	closed     bool
	done       chan struct{}
	listeners  map[int]func(Snapshot)
	nextID     int
}

// Option configures the store.
type Option func(*Store)

// WithStorage sets the persistence backend. Defaults to storage.NewMemory().
func WithStorage(s storage.Storage) Option { return func(st *Store) { st.storage = s } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithLimiter sets the failed login limiter. Defaults to an in-memory limiter.
func WithLimiter(l limiter.Limiter) Option { return func(s *Store) { s.limiter = l } }

// WithSocial enables LoginWithProvider.
func WithSocial(a SocialAuthenticator) Option { return func(s *Store) { s.social = a } }

// WithRefreshInterval overrides DefaultRefreshInterval.
func WithRefreshInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.refreshInterval = d
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New builds a store and hydrates it from storage. Hydration never fails:
// an incomplete or corrupt persisted session is cleared and the store starts
// unauthenticated.
func New(ctx context.Context, api API, opts ...Option) *Store {
	s := &Store{
		api:             api,
		log:             zap.NewNop(),
		refreshInterval: DefaultRefreshInterval,
		now:             time.Now,
		done:            make(chan struct{}),
		listeners:       map[int]func(Snapshot){},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.storage == nil {
		s.storage = storage.NewMemory()
	}
	if s.limiter == nil {
		s.limiter = limiter.NewMemory(0, 0, 0)
	}
	s.hydrate(ctx)
	return s
}

func (s *Store) hydrate(ctx context.Context) {
	sess, err := storage.LoadSession(ctx, s.storage)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			s.log.Warn("session hydrate failed", zap.Error(err))
		}
		s.clearStorage(ctx)
		return
	}
	var u model.User
	if err := json.Unmarshal([]byte(sess.UserJSON), &u); err != nil {
		s.log.Warn("stored user is corrupt, clearing session", zap.Error(err))
		s.clearStorage(ctx)
		return
	}
	s.st = state{
		user:         &u,
		accessToken:  sess.Token,
		refreshToken: sess.RefreshToken,
		expiresAt:    tokenExpiry(sess.Token, 0, s.now()),
		persisted:    true,
	}
	s.log.Debug("session restored", zap.String("user_id", u.ID))
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		User:         s.st.user.Clone(),
		AccessToken:  s.st.accessToken,
		RefreshToken: s.st.refreshToken,
		ExpiresAt:    s.st.expiresAt,
		IsLoading:    s.st.loading,
		Err:          s.st.err,
		Persisted:    s.st.persisted,
	}
}

// IsAuthenticated reports whether a session is active.
func (s *Store) IsAuthenticated() bool { return s.Snapshot().IsAuthenticated() }

// Subscribe registers fn to be called after every state change. fn runs
// outside the store lock and may call Snapshot.
func (s *Store) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(snap Snapshot) {
	s.mu.Lock()
	fns := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// ClearError drops the last recorded error.
func (s *Store) ClearError() {
	s.mu.Lock()
	if s.closed || s.st.err == nil {
		s.mu.Unlock()
		return
	}
	s.st.err = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

// Close detaches the store: in-flight results are discarded, listeners are
// no longer called and auto refresh stops.
func (s *Store) Close() {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.generation++
	s.listeners = map[int]func(Snapshot){}
	close(s.done)
}

// op is one guarded mutating call.
type op struct {
	s   *Store
	gen uint64
}

// begin marks the store busy. A second concurrent call is rejected without
// touching state.
func (s *Store) begin() (*op, *errs.AuthError) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errs.New(errs.KindUnknown, "session store is closed")
	}
	if s.busy {
		s.mu.Unlock()
		return nil, errs.Normalize(errs.ErrBusy)
	}
	s.busy = true
	s.st.loading = true
	s.st.err = nil
	snap := s.snapshotLocked()
	gen := s.generation
	s.mu.Unlock()
	s.notify(snap)
	return &op{s: s, gen: gen}, nil
}

// current reports the tokens and user at call time.
func (o *op) current() state {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	return o.s.st
}

// write runs fn against storage only while the op is still current. Logout
// and Close hold storeMu while they invalidate, so a stale op never writes
// after them. It reports whether fn ran.
func (o *op) write(fn func()) bool {
	s := o.s
	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	s.mu.Lock()
	stale := s.closed || s.generation != o.gen
	s.mu.Unlock()
	if stale {
		s.log.Debug("skipping storage write of a discarded call")
		return false
	}
	fn()
	return true
}

// finish releases the busy flag, applies mutate when the op is still current
// and records err. It returns err normalized.
func (o *op) finish(err error, mutate func(st *state)) error {
	s := o.s
	ae := errs.Normalize(err)
	s.mu.Lock()
	s.busy = false
	if s.closed || s.generation != o.gen {
		s.mu.Unlock()
		if ae != nil {
			return ae
		}
		return nil
	}
	s.st.loading = false
	if mutate != nil {
		mutate(&s.st)
	}
	if ae != nil {
		s.st.err = ae
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
	if ae != nil {
		return ae
	}
	return nil
}

func (s *Store) clearStorage(ctx context.Context) {
	if err := storage.ClearSession(ctx, s.storage); err != nil {
		s.log.Warn("clear stored session failed", zap.Error(err))
	}
}

// persist writes the session; failures are logged and reported as false.
func (s *Store) persist(ctx context.Context, u *model.User, access, refresh string) bool {
	b, err := json.Marshal(u)
	if err != nil {
		s.log.Warn("encode user failed", zap.Error(err))
		return false
	}
	err = storage.SaveSession(ctx, s.storage, storage.Session{Token: access, RefreshToken: refresh, UserJSON: string(b)})
	if err != nil {
		s.log.Warn("persist session failed", zap.Error(err))
		return false
	}
	return true
}

// tokenExpiry prefers the JWT exp claim and falls back to expiresIn seconds.
func tokenExpiry(token string, expiresIn int64, now time.Time) time.Time {
	var claims jwt.RegisteredClaims
	_, _, err := jwt.NewParser(jwt.WithoutClaimsValidation()).ParseUnverified(token, &claims)
	if err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	if expiresIn > 0 {
		return now.Add(time.Duration(expiresIn) * time.Second)
	}
	return time.Time{}
}

// signedOut resets everything except the last error.
func signedOut(st *state) {
	*st = state{err: st.err}
}
