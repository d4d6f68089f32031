package stubapi_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/delta-auth/internal/api"
	"github.com/and161185/delta-auth/internal/errs"
	"github.com/and161185/delta-auth/internal/flow"
	"github.com/and161185/delta-auth/internal/limiter"
	"github.com/and161185/delta-auth/internal/model"
	"github.com/and161185/delta-auth/internal/repository"
	"github.com/and161185/delta-auth/internal/session"
	"github.com/and161185/delta-auth/internal/storage"
	"github.com/and161185/delta-auth/internal/stubapi"
)

type harness struct {
	svc    *stubapi.Service
	client *api.Client
	disk   *storage.Memory
	store  *session.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	svc := stubapi.NewService(repository.NewMemoryUsers(), stubapi.Config{SignKey: []byte("e2e")},
		limiter.NewMemory(time.Minute, 5, time.Minute), log)
	srv := httptest.NewServer(stubapi.NewHandler(svc, log, nil))
	t.Cleanup(srv.Close)

	h := &harness{svc: svc, client: api.New(srv.URL+"/api", api.WithLogger(log)), disk: storage.NewMemory()}
	h.store = session.New(context.Background(), h.client, session.WithStorage(h.disk), session.WithLogger(log))
	t.Cleanup(h.store.Close)
	return h
}

func (h *harness) registerThroughFlow(t *testing.T, ctx context.Context) flow.Result {
	t.Helper()
	c := flow.New(h.store)
	require.NoError(t, c.SwitchTo(flow.StepRegister))

	inputs := []flow.Input{
		flow.RegisterInput{FirstName: "Ada", LastName: "Lovelace", Username: "ada_l", AgreeToTerms: true},
		flow.DateOfBirthInput{Day: "10", Month: "12", Year: "1990"},
		flow.CreateAccountInput{Phone: "+1 555 123 4567", Email: "Mail@ABC.com"},
		flow.VerifyCodeInput{Code: "123456"},
		flow.CreatePasswordInput{Password: "Abc123!@", ConfirmPassword: "Abc123!@"},
	}
	var res flow.Result
	for _, in := range inputs {
		var err error
		res, err = c.Submit(ctx, in)
		require.NoError(t, err, "step %s", in.Step())
	}
	require.True(t, res.Closed)
	require.True(t, c.Draft().Empty())
	return res
}

func TestE2E_RegistrationWalk(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res := h.registerThroughFlow(t, ctx)
	require.NotNil(t, res.User)
	require.Equal(t, "mail@abc.com", res.User.Email)

	snap := h.store.Snapshot()
	require.True(t, snap.IsAuthenticated())
	require.True(t, snap.Persisted)
	require.WithinDuration(t, time.Now().Add(stubapi.DefaultAccessTTL), snap.ExpiresAt, time.Minute)

	persisted, err := storage.LoadSession(ctx, h.disk)
	require.NoError(t, err)
	require.Equal(t, snap.AccessToken, persisted.Token)

	// a second store over the same storage restores the session
	again := session.New(ctx, h.client, session.WithStorage(h.disk))
	defer again.Close()
	require.Equal(t, snap.User.ID, again.Snapshot().User.ID)
}

func TestE2E_LoginRememberAndLogout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.registerThroughFlow(t, ctx)
	h.store.Logout(ctx)
	require.False(t, h.store.IsAuthenticated())

	c := flow.New(h.store)
	res, err := c.Submit(ctx, flow.LoginInput{Email: "mail@abc.com", Password: "Abc123!@", RememberMe: true})
	require.NoError(t, err)
	require.True(t, res.Closed)

	sess, err := storage.LoadSession(ctx, h.disk)
	require.NoError(t, err)
	token := sess.Token
	require.Equal(t, h.store.Snapshot().AccessToken, token)

	h.store.Logout(ctx)
	_, err = storage.LoadSession(ctx, h.disk)
	require.ErrorIs(t, err, errs.ErrNotFound)

	// the server revoked the token
	err = h.client.ChangePassword(ctx, token, "Abc123!@", "Xyz789!@")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestE2E_LoginWithoutRememberMe(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.registerThroughFlow(t, ctx)

	require.NoError(t, h.store.Login(ctx, model.LoginCredentials{Email: "mail@abc.com", Password: "Abc123!@"}))
	require.True(t, h.store.IsAuthenticated())
	require.False(t, h.store.Snapshot().Persisted)
	require.Equal(t, 0, h.disk.Len())
}

func TestE2E_WrongPasswordKeepsFlowOpen(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.registerThroughFlow(t, ctx)
	h.store.Logout(ctx)

	c := flow.New(h.store)
	_, err := c.Submit(ctx, flow.LoginInput{Email: "mail@abc.com", Password: "nope"})
	require.ErrorIs(t, err, errs.ErrInvalidCredentials)
	st := c.State()
	require.Equal(t, flow.StepLogin, st.Current)
	require.False(t, st.Closed)
	require.NotEmpty(t, st.LastError)
	require.False(t, h.store.IsAuthenticated())
}

func TestE2E_RecoveryWalk(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.registerThroughFlow(t, ctx)
	h.store.Logout(ctx)

	c := flow.New(h.store)
	require.NoError(t, c.SwitchTo(flow.StepForgotPassword))
	_, err := c.Submit(ctx, flow.ForgotPasswordInput{Email: "mail@abc.com"})
	require.NoError(t, err)

	code, ok := h.svc.PendingResetCode("mail@abc.com")
	require.True(t, ok)
	_, err = c.Submit(ctx, flow.VerifyCodeInput{Code: code})
	require.NoError(t, err)
	res, err := c.Submit(ctx, flow.CreatePasswordInput{Password: "Fresh1!x", ConfirmPassword: "Fresh1!x"})
	require.NoError(t, err)
	require.True(t, res.Closed)
	require.Nil(t, res.User)

	require.NoError(t, h.store.Login(ctx, model.LoginCredentials{Email: "mail@abc.com", Password: "Fresh1!x"}))
}

func TestE2E_RefreshAndAccountOps(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.registerThroughFlow(t, ctx)
	before := h.store.Snapshot()

	require.NoError(t, h.store.Refresh(ctx))
	after := h.store.Snapshot()
	require.NotEqual(t, before.RefreshToken, after.RefreshToken)
	sess, err := storage.LoadSession(ctx, h.disk)
	require.NoError(t, err)
	require.Equal(t, after.RefreshToken, sess.RefreshToken)

	name := "Augusta"
	require.NoError(t, h.store.UpdateProfile(ctx, model.ProfileUpdate{FirstName: &name}))
	require.Equal(t, "Augusta", h.store.Snapshot().User.FirstName)

	require.NoError(t, h.store.SendVerificationEmail(ctx))
	code, ok := h.svc.PendingVerificationCode(after.User.ID)
	require.True(t, ok)
	require.NoError(t, h.store.VerifyEmail(ctx, code))
	require.True(t, h.store.Snapshot().User.IsEmailVerified)

	require.NoError(t, h.store.ChangePassword(ctx, "Abc123!@", "Xyz789!@"))
	require.NoError(t, h.store.DeleteAccount(ctx))
	require.False(t, h.store.IsAuthenticated())
	require.Equal(t, 0, h.disk.Len())
}
