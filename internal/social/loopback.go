package social

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/and161185/delta-auth/internal/errs"
)

const callbackPath = "/callback"

type callbackResult struct {
	code string
	err  error
}

// authorize runs the code flow against a one-shot loopback server.
func (r *Registry) authorize(ctx context.Context, p *provider) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(p.port)))
	if err != nil {
		return nil, fmt.Errorf("social: listen for callback: %w", err)
	}
	cfg := p.cfg
	cfg.RedirectURL = fmt.Sprintf("http://%s%s", ln.Addr().String(), callbackPath)

	state := uuid.Must(uuid.NewV4()).String()
	verifier := oauth2.GenerateVerifier()
	results := make(chan callbackResult, 1)

	router := chi.NewRouter()
	router.Get(callbackPath, func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if q.Get("state") != state {
			// not ours; keep waiting for the real redirect
			r.log.Warn("ignoring callback with unexpected state")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("Sign-in response did not match the request."))
			return
		}
		var res callbackResult
		switch {
		case q.Get("error") != "":
			res.err = errs.New(errs.KindUnauthorized, "Sign-in was cancelled or denied.")
		case q.Get("code") == "":
			res.err = errs.New(errs.KindUnknown, "Sign-in response is missing the authorization code.")
		default:
			res.code = q.Get("code")
		}
		if res.err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("Sign-in failed. You can close this window."))
		} else {
			_, _ = w.Write([]byte("Signed in. You can close this window and return to the terminal."))
		}
		select {
		case results <- res:
		default:
		}
	})

	srv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Warn("callback server stopped", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))
	if err := r.open(authURL); err != nil {
		return nil, fmt.Errorf("social: open browser: %w", err)
	}

	waitCtx := ctx
	if r.callbackTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, r.callbackTimeout)
		defer cancel()
	}

	var res callbackResult
	select {
	case res = <-results:
	case <-waitCtx.Done():
		return nil, &errs.AuthError{Kind: errs.KindNetwork, Message: "Timed out waiting for sign-in to complete.", Err: waitCtx.Err()}
	}
	if res.err != nil {
		return nil, res.err
	}

	tok, err := cfg.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, &errs.AuthError{Kind: errs.KindNetwork, Message: "Could not complete sign-in with the provider.", Err: err}
	}
	return tok, nil
}
