package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/studio-b12/gowebdav"

	"github.com/vonshlovens/datashelf/internal/creds"
)

// WebDAV talks to a WebDAV endpoint over HTTPS with Basic auth. Listing
// maps to a single depth-1 PROPFIND; content moves via GET/PUT/DELETE.
type WebDAV struct {
	client    *gowebdav.Client
	library   string
	retries   int
	baseDelay time.Duration
}

// WebDAVOptions tune retry behavior for idempotent calls.
type WebDAVOptions struct {
	Timeout     time.Duration
	ReadRetries int
	BaseDelay   time.Duration
}

// NewWebDAV creates a WebDAV storage client rooted at endpoint/library.
// Plain http endpoints are rejected here, before any network call.
func NewWebDAV(endpoint, library, username, secret string, opts WebDAVOptions) (*WebDAV, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "https" {
		return nil, fmt.Errorf("endpoint %q: only https is supported", endpoint)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.ReadRetries <= 0 {
		opts.ReadRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}

	// Preemptive auth: credentials ride every request, so the client never
	// negotiates and re-sends. A negotiation redo would replay a PUT, which
	// must stay a single attempt.
	auth := gowebdav.NewPreemptiveAuth(&basicAuth{username: username, secret: secret})
	client := gowebdav.NewAuthClient(endpoint, auth)
	client.SetTimeout(opts.Timeout)

	return &WebDAV{
		client:    client,
		library:   library,
		retries:   opts.ReadRetries,
		baseDelay: opts.BaseDelay,
	}, nil
}

// basicAuth sets Basic credentials on each outgoing request. gowebdav's
// own BasicAuth type keeps its fields unexported, so it cannot be handed
// to NewPreemptiveAuth directly.
type basicAuth struct {
	username string
	secret   string
}

func (a *basicAuth) Authorize(_ *http.Client, rq *http.Request, _ string) error {
	rq.SetBasicAuth(a.username, a.secret)
	return nil
}

func (a *basicAuth) Verify(*http.Client, *http.Response, string) (bool, error) {
	return false, nil
}

func (a *basicAuth) Clone() gowebdav.Authenticator { return a }

func (a *basicAuth) Close() error { return nil }

// EnsureLibrary creates the library collection if it does not exist.
func (w *WebDAV) EnsureLibrary(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.client.MkdirAll(w.library, 0755); err != nil {
		return w.classify("mkdir", w.library, err)
	}
	return nil
}

// List returns the names and modification times of all objects in dir,
// from one batched PROPFIND.
func (w *WebDAV) List(ctx context.Context, dir string) ([]Entry, error) {
	full := path.Join(w.library, dir)

	var entries []Entry
	err := w.withReadRetry(ctx, "list", full, func() error {
		infos, err := w.client.ReadDir(full)
		if err != nil {
			return err
		}
		entries = entries[:0]
		for _, info := range infos {
			if info.IsDir() {
				continue
			}
			entries = append(entries, Entry{
				Name:    info.Name(),
				ModTime: info.ModTime(),
				Size:    info.Size(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Read fetches the content of one object.
func (w *WebDAV) Read(ctx context.Context, name string) ([]byte, error) {
	full := path.Join(w.library, name)

	var data []byte
	err := w.withReadRetry(ctx, "read", full, func() error {
		var err error
		data, err = w.client.Read(full)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Write uploads one object. Never retried here: a duplicate PUT racing a
// slow first attempt is exactly the failure mode the outbox exists to
// avoid.
func (w *WebDAV) Write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := path.Join(w.library, name)
	if err := w.client.Write(full, data, 0644); err != nil {
		return w.classify("write", full, err)
	}
	return nil
}

// Delete removes one object. Deleting an absent object is a no-op.
func (w *WebDAV) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := path.Join(w.library, name)
	if err := w.client.Remove(full); err != nil {
		err = w.classify("delete", full, err)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// withReadRetry runs an idempotent call with bounded exponential backoff
// on transient errors.
func (w *WebDAV) withReadRetry(ctx context.Context, op, full string, fn func() error) error {
	backoff := retry.WithMaxRetries(uint64(w.retries), retry.NewExponential(w.baseDelay))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempt++

		err := fn()
		if err == nil {
			return nil
		}

		err = w.classify(op, full, err)
		var netErr *NetworkError
		if errors.As(err, &netErr) {
			slog.Debug("transient remote error, will retry",
				"op", op, "path", full, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

// classify maps transport errors onto the error taxonomy: 404 not-found,
// 401 credential, 403 permission, everything transient-looking network.
func (w *WebDAV) classify(op, full string, err error) error {
	switch {
	case gowebdav.IsErrNotFound(err):
		return fmt.Errorf("%s %q: %w", op, full, ErrNotFound)
	case gowebdav.IsErrCode(err, http.StatusUnauthorized):
		return &creds.CredentialError{Reason: "remote rejected credentials", Err: err}
	case gowebdav.IsErrCode(err, http.StatusForbidden):
		return &PermissionError{Op: op, Path: full, Err: err}
	}

	var statusErr gowebdav.StatusError
	if errors.As(err, &statusErr) && statusErr.Status < 500 {
		// Remaining 4xx are neither transient nor permission problems;
		// treat them as terminal.
		return &PermissionError{Op: op, Path: full, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &NetworkError{Op: op, Path: full, Err: err}
	}

	// 5xx, connection refused, DNS failures and the like.
	return &NetworkError{Op: op, Path: full, Err: err}
}
