package testutil

import (
	"net/http"
	"time"

	"confirmgate/pkg/requestcontext"
)

// WithCaller attaches what the auth middleware would: the bearer token and
// its subject.
func WithCaller(req *http.Request, token, subject string) *http.Request {
	ctx := requestcontext.WithToken(req.Context(), token)
	ctx = requestcontext.WithSubject(ctx, subject)
	return req.WithContext(ctx)
}

// AtTime pins the request clock.
func AtTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
