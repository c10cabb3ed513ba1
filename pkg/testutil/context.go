package testutil

import (
	"net/http"
	"time"

	id "kore/pkg/domain"
	"kore/pkg/requestcontext"
)

// WithUser stamps the authenticated user onto the request context, the
// same way the auth middleware does after validating a bearer token.
func WithUser(req *http.Request, userID id.UserID) *http.Request {
	return req.WithContext(requestcontext.WithUserID(req.Context(), userID))
}

// WithFrozenTime pins the request-scoped clock.
func WithFrozenTime(req *http.Request, at time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), at))
}
