package admin

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"eventlens/pkg/requestcontext"
	"eventlens/pkg/testutil"
)

type stubValidator struct {
	claims *SessionClaims
	err    error
	got    string
}

func (v *stubValidator) ValidateToken(token string) (*SessionClaims, error) {
	v.got = token
	return v.claims, v.err
}

func TestRequireAdminSession(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var subject string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = requestcontext.AdminSubject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("valid session passes subject through", func(t *testing.T) {
		v := &stubValidator{claims: &SessionClaims{Subject: "admin-wallet", JTI: "j1"}}
		req := httptest.NewRequest(http.MethodPost, "/events", nil)
		req.Header.Set("Authorization", "Bearer good-token")

		rr := testutil.DoRequest(RequireAdminSession(v, logger)(next), req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, "good-token", v.got)
		assert.Equal(t, "admin-wallet", subject)
	})

	t.Run("missing header is unauthorized", func(t *testing.T) {
		v := &stubValidator{}
		req := httptest.NewRequest(http.MethodPost, "/events", nil)

		rr := testutil.DoRequest(RequireAdminSession(v, logger)(next), req)

		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
		assert.Empty(t, v.got)
	})

	t.Run("rejected token is unauthorized", func(t *testing.T) {
		v := &stubValidator{err: errors.New("expired")}
		req := httptest.NewRequest(http.MethodPost, "/events", nil)
		req.Header.Set("Authorization", "Bearer stale")

		rr := testutil.DoRequest(RequireAdminSession(v, logger)(next), req)

		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})
}
