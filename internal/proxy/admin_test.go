package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volantir/volantir/internal/provision"
)

func newAdminTestServer() *server {
	return &server{
		logger: testLogger(),
		opts: &serverOptions{
			proxyListen: ":8080",
			adminListen: ":9090",
			publicHost:  "relay.example.com",
		},
		identities: map[string]*identityRecord{
			"phone1": {Identity: "phone1", Secret: "s3cret", Note: "test device"},
		},
	}
}

func TestHandleProvision(t *testing.T) {
	s := newAdminTestServer()

	t.Run("valid token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "http://admin.local/provision/phone1?token=s3cret", nil)
		s.handleProvision(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var payload provision.Payload
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
		assert.Equal(t, "relay.example.com", payload.Host)
		assert.Equal(t, "8080", payload.Port)
		assert.Equal(t, "phone1", payload.Identity)
		assert.Equal(t, "s3cret", payload.Secret)
	})

	t.Run("wrong token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "http://admin.local/provision/phone1?token=wrong", nil)
		s.handleProvision(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown identity", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "http://admin.local/provision/ghost?token=x", nil)
		s.handleProvision(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleRefreshWithoutPoller(t *testing.T) {
	s := newAdminTestServer()

	rec := httptest.NewRecorder()
	s.handleRefreshAll(rec, httptest.NewRequest("POST", "http://admin.local/refresh", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	s.handleRefreshAll(rec, httptest.NewRequest("GET", "http://admin.local/refresh", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	s.handleRefreshUser(rec, httptest.NewRequest("POST", "http://admin.local/refresh/u1", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusNeverLeaksSecrets(t *testing.T) {
	s := newAdminTestServer()

	rec := httptest.NewRecorder()
	s.handleStatusJSON(rec, httptest.NewRequest("GET", "http://admin.local/status.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.NotContains(t, body, "s3cret")
	assert.Contains(t, body, "phone1")
	assert.Contains(t, body, "test device")
}
