package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialCacheRefreshesAfterTTL(t *testing.T) {
	auth := &mockAuthenticator{}
	cache := NewCredentialCache(auth, 50*time.Millisecond)

	credential, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Credential{Token: "token", ProjectID: "tenant-a"}, credential)

	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, auth.count())

	require.Eventually(t, func() bool {
		_, err := cache.Get(context.Background())
		return err == nil && auth.count() == 2
	}, time.Second, 10*time.Millisecond)
}

func TestCredentialCacheInvalidate(t *testing.T) {
	auth := &mockAuthenticator{}
	cache := NewCredentialCache(auth, CredentialTTL)

	_, err := cache.Get(context.Background())
	require.NoError(t, err)
	cache.Invalidate()
	_, err = cache.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, auth.count())
}

func TestCredentialCacheDoesNotKeepFailures(t *testing.T) {
	auth := &mockAuthenticator{err: errors.New("keystone unavailable")}
	cache := NewCredentialCache(auth, CredentialTTL)

	_, err := cache.Get(context.Background())
	assert.EqualError(t, err, "keystone unavailable")

	auth.mu.Lock()
	auth.err = nil
	auth.mu.Unlock()

	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, auth.count())
}

func TestStaticAuthenticator(t *testing.T) {
	credential, err := Static{Token: "t", ProjectID: "p"}.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Credential{Token: "t", ProjectID: "p"}, credential)
}

func TestClientSendsCredentialHeaders(t *testing.T) {
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		writeJSON(w, http.StatusOK, WorkloadList{})
	}))
	t.Cleanup(server.Close)

	config := DefaultClientConfig()
	config.Logger = silent
	config.Endpoint = server.URL
	client, err := NewClient(NewCredentialCache(Static{Token: "secret", ProjectID: "tenant-b"}, CredentialTTL), config)
	require.NoError(t, err)

	_, err = client.ListWorkloads(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secret", headers.Get(HeaderAuthToken))
	assert.Equal(t, "tenant-b", headers.Get(HeaderProjectID))
	assert.Len(t, headers.Get(HeaderRequestID), 36)
}

func TestClientInvalidatesCredentialsOnUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, NewFailure("token expired"))
	}))
	t.Cleanup(server.Close)

	auth := &mockAuthenticator{}
	config := DefaultClientConfig()
	config.Logger = silent
	config.Endpoint = server.URL
	client, err := NewClient(NewCredentialCache(auth, CredentialTTL), config)
	require.NoError(t, err)

	_, err = client.ListWorkloads(context.Background())
	assert.EqualError(t, err, "token expired (HTTP 401)")
	_, err = client.ListWorkloads(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 2, auth.count())
}

func TestValidateClientConfig(t *testing.T) {
	config := DefaultClientConfig()
	require.NoError(t, ValidateClientConfig(config))

	config.Endpoint = "not a url"
	assert.ErrorContains(t, ValidateClientConfig(config), "endpoint must be a valid URL")

	config = DefaultClientConfig()
	config.Timeout = -time.Second
	assert.EqualError(t, ValidateClientConfig(config), "timeout must not be negative")
}
