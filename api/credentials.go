package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/identity/v3/tokens"
	"github.com/jellydator/ttlcache/v3"
)

// CredentialTTL is how long a credential is reused before authenticating again.
const CredentialTTL = 300 * time.Second

type Credential struct {
	Token     string
	ProjectID string
}

type Authenticator interface {
	Authenticate(ctx context.Context) (Credential, error)
}

// Static always returns the same credential. Used against servers trusting the project header.
type Static Credential

// Static implements Authenticator
var _ Authenticator = Static{}

func (s Static) Authenticate(context.Context) (Credential, error) {
	return Credential(s), nil
}

// Keystone issues a token from the OS_* environment of the process.
type Keystone struct {
	options gophercloud.AuthOptions
}

// Keystone implements Authenticator
var _ Authenticator = (*Keystone)(nil)

func NewKeystone() (*Keystone, error) {
	options, err := openstack.AuthOptionsFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to read openstack auth options: %w", err)
	}
	if options.TenantID == "" {
		options.TenantID = os.Getenv("OS_PROJECT_ID")
	}
	return &Keystone{options: options}, nil
}

// Authenticate does not honor ctx cancellation: gophercloud v1 requests are not context-aware.
func (k *Keystone) Authenticate(context.Context) (Credential, error) {
	provider, err := openstack.AuthenticatedClient(k.options)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to authenticate: %w", err)
	}

	credential := Credential{Token: provider.Token(), ProjectID: k.options.TenantID}
	if credential.ProjectID == "" {
		if result, ok := provider.GetAuthResult().(tokens.CreateResult); ok {
			if project, err := result.ExtractProject(); err == nil && project != nil {
				credential.ProjectID = project.ID
			}
		}
	}
	if credential.ProjectID == "" {
		return Credential{}, errors.New("failed to determine project of the authenticated token")
	}
	return credential, nil
}

// CredentialCache reuses a credential until it is older than its TTL.
type CredentialCache struct {
	authenticator Authenticator

	mu    sync.Mutex
	cache *ttlcache.Cache[string, Credential]
}

const credentialKey = "credential"

func NewCredentialCache(authenticator Authenticator, ttl time.Duration) *CredentialCache {
	return &CredentialCache{
		authenticator: authenticator,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, Credential](ttl),
			// Reads must not extend the life of a credential
			ttlcache.WithDisableTouchOnHit[string, Credential](),
		),
	}
}

func (c *CredentialCache) Get(ctx context.Context) (Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item := c.cache.Get(credentialKey); item != nil {
		return item.Value(), nil
	}

	credential, err := c.authenticator.Authenticate(ctx)
	if err != nil {
		return Credential{}, err
	}
	c.cache.Set(credentialKey, credential, ttlcache.DefaultTTL)
	return credential, nil
}

// Invalidate forces the next Get to authenticate again.
func (c *CredentialCache) Invalidate() {
	c.cache.Delete(credentialKey)
}
