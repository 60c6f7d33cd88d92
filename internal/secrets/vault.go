package secrets

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ternarybob/flowd/internal/models"
	"github.com/ternarybob/flowd/internal/transform"
)

type vaultEntry struct {
	value   map[string]interface{}
	expires time.Time
}

// VaultClient reads KV v2 secrets from a HashiCorp Vault endpoint. Lookups
// are cached per (uri, jq_expression) for the configured TTL so hot flows do
// not hammer the vault. TLS verification is relaxed, matching the REST step.
type VaultClient struct {
	token  string
	ttl    time.Duration
	client *http.Client

	mu    sync.Mutex
	cache map[string]vaultEntry
}

func NewVaultClient(token string, ttl time.Duration) *VaultClient {
	return &VaultClient{
		token: token,
		ttl:   ttl,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		cache: make(map[string]vaultEntry),
	}
}

// Fetch reads the secret behind the definition's uri and extracts data.data,
// optionally narrowed by the definition's jq expression.
func (c *VaultClient) Fetch(def models.SecretDefinition) (map[string]interface{}, error) {
	if def.URI == "" {
		return nil, fmt.Errorf("%w: vault secret %s missing uri", ErrBadSecret, def.Name)
	}
	if c.token == "" {
		return nil, fmt.Errorf("%w: vault secret %s missing token, set HASHICORP_VAULT_TOKEN", ErrBadSecret, def.Name)
	}

	cacheKey := def.URI + "|" + def.JqExpression
	c.mu.Lock()
	entry, cached := c.cache[cacheKey]
	c.mu.Unlock()
	if cached && time.Now().Before(entry.expires) {
		return entry.value, nil
	}

	value, err := c.fetch(def)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[cacheKey] = vaultEntry{value: value, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return value, nil
}

func (c *VaultClient) fetch(def models.SecretDefinition) (map[string]interface{}, error) {
	request, err := http.NewRequest(http.MethodGet, def.URI, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: vault secret %s: %v", ErrBadSecret, def.Name, err)
	}
	request.Header.Set("X-Vault-Token", c.token)

	response, err := c.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch secret %s from vault: %v", ErrBadSecret, def.Name, err)
	}
	defer response.Body.Close()

	content, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch secret %s from vault: %v", ErrBadSecret, def.Name, err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: failed to fetch secret %s from vault: %s", ErrBadSecret, def.Name, string(content))
	}

	var decoded struct {
		Data struct {
			Data map[string]interface{} `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(content, &decoded); err != nil {
		return nil, fmt.Errorf("%w: vault secret %s returned invalid JSON: %v", ErrBadSecret, def.Name, err)
	}
	if decoded.Data.Data == nil {
		return nil, fmt.Errorf("%w: vault secret %s has no data", ErrBadSecret, def.Name)
	}

	value := decoded.Data.Data
	if def.JqExpression != "" {
		filtered, err := transform.ApplyJqFilter(value, def.JqExpression)
		if err != nil {
			return nil, fmt.Errorf("%w: vault secret %s: %v", ErrBadSecret, def.Name, err)
		}
		mapped, ok := filtered.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: vault secret %s jq filter did not produce a mapping", ErrBadSecret, def.Name)
		}
		value = mapped
	}
	return value, nil
}
