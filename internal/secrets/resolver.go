package secrets

import (
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/flowd/internal/models"
)

// ErrBadSecret marks a secret definition that is missing required fields or
// cannot be materialized.
var ErrBadSecret = errors.New("bad secret")

// Resolver turns secret definitions into usable values. Static kinds come
// straight from the definition; vault-backed kinds go through the client.
type Resolver struct {
	vault  *VaultClient
	logger arbor.ILogger
}

func NewResolver(vault *VaultClient, logger arbor.ILogger) *Resolver {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	return &Resolver{vault: vault, logger: logger}
}

// Resolve materializes a secret definition. The type defaults to credential.
func (r *Resolver) Resolve(def models.SecretDefinition) (map[string]interface{}, error) {
	secretType := def.Type
	if secretType == "" {
		secretType = models.SecretTypeCredential
	}

	switch secretType {
	case models.SecretTypeCredential:
		if def.Username == "" || def.Password == "" {
			return nil, fmt.Errorf("%w: credential secret %s missing username or password", ErrBadSecret, def.Name)
		}
		return map[string]interface{}{
			"username": def.Username,
			"password": def.Password,
		}, nil

	case models.SecretTypeToken:
		if def.Token == "" {
			return nil, fmt.Errorf("%w: token secret %s missing token", ErrBadSecret, def.Name)
		}
		return map[string]interface{}{"token": def.Token}, nil

	case models.SecretTypeAPIKey:
		if def.Key == "" || def.Value == "" {
			return nil, fmt.Errorf("%w: api-key secret %s missing key or value", ErrBadSecret, def.Name)
		}
		return map[string]interface{}{
			"key":   def.Key,
			"value": def.Value,
		}, nil

	case models.SecretTypeVault:
		if r.vault == nil {
			return nil, fmt.Errorf("%w: vault secret %s requested but no vault client configured", ErrBadSecret, def.Name)
		}
		r.logger.Debug().Str("secret", def.Name).Msg("Fetching vault secret")
		return r.vault.Fetch(def)

	default:
		return nil, fmt.Errorf("%w: unknown secret type %s", ErrBadSecret, secretType)
	}
}
