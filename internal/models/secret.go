package models

// Secret type constants
const (
	SecretTypeCredential = "credential"
	SecretTypeToken      = "token"
	SecretTypeAPIKey     = "api-key"
	SecretTypeVault      = "hashicorp-vault"
)

// SecretDefinition is one entry of the secrets YAML file. Type-specific
// fields are flat on the definition the way the secrets file spells them.
type SecretDefinition struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	// credential
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// token
	Token string `yaml:"token,omitempty"`

	// api-key
	Key   string `yaml:"key,omitempty"`
	Value string `yaml:"value,omitempty"`

	// hashicorp-vault
	URI          string `yaml:"uri,omitempty"`
	JqExpression string `yaml:"jq_expression,omitempty"`
}
