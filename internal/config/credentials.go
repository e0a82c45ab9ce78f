package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/mnemo/pkg/memory"
	"github.com/tidwall/gjson"
)

const (
	// OpenAIKeyEnv is checked first when resolving the embedding API key
	OpenAIKeyEnv = "OPENAI_API_KEY"

	legacyCredentialPath = "~/.clawdbot/clawdbot.json"
	legacyCredentialKey  = "skills.entries.openai-image-gen.apiKey"
)

// CredentialProvider is one place an API key may be stored
type CredentialProvider interface {
	// Describe names the place for error messages
	Describe() string
	// Lookup returns the key, or "" when this place has none
	Lookup() (string, error)
}

// EnvCredential reads an environment variable
type EnvCredential struct {
	Var string
}

func (e EnvCredential) Describe() string {
	return "environment variable " + e.Var
}

func (e EnvCredential) Lookup() (string, error) {
	return strings.TrimSpace(os.Getenv(e.Var)), nil
}

// ConfigCredential returns the key set in the mnemo config file
type ConfigCredential struct {
	Key string
	// Path is the config file, used only for messages
	Path string
}

func (c ConfigCredential) Describe() string {
	if c.Path == "" {
		return "embedding.api_key in the config file"
	}
	return "embedding.api_key in " + c.Path
}

func (c ConfigCredential) Lookup() (string, error) {
	return strings.TrimSpace(c.Key), nil
}

// JSONFileCredential reads a key from a JSON document at a gjson path.
// A missing file or an absent path is not an error.
type JSONFileCredential struct {
	Path     string
	JSONPath string
}

func (j JSONFileCredential) Describe() string {
	return fmt.Sprintf("%s (%s)", j.Path, j.JSONPath)
}

func (j JSONFileCredential) Lookup() (string, error) {
	path, err := ExpandPath(j.Path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !gjson.ValidBytes(data) {
		return "", fmt.Errorf("%s is not valid JSON", path)
	}

	return strings.TrimSpace(gjson.GetBytes(data, j.JSONPath).String()), nil
}

// CredentialResolver tries its providers in order; the first non-empty key wins
type CredentialResolver struct {
	providers []CredentialProvider
}

// NewCredentialResolver creates a resolver over the given providers
func NewCredentialResolver(providers ...CredentialProvider) *CredentialResolver {
	return &CredentialResolver{providers: providers}
}

// DefaultCredentialResolver checks OPENAI_API_KEY, then the config file,
// then the legacy clawdbot settings file
func DefaultCredentialResolver(cfg *Config, configPath string) *CredentialResolver {
	return NewCredentialResolver(
		EnvCredential{Var: OpenAIKeyEnv},
		ConfigCredential{Key: cfg.Embedding.APIKey, Path: configPath},
		JSONFileCredential{Path: legacyCredentialPath, JSONPath: legacyCredentialKey},
	)
}

// Resolve returns the first key found. When no provider has one, the error
// is a ConfigurationError wrapping ErrNoCredentials that lists every place
// searched. Unreadable places are reported but do not stop the search.
func (r *CredentialResolver) Resolve() (string, error) {
	searched := make([]string, 0, len(r.providers))
	var problems []string

	for _, p := range r.providers {
		key, err := p.Lookup()
		if err != nil {
			problems = append(problems, err.Error())
		}
		if key != "" {
			return key, nil
		}
		searched = append(searched, p.Describe())
	}

	msg := "searched " + strings.Join(searched, ", ")
	if len(problems) > 0 {
		msg += "; " + strings.Join(problems, "; ")
	}
	return "", &memory.ConfigurationError{
		Op:  "resolve embedding credentials",
		Err: fmt.Errorf("%w: %s", memory.ErrNoCredentials, msg),
	}
}
