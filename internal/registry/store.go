package registry

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/dependabot/registry-proxy/internal/actions/core"
	"github.com/dependabot/registry-proxy/internal/model"
	"github.com/google/go-containerregistry/pkg/name"
)

var printable = regexp.MustCompile(`^[\x20-\x7E]*$`)

// ParseCredentials decodes a JSON array of credentials. Entries are not validated, use NewStore.
func ParseCredentials(data []byte) ([]model.Credential, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, ErrInvalidFormat
	}
	creds := make([]model.Credential, 0, len(raw))
	for i, r := range raw {
		if len(r) == 0 || r[0] != '{' {
			return nil, &ConfigError{Element: "credential", Index: i, Reason: "must be an object"}
		}
		var cred model.Credential
		if err := json.Unmarshal(r, &cred); err != nil {
			return nil, &ConfigError{Element: "credential", Index: i, Reason: "fields must be strings"}
		}
		creds = append(creds, cred)
	}
	return creds, nil
}

// Store holds the validated credentials for the lifetime of the process.
type Store struct {
	creds []model.Credential
}

// NewStore validates and normalizes the credentials. When running in Actions every secret is
// masked in the job log before anything else can print it.
func NewStore(creds []model.Credential) (*Store, error) {
	out := make([]model.Credential, len(creds))
	for i := range creds {
		cred := creds[i]
		if core.IsActions() {
			for _, s := range cred.Secrets() {
				core.SetSecret(s)
			}
		}
		if err := normalizeCredential(&cred); err != nil {
			err.Index = i
			return nil, err
		}
		out[i] = cred
	}
	return &Store{creds: out}, nil
}

// Credentials returns a copy of the stored credentials.
func (s *Store) Credentials() []model.Credential {
	return append([]model.Credential(nil), s.creds...)
}

// Len is the number of credentials.
func (s *Store) Len() int {
	return len(s.creds)
}

func invalid(field, reason string) *ConfigError {
	return &ConfigError{Element: "credential", Field: field, Reason: reason}
}

func normalizeCredential(c *model.Credential) *ConfigError {
	fields := map[string]string{
		"type":     string(c.Type),
		"host":     c.Host,
		"url":      c.URL,
		"registry": c.Registry,
		"username": c.Username,
		"password": c.Password,
		"token":    c.Token,
	}
	for _, field := range []string{"type", "host", "url", "registry", "username", "password", "token"} {
		if !printable.MatchString(fields[field]) {
			return invalid(field, "fields must contain only printable characters")
		}
	}

	if c.Host == "" && c.URL == "" && c.Registry != "" {
		reg, err := name.NewRegistry(c.Registry)
		if err != nil {
			return invalid("registry", err.Error())
		}
		c.Host = reg.RegistryStr()
	}
	if c.Host == "" && c.URL == "" {
		return invalid("host", "must specify host or url")
	}
	if c.URL != "" {
		if _, err := model.ParseURL(c.URL); err != nil {
			return invalid("url", err.Error())
		}
	} else if _, _, err := splitHostScope(c.Host); err != nil {
		return invalid("host", err.Error())
	}

	if c.Password != "" && c.Token != "" {
		return invalid("token", "password and token are mutually exclusive")
	}
	if c.Kind == "" {
		switch {
		case c.Password != "":
			c.Kind = model.KindBasic
		case c.Token != "":
			c.Kind = model.KindBearer
		}
	}
	switch c.Kind {
	case "":
		if c.Username != "" {
			return invalid("password", "basic credentials require a username and password")
		}
		return invalid("token", "credentials require a password or a token")
	case model.KindBasic:
		if c.Username == "" || c.Password == "" {
			return invalid("username", "basic credentials require a username and password")
		}
	case model.KindBearer, model.KindTokenQueryParam:
		if c.Token == "" {
			return invalid("token", fmt.Sprintf("%s credentials require a token", c.Kind))
		}
	default:
		return invalid("kind", fmt.Sprintf("unknown kind %q", c.Kind))
	}
	return nil
}

// RegistriesFromCredentials derives the registry list from the credentials when the input names
// none. Host-scoped credentials become https://host[:port] registries.
func RegistriesFromCredentials(creds []model.Credential) []model.Registry {
	seen := map[model.Registry]bool{}
	var registries []model.Registry
	for _, c := range creds {
		r := model.Registry{Type: c.Type, URL: c.URL}
		if c.HostScoped() {
			r.URL = "https://" + strings.TrimPrefix(strings.TrimPrefix(c.Host, "https://"), "http://")
		}
		if seen[r] {
			continue
		}
		seen[r] = true
		registries = append(registries, r)
	}
	return registries
}

var languageAliases = map[string]string{
	"c":                     "cpp",
	"c++":                   "cpp",
	"c#":                    "csharp",
	"kotlin":                "java",
	"typescript":            "javascript",
	"javascript-typescript": "javascript",
	"java-kotlin":           "java",
}

var knownLanguages = map[string]bool{
	"actions": true, "cpp": true, "csharp": true, "go": true, "java": true,
	"javascript": true, "python": true, "ruby": true, "rust": true, "swift": true,
}

var languageRegistryTypes = map[string][]model.RegistryType{
	"java":       {model.MavenRepository},
	"csharp":     {model.NugetFeed},
	"javascript": {model.NpmRegistry},
	"python":     {model.PythonIndex},
	"ruby":       {model.RubygemsServer},
	"rust":       {model.CargoRegistry},
	"go":         {model.GoproxyServer},
}

// ParseLanguage returns the canonical language name, or "" if the language is not known.
func ParseLanguage(language string) string {
	language = strings.ToLower(strings.TrimSpace(language))
	if knownLanguages[language] {
		return language
	}
	return languageAliases[language]
}

// FilterByLanguage keeps the credentials whose registry type is used by the language. Unknown
// languages, and languages without registry types, keep everything.
func FilterByLanguage(creds []model.Credential, language string) []model.Credential {
	types, ok := languageRegistryTypes[ParseLanguage(language)]
	if !ok {
		return creds
	}
	var out []model.Credential
	for _, c := range creds {
		for _, t := range types {
			if c.Type.Canonical() == t {
				out = append(out, c)
				break
			}
		}
	}
	return out
}
