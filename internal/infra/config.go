package infra

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dependabot/registry-proxy/internal/model"
	"github.com/tidwall/jsonc"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed config.schema.json
var configSchema []byte

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 49152
)

// Environment holds the settings that can be provided through environment variables.
// Command line flags take precedence.
type Environment struct {
	Host             string        `env:"REGISTRY_PROXY_HOST" envDefault:"127.0.0.1"`
	Port             int           `env:"REGISTRY_PROXY_PORT" envDefault:"0"`
	LogLevel         string        `env:"REGISTRY_PROXY_LOG_LEVEL" envDefault:"info"`
	RequestTimeout   time.Duration `env:"REGISTRY_PROXY_REQUEST_TIMEOUT" envDefault:"10m"`
	IdleTimeout      time.Duration `env:"REGISTRY_PROXY_IDLE_TIMEOUT" envDefault:"90s"`
	ProbeConcurrency int           `env:"REGISTRY_PROXY_PROBE_CONCURRENCY" envDefault:"4"`
	TempDir          string        `env:"REGISTRY_PROXY_TEMP_DIR" envDefault:"tmp"`
	CredentialsToken string        `env:"REGISTRY_PROXY_CREDENTIALS_TOKEN"`
}

// GetEnvironment reads the environment settings.
func GetEnvironment() (Environment, error) {
	e, err := env.ParseAs[Environment]()
	if err != nil {
		return e, fmt.Errorf("failed to read environment: %w", err)
	}
	if e.Port < 0 || e.Port > 65535 {
		return e, fmt.Errorf("REGISTRY_PROXY_PORT must be between 0 and 65535")
	}
	if e.ProbeConcurrency < 1 {
		return e, fmt.Errorf("REGISTRY_PROXY_PROBE_CONCURRENCY must be at least 1")
	}
	return e, nil
}

// LoadInput reads the configuration document at path, "-" meaning stdin.
func LoadInput(path string) (*model.Input, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseInput(data)
}

// ParseInput decodes a configuration document. JSON, JSON with comments and YAML are accepted;
// the document is validated against the embedded schema before it is decoded.
func ParseInput(data []byte) (*model.Input, error) {
	doc, err := toJSON(data)
	if err != nil {
		return nil, err
	}
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(configSchema), gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}

	var input model.Input
	if err := json.Unmarshal(doc, &input); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &input, nil
}

func toJSON(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []byte("{}"), nil
	}
	if trimmed[0] == '{' || bytes.HasPrefix(trimmed, []byte("//")) || bytes.HasPrefix(trimmed, []byte("/*")) {
		return jsonc.ToJSON(trimmed), nil
	}
	var doc map[string]any
	if err := yaml.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return out, nil
}
