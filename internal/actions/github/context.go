package github

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// ActionInputs are the inputs of the start-proxy step.
type ActionInputs struct {
	// RegistrySecrets is a JSON array of credentials.
	RegistrySecrets *string
	// RegistriesCredentials is a base64 encoded JSON array of credentials, preferred over RegistrySecrets.
	RegistriesCredentials *string
	// Language restricts the credentials to the registries used by one language.
	Language string
}

// GetInput returns the value of an action input the same way the Actions toolkit does: inputs are
// passed as INPUT_<NAME> with spaces replaced by underscores and upper-cased.
func GetInput(name string) (string, bool) {
	key := "INPUT_" + strings.ToUpper(strings.ReplaceAll(name, " ", "_"))
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// Inputs reads the start-proxy step inputs from the environment.
func Inputs() *ActionInputs {
	inputs := &ActionInputs{}
	if v, ok := GetInput("registry_secrets"); ok {
		inputs.RegistrySecrets = &v
	}
	if v, ok := GetInput("registries_credentials"); ok {
		inputs.RegistriesCredentials = &v
	}
	inputs.Language, _ = GetInput("language")
	return inputs
}

// CredentialsPayload returns the raw credentials JSON and the name of the input it came from.
// An empty source means neither input was set.
func (i *ActionInputs) CredentialsPayload() (data []byte, source string, err error) {
	switch {
	case i.RegistriesCredentials != nil:
		data, err = base64.StdEncoding.DecodeString(*i.RegistriesCredentials)
		if err != nil {
			// don't wrap the error, it may echo part of the secret
			return nil, "registries_credentials", fmt.Errorf("registries_credentials is not valid base64")
		}
		return data, "registries_credentials", nil
	case i.RegistrySecrets != nil:
		return []byte(*i.RegistrySecrets), "registry_secrets", nil
	default:
		return nil, "", nil
	}
}
