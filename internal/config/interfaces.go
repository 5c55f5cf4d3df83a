package config

import "context"

// SecretProvider resolves _SSM_PARAM pointers to secret values. SSMProvider
// serves deployed environments and EnvVarProvider serves local runs.
type SecretProvider interface {
	// GetParametersBatch returns key -> plaintext for every key it could
	// resolve.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
