package config

import (
	"context"
	"os"
	"strings"
)

// EnvVarProvider resolves parameter paths from the environment, for local
// and CI runs that exercise the _SSM_PARAM indirection without AWS. A path
// maps to its upper-cased segments joined by underscores:
// /local/ticketing/stripe/key is read from LOCAL_TICKETING_STRIPE_KEY.
type EnvVarProvider struct{}

func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{}
}

// GetParametersBatch returns the paths whose variable is set; others are
// omitted so the loader reports them as missing.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, paths []string) (map[string]string, error) {
	result := make(map[string]string, len(paths))
	for _, path := range paths {
		if val, ok := os.LookupEnv(envNameForPath(path)); ok {
			result[path] = val
		}
	}
	return result, nil
}

func envNameForPath(path string) string {
	segments := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	name := strings.ToUpper(strings.Join(segments, "_"))
	return strings.NewReplacer("-", "_", ".", "_").Replace(name)
}
