package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is returned by LoadConfig and Process. Type tells which stage
// failed.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

const (
	// secretRefSuffix marks a variable whose value is the parameter path of
	// the secret named by the rest of the key: STRIPE_SECRET_KEY_SSM_PARAM
	// points at the value of STRIPE_SECRET_KEY.
	secretRefSuffix = "_SSM_PARAM"

	// localEnv is the APP_ENV value that skips secret resolution.
	localEnv = "local"

	secretsTimeout = 30 * time.Second
)

// environment is the process environment as the loader sees it.
type environment interface {
	Lookup(key string) (string, bool)
	Set(key, value string) error
	Entries() []string
}

type osEnvironment struct{}

func (osEnvironment) Lookup(key string) (string, bool) { return os.LookupEnv(key) }
func (osEnvironment) Set(key, value string) error      { return os.Setenv(key, value) }
func (osEnvironment) Entries() []string                { return os.Environ() }

// LoadConfig loads and validates the API configuration:
//  1. The process timezone is set to UTC.
//  2. A .env file is loaded if present. Variables already set win.
//  3. Outside APP_ENV=local, _SSM_PARAM references are resolved through
//     provider and exported.
//  4. envconfig tags populate Config, and Build comes from ldflags.
//  5. Struct tags are validated, then the rules tags cannot express.
//
// provider may be nil when no _SSM_PARAM variables are set.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return load(provider, osEnvironment{})
}

func load(provider SecretProvider, env environment) (*Config, error) {
	time.Local = time.UTC

	var cfg Config
	if err := process(provider, env, &cfg); err != nil {
		return nil, err
	}
	cfg.Build = NewBuildInfo()

	if err := checkConfig(&cfg); err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "inconsistent configuration", Err: err}
	}
	return &cfg, nil
}

// Process fills spec, a pointer to a struct with envconfig tags, the same
// way LoadConfig fills Config. Binaries that need only a few sections, like
// the email worker, use it so unrelated required settings are not enforced.
func Process(provider SecretProvider, spec any) error {
	return process(provider, osEnvironment{}, spec)
}

func process(provider SecretProvider, env environment, spec any) error {
	_ = godotenv.Load()

	if appEnv, _ := env.Lookup("APP_ENV"); appEnv != localEnv {
		if err := resolveSecrets(provider, env); err != nil {
			return err
		}
	}

	if err := envconfig.Process("", spec); err != nil {
		return &ConfigError{Type: ErrParsing, Message: "failed to process environment configuration", Err: err}
	}
	if err := validator.New().Struct(spec); err != nil {
		return &ConfigError{Type: ErrValidation, Message: "configuration validation failed", Err: err}
	}
	return nil
}

// checkConfig enforces rules that span fields or involve decimals, which
// struct tags cannot express.
func checkConfig(cfg *Config) error {
	if err := cfg.Fees.Schedule().Validate(); err != nil {
		return err
	}
	// A redelivery the verifier still accepts must still be in the cache.
	if cfg.Redis.URL.IsSet() && cfg.Webhook.DedupeTTL < cfg.Webhook.ReplayTolerance {
		return fmt.Errorf("WEBHOOK_DEDUPE_TTL (%s) is shorter than WEBHOOK_REPLAY_TOLERANCE (%s)",
			cfg.Webhook.DedupeTTL, cfg.Webhook.ReplayTolerance)
	}
	return nil
}

type secretRef struct {
	target string
	path   string
}

// secretRefs lists the unresolved _SSM_PARAM references in env, sorted by
// target. A reference whose target is already set is skipped, so an explicit
// variable or .env entry overrides the parameter store.
func secretRefs(env environment) []secretRef {
	var refs []secretRef
	for _, entry := range env.Entries() {
		key, path, ok := strings.Cut(entry, "=")
		if !ok || path == "" || !strings.HasSuffix(key, secretRefSuffix) {
			continue
		}
		target := strings.TrimSuffix(key, secretRefSuffix)
		if _, set := env.Lookup(target); set {
			continue
		}
		refs = append(refs, secretRef{target: target, path: path})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].target < refs[j].target })
	return refs
}

func targets(refs []secretRef) string {
	names := make([]string, len(refs))
	for i, r := range refs {
		names[i] = r.target
	}
	return strings.Join(names, ", ")
}

// resolveSecrets fetches every pending reference in one batch and exports
// the values under their target names.
func resolveSecrets(provider SecretProvider, env environment) error {
	refs := secretRefs(env)
	if len(refs) == 0 {
		return nil
	}
	if provider == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "a SecretProvider is required to resolve " + targets(refs),
		}
	}

	paths := make([]string, len(refs))
	for i, r := range refs {
		paths[i] = r.path
	}

	ctx, cancel := context.WithTimeout(context.Background(), secretsTimeout)
	defer cancel()
	values, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d secret parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []secretRef
	for _, r := range refs {
		value, ok := values[r.path]
		if !ok {
			missing = append(missing, r)
			continue
		}
		if err := env.Set(r.target, value); err != nil {
			return &ConfigError{Type: ErrSSMResolution, Message: "failed to export " + r.target, Err: err}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{Type: ErrSSMResolution, Message: "secret parameters not found for " + targets(missing)}
	}
	return nil
}
