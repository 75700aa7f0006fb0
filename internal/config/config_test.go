package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/kirikou/kirikou/internal/agent"
)

func parse(t *testing.T, args ...string) *Configuration {
	t.Helper()
	args = append([]string{"kirikou"}, args...)

	var stderr bytes.Buffer
	var cfg *Configuration
	cmd := &cli.Command{
		Name:  "kirikou",
		Flags: GetFlags(args, &stderr),
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg = NewConfiguration(c)
			return nil
		},
	}
	require.NoError(t, cmd.Run(context.Background(), args))
	require.NotNil(t, cfg)
	return cfg
}

func clearEnv(t *testing.T) {
	for _, key := range []string{"KIRIKOU_CONFIG", "KIRIKOU_MODEL", "KIRIKOU_OPENAI_KEY", "OPENAI_API_KEY", "REDIS_URL", "KIRIKOU_REDIS_URL"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg := parse(t)

	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, "gpt-3.5-turbo-1106", cfg.Model.Model)
	assert.InDelta(t, 0.2, cfg.Model.Temperature, 1e-9)
	assert.Equal(t, 15, cfg.Agent.MaxIterations)
	assert.Equal(t, agent.SystemTemplate, cfg.Agent.SystemPrompt)
	assert.Equal(t, 6, cfg.Memory.K)
	assert.Equal(t, 20, cfg.Memory.FetchK)
	assert.Equal(t, BackendRedis, cfg.RateLimit.Backend)
	assert.Equal(t, 1, cfg.RateLimit.Policy.Limit)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.Policy.Window)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.False(t, cfg.Server.ReturnIntermediateSteps)
	assert.NoError(t, cfg.Validate())
}

func TestFlagsOverrideEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("KIRIKOU_MODEL", "gpt-4o-mini")
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	cfg := parse(t, "--model", "gpt-4o", "--trust-proxy", "--ratelimit-window", "1m")
	assert.Equal(t, "gpt-4o", cfg.Model.Model)
	assert.Equal(t, "sk-from-env", cfg.Model.OpenAIKey)
	assert.True(t, cfg.Server.TrustProxy)
	assert.Equal(t, time.Minute, cfg.RateLimit.Policy.Window)
}

func TestYamlSource(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "kirikou.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider: ollama
model: llama3.2
lambda: 0.8
ratelimit-backend: local
ratelimit-limit: 3
return-intermediate-steps: true
prompt: Be brief.
`), 0o644))

	t.Setenv("KIRIKOU_MODEL", "mistral")
	cfg := parse(t, "--config", path)

	assert.Equal(t, "ollama", cfg.Model.Provider)
	assert.Equal(t, "mistral", cfg.Model.Model, "env wins over the config file")
	assert.InDelta(t, 0.8, cfg.Memory.Lambda, 1e-9)
	assert.Equal(t, BackendLocal, cfg.RateLimit.Backend)
	assert.Equal(t, 3, cfg.RateLimit.Policy.Limit)
	assert.True(t, cfg.Server.ReturnIntermediateSteps)
	assert.Equal(t, "Be brief.", cfg.Agent.SystemPrompt)
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	cfg := parse(t, "--ratelimit-backend", "memcached")
	assert.ErrorContains(t, cfg.Validate(), "memcached")

	cfg = parse(t, "--k", "10", "--fetch-k", "5")
	assert.ErrorContains(t, cfg.Validate(), "fetch-k")

	cfg = parse(t, "--lambda", "1.5")
	assert.ErrorContains(t, cfg.Validate(), "lambda")

	cfg = parse(t, "--chunk-size", "100", "--chunk-overlap", "100")
	assert.ErrorContains(t, cfg.Validate(), "chunk-overlap")
}

func TestConfigPath(t *testing.T) {
	clearEnv(t)
	assert.Equal(t, "a.yaml", configPath([]string{"kirikou", "--config", "a.yaml"}))
	assert.Equal(t, "b.yaml", configPath([]string{"kirikou", "serve", "-c", "b.yaml"}))
	assert.Equal(t, "c.yaml", configPath([]string{"kirikou", "--config=c.yaml"}))
	assert.Empty(t, configPath([]string{"kirikou", "--config"}))

	t.Setenv("KIRIKOU_CONFIG", "env.yaml")
	assert.Equal(t, "env.yaml", configPath([]string{"kirikou", "--config", "a.yaml"}))
}

func TestPrintConfigMasksSecrets(t *testing.T) {
	clearEnv(t)
	cfg := parse(t, "--openai-key", "sk-abcdefXYZ", "--redis-password", "pw")

	var out bytes.Buffer
	cfg.PrintConfig(&out)
	assert.Contains(t, out.String(), "openai-key: *********XYZ")
	assert.Contains(t, out.String(), "redis-password: **")
	assert.NotContains(t, out.String(), "sk-abcdef")
}
