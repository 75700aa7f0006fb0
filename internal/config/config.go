package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kirikou/kirikou/internal/agent"
	"github.com/kirikou/kirikou/internal/inference"
	"github.com/kirikou/kirikou/internal/memory"
	"github.com/kirikou/kirikou/internal/ratelimit"
	"github.com/kirikou/kirikou/internal/server"
)

// Rate limiter backends
const (
	BackendRedis = "redis"
	BackendLocal = "local"
)

// Configuration is the resolved configuration of every component
type Configuration struct {
	Server    *server.Config
	Model     *inference.Config
	Memory    *memory.Config
	Agent     *agent.Config
	RateLimit *RateLimitConfig
	Verbose   bool
}

// RateLimitConfig selects and configures the admission backend
type RateLimitConfig struct {
	Backend string
	Policy  *ratelimit.Config
}

// YamlSource implements cli.ValueSource for a key of a YAML config file
type YamlSource struct {
	data map[string]any
	key  string
}

func (y *YamlSource) Lookup() (string, bool) {
	v, ok := y.data[y.key]
	if !ok || v == nil {
		return "", false
	}
	if slice, ok := v.([]any); ok {
		strs := make([]string, len(slice))
		for i, item := range slice {
			strs[i] = fmt.Sprintf("%v", item)
		}
		return strings.Join(strs, ","), true
	}
	return fmt.Sprintf("%v", v), true
}

func (y *YamlSource) String() string   { return "yaml" }
func (y *YamlSource) GoString() string { return "yaml" }

// GetFlags returns the flag set for args. The config file named in args (or
// KIRIKOU_CONFIG) is read up front so its keys can back every flag.
func GetFlags(args []string, stderr io.Writer) []cli.Flag {
	var configData map[string]any
	if path := configPath(args); path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			err = yaml.Unmarshal(data, &configData)
		}
		if err != nil {
			fmt.Fprintf(stderr, "Warning: failed to load config file %s: %v\n", path, err)
		}
	}

	// env > yaml > default
	src := func(key string, env ...string) cli.ValueSourceChain {
		chain := cli.ValueSourceChain{}
		for _, e := range env {
			chain.Chain = append(chain.Chain, cli.EnvVar(e))
		}
		if configData != nil {
			chain.Chain = append(chain.Chain, &YamlSource{data: configData, key: key})
		}
		return chain
	}

	model := inference.DefaultConfig()
	mem := memory.DefaultConfig()
	limits := ratelimit.DefaultConfig()
	srv := server.DefaultConfig()

	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "use the named YAML configuration file", Sources: cli.EnvVars("KIRIKOU_CONFIG")},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"V"}, Usage: "enable debug logging", Sources: src("verbose", "KIRIKOU_VERBOSE")},

		// Chat model
		&cli.StringFlag{Name: "provider", Value: model.Provider, Usage: "chat model provider (openai or ollama)", Sources: src("provider", "KIRIKOU_PROVIDER")},
		&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Value: model.Model, Usage: "chat model name", Sources: src("model", "KIRIKOU_MODEL")},
		&cli.FloatFlag{Name: "temperature", Value: model.Temperature, Usage: "sampling temperature", Sources: src("temperature", "KIRIKOU_TEMPERATURE")},
		&cli.StringFlag{Name: "openai-key", Usage: "OpenAI API key", Sources: src("openai-key", "KIRIKOU_OPENAI_KEY", "OPENAI_API_KEY")},
		&cli.StringFlag{Name: "openai-url", Value: model.OpenAIURL, Usage: "OpenAI API URL (for compatible endpoints)", Sources: src("openai-url", "KIRIKOU_OPENAI_URL")},
		&cli.StringFlag{Name: "ollama-url", Value: model.OllamaURL, Usage: "Ollama API URL", Sources: src("ollama-url", "KIRIKOU_OLLAMA_URL")},
		&cli.IntFlag{Name: "context-size", Value: model.ContextSize, Usage: "Ollama context window", Sources: src("context-size", "KIRIKOU_CONTEXT_SIZE")},
		&cli.DurationFlag{Name: "api-timeout", Value: model.Timeout, Usage: "timeout for each model request", Sources: src("api-timeout", "KIRIKOU_API_TIMEOUT")},

		// Agent
		&cli.IntFlag{Name: "max-iterations", Value: agent.DefaultConfig().MaxIterations, Usage: "maximum model turns per answer", Sources: src("max-iterations", "KIRIKOU_MAX_ITERATIONS")},
		&cli.StringFlag{Name: "prompt", Usage: "override the system prompt", Sources: src("prompt", "KIRIKOU_PROMPT")},

		// Knowledge base
		&cli.StringFlag{Name: "redis-url", Value: mem.RedisURL, Usage: "Redis address (host:port or redis:// URL)", Sources: src("redis-url", "KIRIKOU_REDIS_URL", "REDIS_URL")},
		&cli.StringFlag{Name: "redis-password", Usage: "Redis password", Sources: src("redis-password", "KIRIKOU_REDIS_PASSWORD")},
		&cli.IntFlag{Name: "redis-db", Value: mem.RedisDB, Usage: "Redis database number", Sources: src("redis-db", "KIRIKOU_REDIS_DB")},
		&cli.StringFlag{Name: "index", Value: mem.IndexName, Usage: "RediSearch index name", Sources: src("index", "KIRIKOU_INDEX")},
		&cli.StringFlag{Name: "embedding-provider", Value: mem.EmbeddingProvider, Usage: "embedding provider (openai, ollama or simple)", Sources: src("embedding-provider", "KIRIKOU_EMBEDDING_PROVIDER")},
		&cli.StringFlag{Name: "embedding-model", Value: mem.EmbeddingModel, Usage: "embedding model name", Sources: src("embedding-model", "KIRIKOU_EMBEDDING_MODEL")},
		&cli.IntFlag{Name: "embedding-dims", Value: mem.EmbeddingDimensions, Usage: "embedding vector dimensions", Sources: src("embedding-dims", "KIRIKOU_EMBEDDING_DIMS")},
		&cli.IntFlag{Name: "k", Value: mem.K, Usage: "passages returned per search", Sources: src("k", "KIRIKOU_K")},
		&cli.IntFlag{Name: "fetch-k", Value: mem.FetchK, Usage: "candidates fetched before MMR re-ranking", Sources: src("fetch-k", "KIRIKOU_FETCH_K")},
		&cli.FloatFlag{Name: "lambda", Value: mem.Lambda, Usage: "MMR relevance/diversity balance (1 is pure relevance)", Sources: src("lambda", "KIRIKOU_LAMBDA")},
		&cli.IntFlag{Name: "chunk-size", Value: mem.ChunkSize, Usage: "ingestion chunk size in characters", Sources: src("chunk-size", "KIRIKOU_CHUNK_SIZE")},
		&cli.IntFlag{Name: "chunk-overlap", Value: mem.ChunkOverlap, Usage: "ingestion chunk overlap in characters", Sources: src("chunk-overlap", "KIRIKOU_CHUNK_OVERLAP")},
		&cli.IntFlag{Name: "batch-size", Value: mem.BatchSize, Usage: "texts per embedding request", Sources: src("batch-size", "KIRIKOU_BATCH_SIZE")},
		&cli.IntFlag{Name: "workers", Value: mem.Workers, Usage: "concurrent embedding workers", Sources: src("workers", "KIRIKOU_WORKERS")},
		&cli.StringFlag{Name: "cache-path", Value: mem.CachePath, Usage: "embedding cache directory (empty disables the cache)", Sources: src("cache-path", "KIRIKOU_CACHE_PATH")},
		&cli.StringFlag{Name: "manifest-path", Value: mem.ManifestPath, Usage: "ingestion manifest database", Sources: src("manifest-path", "KIRIKOU_MANIFEST_PATH")},

		// Rate limiting
		&cli.StringFlag{Name: "ratelimit-backend", Value: BackendRedis, Usage: "rate limiter backend (redis or local)", Sources: src("ratelimit-backend", "KIRIKOU_RATELIMIT_BACKEND")},
		&cli.IntFlag{Name: "ratelimit-limit", Value: limits.Limit, Usage: "requests admitted per window", Sources: src("ratelimit-limit", "KIRIKOU_RATELIMIT_LIMIT")},
		&cli.DurationFlag{Name: "ratelimit-window", Value: limits.Window, Usage: "rate limit window", Sources: src("ratelimit-window", "KIRIKOU_RATELIMIT_WINDOW")},

		// HTTP server
		&cli.StringFlag{Name: "listen", Aliases: []string{"l"}, Value: srv.ListenAddr, Usage: "HTTP listen address", Sources: src("listen", "KIRIKOU_LISTEN")},
		&cli.BoolFlag{Name: "trust-proxy", Usage: "identify callers by the first X-Forwarded-For entry", Sources: src("trust-proxy", "KIRIKOU_TRUST_PROXY")},
		&cli.BoolFlag{Name: "return-intermediate-steps", Usage: "answer with JSON {output, sources} instead of streaming", Sources: src("return-intermediate-steps", "KIRIKOU_RETURN_INTERMEDIATE_STEPS")},
		&cli.DurationFlag{Name: "shutdown-timeout", Value: srv.ShutdownTimeout, Usage: "grace period for in-flight requests on shutdown", Sources: src("shutdown-timeout", "KIRIKOU_SHUTDOWN_TIMEOUT")},
	}
}

func configPath(args []string) string {
	if v := os.Getenv("KIRIKOU_CONFIG"); v != "" {
		return v
	}
	for i, arg := range args {
		if arg == "--config" || arg == "-c" {
			if i+1 < len(args) {
				return args[i+1]
			}
		}
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			return v
		}
	}
	return ""
}

// NewConfiguration maps parsed flags onto each component's config
func NewConfiguration(c *cli.Command) *Configuration {
	if c.IsSet("config") {
		zap.S().Infow("Using config file", "path", c.String("config"))
	}

	agentConfig := agent.DefaultConfig()
	agentConfig.MaxIterations = c.Int("max-iterations")
	if p := c.String("prompt"); p != "" {
		agentConfig.SystemPrompt = p
	}

	srv := server.DefaultConfig()
	srv.ListenAddr = c.String("listen")
	srv.TrustProxy = c.Bool("trust-proxy")
	srv.ReturnIntermediateSteps = c.Bool("return-intermediate-steps")
	srv.ShutdownTimeout = c.Duration("shutdown-timeout")

	limits := ratelimit.DefaultConfig()
	limits.Limit = c.Int("ratelimit-limit")
	limits.Window = c.Duration("ratelimit-window")

	return &Configuration{
		Server: srv,
		Model: &inference.Config{
			Provider:    c.String("provider"),
			Model:       c.String("model"),
			Temperature: c.Float("temperature"),
			OpenAIKey:   c.String("openai-key"),
			OpenAIURL:   c.String("openai-url"),
			OllamaURL:   c.String("ollama-url"),
			ContextSize: c.Int("context-size"),
			Timeout:     c.Duration("api-timeout"),
		},
		Memory: &memory.Config{
			RedisURL:            c.String("redis-url"),
			RedisPassword:       c.String("redis-password"),
			RedisDB:             c.Int("redis-db"),
			IndexName:           c.String("index"),
			KeyPrefix:           memory.DefaultConfig().KeyPrefix,
			CachePath:           c.String("cache-path"),
			ManifestPath:        c.String("manifest-path"),
			EmbeddingProvider:   c.String("embedding-provider"),
			EmbeddingModel:      c.String("embedding-model"),
			EmbeddingDimensions: c.Int("embedding-dims"),
			K:                   c.Int("k"),
			FetchK:              c.Int("fetch-k"),
			Lambda:              c.Float("lambda"),
			ChunkSize:           c.Int("chunk-size"),
			ChunkOverlap:        c.Int("chunk-overlap"),
			BatchSize:           c.Int("batch-size"),
			Workers:             c.Int("workers"),
		},
		Agent: agentConfig,
		RateLimit: &RateLimitConfig{
			Backend: c.String("ratelimit-backend"),
			Policy:  limits,
		},
		Verbose: c.Bool("verbose"),
	}
}

// Validate reports settings no component can run with
func (c *Configuration) Validate() error {
	switch c.RateLimit.Backend {
	case BackendRedis, BackendLocal:
	default:
		return fmt.Errorf("unknown rate limit backend: %s", c.RateLimit.Backend)
	}
	if c.RateLimit.Policy.Limit <= 0 || c.RateLimit.Policy.Window <= 0 {
		return fmt.Errorf("rate limit must admit at least one request per positive window")
	}
	if c.Memory.FetchK < c.Memory.K {
		return fmt.Errorf("fetch-k (%d) must be at least k (%d)", c.Memory.FetchK, c.Memory.K)
	}
	if c.Memory.Lambda < 0 || c.Memory.Lambda > 1 {
		return fmt.Errorf("lambda must be within [0, 1], got %g", c.Memory.Lambda)
	}
	if c.Memory.ChunkOverlap >= c.Memory.ChunkSize {
		return fmt.Errorf("chunk-overlap (%d) must be smaller than chunk-size (%d)", c.Memory.ChunkOverlap, c.Memory.ChunkSize)
	}
	return nil
}

// PrintConfig writes the effective configuration with secrets masked
func (c *Configuration) PrintConfig(w io.Writer) {
	fmt.Fprintf(w, "provider: %s\n", c.Model.Provider)
	fmt.Fprintf(w, "model: %s\n", c.Model.Model)
	fmt.Fprintf(w, "temperature: %.2f\n", c.Model.Temperature)
	fmt.Fprintf(w, "openai-key: %s\n", mask(c.Model.OpenAIKey))
	fmt.Fprintf(w, "openai-url: %s\n", c.Model.OpenAIURL)
	fmt.Fprintf(w, "ollama-url: %s\n", c.Model.OllamaURL)
	fmt.Fprintf(w, "api-timeout: %s\n", c.Model.Timeout)
	fmt.Fprintf(w, "max-iterations: %d\n", c.Agent.MaxIterations)
	fmt.Fprintf(w, "redis-url: %s\n", c.Memory.RedisURL)
	fmt.Fprintf(w, "redis-password: %s\n", mask(c.Memory.RedisPassword))
	fmt.Fprintf(w, "index: %s\n", c.Memory.IndexName)
	fmt.Fprintf(w, "embedding: %s/%s (%d dims)\n", c.Memory.EmbeddingProvider, c.Memory.EmbeddingModel, c.Memory.EmbeddingDimensions)
	fmt.Fprintf(w, "retrieval: k=%d fetch-k=%d lambda=%.2f\n", c.Memory.K, c.Memory.FetchK, c.Memory.Lambda)
	fmt.Fprintf(w, "ratelimit: %s %d per %s\n", c.RateLimit.Backend, c.RateLimit.Policy.Limit, c.RateLimit.Policy.Window)
	fmt.Fprintf(w, "listen: %s\n", c.Server.ListenAddr)
	fmt.Fprintf(w, "trust-proxy: %t\n", c.Server.TrustProxy)
	fmt.Fprintf(w, "return-intermediate-steps: %t\n", c.Server.ReturnIntermediateSteps)
}

func mask(secret string) string {
	if len(secret) <= 3 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-3) + secret[len(secret)-3:]
}
