package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidVoices lists the synthesis voices the realtime API currently accepts.
// Used by [Validate] to warn about unrecognised voice names.
var ValidVoices = []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"}

// ValidLLMProviders lists known auxiliary text-model backends. Used by
// [Validate] to warn about unrecognised provider names.
var ValidLLMProviders = []string{"openai", "anthropic", "gemini", "ollama", "mistral"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Model session
	if cfg.Model.APIKey == "" {
		errs = append(errs, errors.New("model.api_key is required"))
	}
	if cfg.Model.ToolTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("model.tool_timeout_seconds %d is negative", cfg.Model.ToolTimeoutSeconds))
	}

	// Telephony
	if cfg.Telephony.StreamURL == "" {
		slog.Warn("telephony.stream_url is empty; inbound calls cannot connect a media stream")
	} else if u, err := url.Parse(cfg.Telephony.StreamURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("telephony.stream_url %q must be a ws:// or wss:// URL", cfg.Telephony.StreamURL))
	}

	// Auxiliary LLM
	if cfg.LLM.Provider != "" && !slices.Contains(ValidLLMProviders, cfg.LLM.Provider) {
		slog.Warn("unknown llm provider name — may be a typo or third-party provider",
			"name", cfg.LLM.Provider,
			"known", ValidLLMProviders,
		)
	}

	// Persistence availability
	if cfg.Postgres.DSN == "" {
		slog.Warn("postgres.dsn is empty; call records, escalations, and knowledge search will not be available")
	}
	if cfg.Redis.Addr == "" {
		slog.Warn("redis.addr is empty; retrieval caching is disabled")
	}
	if cfg.Embeddings.Dimensions < 0 {
		errs = append(errs, fmt.Errorf("embeddings.dimensions %d is negative", cfg.Embeddings.Dimensions))
	}

	// Escalation thresholds
	if t := cfg.Escalation.SentimentThreshold; t < -1 || t > 0 {
		errs = append(errs, fmt.Errorf("escalation.sentiment_threshold %.2f is out of range [-1, 0]", t))
	}
	if t := cfg.Escalation.ComplexityThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("escalation.complexity_threshold %.2f is out of range [0, 1]", t))
	}

	// Retrieval
	if cfg.Retrieval.TopK < 0 {
		errs = append(errs, fmt.Errorf("retrieval.top_k %d is negative", cfg.Retrieval.TopK))
	}

	// Businesses
	idsSeen := make(map[string]int, len(cfg.Businesses))
	for i, b := range cfg.Businesses {
		prefix := fmt.Sprintf("businesses[%d]", i)
		if b.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := idsSeen[b.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of businesses[%d]", prefix, b.ID, prev))
			}
			idsSeen[b.ID] = i
		}
		if b.Temperature != 0 && (b.Temperature < 0.6 || b.Temperature > 1.2) {
			errs = append(errs, fmt.Errorf("%s.temperature %.2f is out of range [0.6, 1.2]", prefix, b.Temperature))
		}
		if b.Voice != "" && !slices.Contains(ValidVoices, b.Voice) {
			slog.Warn("unknown voice name — may be a typo or a newly added voice",
				"business", b.ID,
				"voice", b.Voice,
				"known", ValidVoices,
			)
		}
	}

	// MCP servers
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == MCPTransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == MCPTransportHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}
