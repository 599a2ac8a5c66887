package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/scribeline/pkg/types"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram"},
}

// EnvPrefix prefixes the environment variables read by [ApplyEnv].
const EnvPrefix = "SCRIBELINE"

// envOverrides are the settings most often injected by a container runtime.
// Empty values leave the file configuration untouched.
type envOverrides struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR"`
	LogLevel     string `envconfig:"LOG_LEVEL"`
	StoreBackend string `envconfig:"STORE_BACKEND"`
	StorePath    string `envconfig:"STORE_PATH"`
	PostgresDSN  string `envconfig:"POSTGRES_DSN"`
	STTAPIKey    string `envconfig:"STT_API_KEY"`
	LLMAPIKey    string `envconfig:"LLM_API_KEY"`
}

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment without overriding variables that are already set. Missing files
// are skipped. With no arguments it reads ".env" in the working directory.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path, applies environment
// overrides and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and validates
// the result. ${VAR} references are expanded from the environment. Useful in
// tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))
	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with SCRIBELINE_* environment variables.
func ApplyEnv(cfg *Config) error {
	var o envOverrides
	if err := envconfig.Process(EnvPrefix, &o); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	setIf(&cfg.Server.ListenAddr, o.ListenAddr)
	if o.LogLevel != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(o.LogLevel))
	}
	if o.StoreBackend != "" {
		cfg.Store.Backend = StoreBackend(strings.ToLower(o.StoreBackend))
	}
	setIf(&cfg.Store.Path, o.StorePath)
	setIf(&cfg.Store.PostgresDSN, o.PostgresDSN)
	setIf(&cfg.Providers.STT.APIKey, o.STTAPIKey)
	setIf(&cfg.Providers.LLM.APIKey, o.LLMAPIKey)
	return nil
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreMemory
	}
	if cfg.Recorder.DefaultKind == "" {
		cfg.Recorder.DefaultKind = types.SessionOther
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "scribeline"
	}
	if cfg.Telemetry.MetricsPath == "" {
		cfg.Telemetry.MetricsPath = "/metrics"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; live capture will not be available")
	}
	if cfg.Providers.LLM.Name == "" {
		if len(cfg.Providers.LLMFallbacks) > 0 {
			errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
		}
		if cfg.Answer.IsEnabled() {
			slog.Warn("no LLM provider configured; questions will not be answered")
		}
		if cfg.Recorder.Summarise {
			slog.Warn("recorder.summarise is set but no LLM provider is configured; sessions are saved without summary")
		}
	}

	if err := cfg.Classifier.Resolve().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("classifier: %w", err))
	}

	a := cfg.Answer
	if a.ContextWindow < 0 {
		errs = append(errs, fmt.Errorf("answer.context_window must not be negative, got %d", a.ContextWindow))
	}
	if a.MaxPromptTokens < 0 {
		errs = append(errs, fmt.Errorf("answer.max_prompt_tokens must not be negative, got %d", a.MaxPromptTokens))
	}
	if a.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("answer.max_concurrent must not be negative, got %d", a.MaxConcurrent))
	}
	if a.Timeout < 0 {
		errs = append(errs, fmt.Errorf("answer.timeout must not be negative, got %s", a.Timeout))
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		errs = append(errs, fmt.Errorf("answer.temperature %.2f is out of range [0, 2]", a.Temperature))
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		errs = append(errs, fmt.Errorf("answer.confidence %.2f is out of range [0, 1]", a.Confidence))
	}

	v := cfg.Vocabulary
	if v.PhoneticThreshold < 0 || v.PhoneticThreshold > 1 {
		errs = append(errs, fmt.Errorf("vocabulary.phonetic_threshold %.2f is out of range [0, 1]", v.PhoneticThreshold))
	}
	if v.FuzzyThreshold < 0 || v.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("vocabulary.fuzzy_threshold %.2f is out of range [0, 1]", v.FuzzyThreshold))
	}
	if v.KeywordBoost < 0 {
		errs = append(errs, fmt.Errorf("vocabulary.keyword_boost must not be negative, got %g", v.KeywordBoost))
	}

	switch st := cfg.Store; {
	case st.Backend != "" && !st.Backend.IsValid():
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, sqlite, postgres", st.Backend))
	case st.Backend == StoreSQLite && st.Path == "":
		errs = append(errs, errors.New("store.path is required when backend is sqlite"))
	case st.Backend == StorePostgres && st.PostgresDSN == "":
		errs = append(errs, errors.New("store.postgres_dsn is required when backend is postgres"))
	}

	if k := cfg.Recorder.DefaultKind; k != "" && !k.Valid() {
		errs = append(errs, fmt.Errorf("recorder.default_kind %q is invalid; valid values: lecture, meeting, interview, other", k))
	}
	if p := cfg.Telemetry.MetricsPath; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("telemetry.metrics_path %q must start with /", p))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// marshal renders cfg back to YAML. The watcher hashes this form so that
// formatting-only edits do not trigger a reload.
func marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
