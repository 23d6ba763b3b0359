package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	StdoutTraces bool   `yaml:"stdout_traces"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Catalog     CatalogConfig   `yaml:"catalog"`
	Storage     StorageConfig   `yaml:"storage"`
	Source      SourceConfig    `yaml:"source"`
	Speech      SpeechConfig    `yaml:"speech"`
	Worker      WorkerConfig    `yaml:"worker"`
	Normalize   NormalizeConfig `yaml:"normalize"`
	Alignment   AlignmentConfig `yaml:"alignment"`
	Audio       AudioConfig     `yaml:"audio"`
	Sitemap     SitemapConfig   `yaml:"sitemap"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type CatalogConfig struct {
	Path        string `yaml:"path"`
	BusyRetries int    `yaml:"busy_retries"`
}

type StorageConfig struct {
	WebDir string `yaml:"web_dir"`
}

type SourceConfig struct {
	BaseURL     string `yaml:"base_url"`
	SiteURL     string `yaml:"site_url"`
	ContentID   string `yaml:"content_id"`
	UserAgent   string `yaml:"user_agent"`
	TimeoutMS   int    `yaml:"timeout_ms"`
	TLSInsecure bool   `yaml:"tls_insecure"`
}

type SpeechConfig struct {
	Provider                   string  `yaml:"provider"` // elevenlabs, elevenlabs-http, exec, mock
	Endpoint                   string  `yaml:"endpoint"`
	Command                    string  `yaml:"command"`
	TimeoutMS                  int     `yaml:"timeout_ms"`
	VoicesPath                 string  `yaml:"voices_path"`
	SystemVoice                string  `yaml:"system_voice"`
	CredentialsPath            string  `yaml:"credentials_path"`
	APIKey                     string  `yaml:"api_key"`
	CredentialPollSeconds      int     `yaml:"credential_poll_seconds"`
	TransientDelayMS           int     `yaml:"transient_delay_ms"`
	QuotaBackoffInitialSeconds int     `yaml:"quota_backoff_initial_seconds"`
	QuotaBackoffMultiplier     float64 `yaml:"quota_backoff_multiplier"`
	QuotaBackoffMaxSeconds     int     `yaml:"quota_backoff_max_seconds"`
	RequestsPerMinute          int     `yaml:"requests_per_minute"`
}

type WorkerConfig struct {
	Generate      bool     `yaml:"generate"`
	Refresh       bool     `yaml:"refresh"`
	AlwaysUpdate  []string `yaml:"always_update"`
	AlwaysRefresh []string `yaml:"always_refresh"`
	Disallow      []string `yaml:"disallow"`
	Allow         []string `yaml:"allow"`
	MaxSections   int      `yaml:"max_sections"`
}

type RewriteRule struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

type NormalizeConfig struct {
	Rules []RewriteRule `yaml:"rules"`
}

type CorrectionRule struct {
	Pattern     []string `yaml:"pattern"`
	Replacement string   `yaml:"replacement"`
	Offset      int      `yaml:"offset"`
	Regex       bool     `yaml:"regex"`
}

type AlignmentConfig struct {
	Rules     []CorrectionRule `yaml:"rules"`
	ListItems bool             `yaml:"list_items"`
}

type AudioConfig struct {
	Enabled          bool           `yaml:"enabled"`
	Command          string         `yaml:"command"`
	SampleRate       int            `yaml:"sample_rate"`
	SilenceMS        map[string]int `yaml:"silence_ms"`
	DefaultSilenceMS int            `yaml:"default_silence_ms"`
}

type SitemapConfig struct {
	BaseURL     string `yaml:"base_url"`
	ArticlePath string `yaml:"article_path"`
	ChangeFreq  string `yaml:"changefreq"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-narrator",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Catalog: CatalogConfig{
			Path:        "./data/narrator.db",
			BusyRetries: 5,
		},
		Storage: StorageConfig{
			WebDir: "./web",
		},
		Source: SourceConfig{
			BaseURL:   "https://www.profounddecisions.co.uk/empire-wiki",
			SiteURL:   "https://www.profounddecisions.co.uk",
			ContentID: "mw-content-text",
			UserAgent: "loqa-narrator/1.0",
			TimeoutMS: 30000,
		},
		Speech: SpeechConfig{
			Provider:                   "mock",
			TimeoutMS:                  120000,
			VoicesPath:                 "./config/voices.json",
			SystemVoice:                "Ella",
			CredentialsPath:            "./config/credentials.yaml",
			CredentialPollSeconds:      600,
			TransientDelayMS:           10000,
			QuotaBackoffInitialSeconds: 3600,
			QuotaBackoffMultiplier:     2,
			QuotaBackoffMaxSeconds:     86400,
		},
		Worker: WorkerConfig{
			Generate:      false,
			Refresh:       false,
			AlwaysRefresh: []string{"", "text-to-speech:disallowed", "text-to-speech:error"},
			Disallow: []string{
				"Category:.*",
				"Construct_.*",
				"Contact_Profound_Decisions",
				"Empire_rules",
				"File:.*",
				"Gazetteer",
				"Maps",
				"Nation_overview",
				"Pronunciation_guide",
				"Raise_Dawnish_army_Summer_385YE",
				"Recent_history",
				"Reconstruct_.*",
				"Safety_overview",
				"Skills",
				"Wiki_Updates",
				`\d{3}YE_\w+_\w+_imperial_elections`,
				"text-to-speech:disallowed",
			},
			Allow:       []string{"Not_to_conquer"},
			MaxSections: 200,
		},
		Normalize: NormalizeConfig{
			Rules: []RewriteRule{
				{Pattern: "sumaah", Replacement: "Suhmah"},
				{Pattern: "jotun", Replacement: "Jotoon"},
				{Pattern: "vallorn", Replacement: "Valorn"},
				{Pattern: "feni", Replacement: "Fenni"},
				{Pattern: "in-character", Replacement: "incharacter"},
				{Pattern: "temeschwar", Replacement: "Temmeschwar"},
				{Pattern: "sermersuaq", Replacement: "semmersuak"},
				{Pattern: "thule", Replacement: "thool"},
				{Pattern: "egregore", Replacement: "egrigore"},
				{Pattern: `(?<=\d{3})YE`, Replacement: " Year of the Empire"},
				{Pattern: "yegarra", Replacement: "yehgarra"},
				{Pattern: `profounddecisions\.co\.uk`, Replacement: ""},
				{Pattern: "mareave", Replacement: "mareeve"},
			},
		},
		Alignment: AlignmentConfig{
			Rules: []CorrectionRule{
				{Pattern: []string{"Year", "of", "the", `Empire[,;.:?!'")]*`}, Replacement: "YE", Offset: 1, Regex: true},
			},
			ListItems: true,
		},
		Audio: AudioConfig{
			Enabled:    true,
			Command:    "ffmpeg -hide_banner -loglevel error -y",
			SampleRate: 44100,
			SilenceMS: map[string]int{
				"h1":   2000,
				"h2":   1000,
				"h3":   500,
				"p":    500,
				"ol":   500,
				"ul":   500,
				"cite": 500,
			},
			DefaultSilenceMS: 1000,
		},
		Sitemap: SitemapConfig{
			BaseURL:     "https://www.pprofounddecisions.co.uk/",
			ArticlePath: "empire-wiki/",
			ChangeFreq:  "weekly",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "NARRATOR_RUNTIME_NAME")
	overrideString(&cfg.Environment, "NARRATOR_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "NARRATOR_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "NARRATOR_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "NARRATOR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "NARRATOR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "NARRATOR_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "NARRATOR_TELEMETRY_STDOUT_TRACES")
	overrideBool(&cfg.Bus.Enabled, "NARRATOR_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "NARRATOR_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "NARRATOR_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "NARRATOR_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "NARRATOR_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "NARRATOR_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "NARRATOR_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "NARRATOR_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "NARRATOR_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Catalog.Path, "NARRATOR_CATALOG_PATH")
	overrideInt(&cfg.Catalog.BusyRetries, "NARRATOR_CATALOG_BUSY_RETRIES")
	overrideString(&cfg.Storage.WebDir, "NARRATOR_STORAGE_WEB_DIR")
	overrideString(&cfg.Source.BaseURL, "NARRATOR_SOURCE_BASE_URL")
	overrideString(&cfg.Source.SiteURL, "NARRATOR_SOURCE_SITE_URL")
	overrideString(&cfg.Source.ContentID, "NARRATOR_SOURCE_CONTENT_ID")
	overrideString(&cfg.Source.UserAgent, "NARRATOR_SOURCE_USER_AGENT")
	overrideInt(&cfg.Source.TimeoutMS, "NARRATOR_SOURCE_TIMEOUT_MS")
	overrideBool(&cfg.Source.TLSInsecure, "NARRATOR_SOURCE_TLS_INSECURE")
	overrideString(&cfg.Speech.Provider, "NARRATOR_SPEECH_PROVIDER")
	overrideString(&cfg.Speech.Endpoint, "NARRATOR_SPEECH_ENDPOINT")
	overrideString(&cfg.Speech.Command, "NARRATOR_SPEECH_COMMAND")
	overrideInt(&cfg.Speech.TimeoutMS, "NARRATOR_SPEECH_TIMEOUT_MS")
	overrideString(&cfg.Speech.VoicesPath, "NARRATOR_SPEECH_VOICES_PATH")
	overrideString(&cfg.Speech.SystemVoice, "NARRATOR_SPEECH_SYSTEM_VOICE")
	overrideString(&cfg.Speech.CredentialsPath, "NARRATOR_SPEECH_CREDENTIALS_PATH")
	overrideString(&cfg.Speech.APIKey, "NARRATOR_SPEECH_API_KEY")
	overrideInt(&cfg.Speech.CredentialPollSeconds, "NARRATOR_SPEECH_CREDENTIAL_POLL_SECONDS")
	overrideInt(&cfg.Speech.TransientDelayMS, "NARRATOR_SPEECH_TRANSIENT_DELAY_MS")
	overrideInt(&cfg.Speech.QuotaBackoffInitialSeconds, "NARRATOR_SPEECH_QUOTA_BACKOFF_INITIAL_SECONDS")
	overrideFloat(&cfg.Speech.QuotaBackoffMultiplier, "NARRATOR_SPEECH_QUOTA_BACKOFF_MULTIPLIER")
	overrideInt(&cfg.Speech.QuotaBackoffMaxSeconds, "NARRATOR_SPEECH_QUOTA_BACKOFF_MAX_SECONDS")
	overrideInt(&cfg.Speech.RequestsPerMinute, "NARRATOR_SPEECH_REQUESTS_PER_MINUTE")
	overrideBool(&cfg.Worker.Generate, "NARRATOR_WORKER_GENERATE")
	overrideBool(&cfg.Worker.Refresh, "NARRATOR_WORKER_REFRESH")
	overrideStringSlice(&cfg.Worker.AlwaysUpdate, "NARRATOR_WORKER_ALWAYS_UPDATE")
	overrideInt(&cfg.Worker.MaxSections, "NARRATOR_WORKER_MAX_SECTIONS")
	overrideBool(&cfg.Audio.Enabled, "NARRATOR_AUDIO_ENABLED")
	overrideString(&cfg.Audio.Command, "NARRATOR_AUDIO_COMMAND")
	overrideString(&cfg.Sitemap.BaseURL, "NARRATOR_SITEMAP_BASE_URL")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Catalog.Path == "" {
		return errors.New("catalog.path must not be empty")
	}
	if cfg.Catalog.BusyRetries < 0 {
		return errors.New("catalog.busy_retries must be >= 0")
	}
	if cfg.Storage.WebDir == "" {
		return errors.New("storage.web_dir must not be empty")
	}
	if cfg.Source.BaseURL == "" {
		return errors.New("source.base_url must not be empty")
	}
	if cfg.Source.TimeoutMS <= 0 {
		return errors.New("source.timeout_ms must be positive")
	}
	switch cfg.Speech.Provider {
	case "elevenlabs", "elevenlabs-http", "mock":
	case "exec":
		if cfg.Speech.Command == "" {
			return errors.New("speech.command must be set when provider=exec")
		}
	default:
		return errors.New("speech.provider must be one of elevenlabs|elevenlabs-http|exec|mock")
	}
	if cfg.Speech.VoicesPath == "" {
		return errors.New("speech.voices_path must not be empty")
	}
	if cfg.Speech.SystemVoice == "" {
		return errors.New("speech.system_voice must not be empty")
	}
	if cfg.Speech.TransientDelayMS <= 0 {
		return errors.New("speech.transient_delay_ms must be positive")
	}
	if cfg.Speech.QuotaBackoffInitialSeconds <= 0 {
		return errors.New("speech.quota_backoff_initial_seconds must be positive")
	}
	if cfg.Speech.QuotaBackoffMultiplier < 1 {
		return errors.New("speech.quota_backoff_multiplier must be >= 1")
	}
	if cfg.Speech.QuotaBackoffMaxSeconds < cfg.Speech.QuotaBackoffInitialSeconds {
		return errors.New("speech.quota_backoff_max_seconds must be >= quota_backoff_initial_seconds")
	}
	if cfg.Speech.CredentialPollSeconds <= 0 {
		return errors.New("speech.credential_poll_seconds must be positive")
	}
	if cfg.Speech.RequestsPerMinute < 0 {
		return errors.New("speech.requests_per_minute must be >= 0")
	}
	if cfg.Worker.MaxSections < 0 {
		return errors.New("worker.max_sections must be >= 0")
	}
	for i, r := range cfg.Normalize.Rules {
		if r.Pattern == "" {
			return fmt.Errorf("normalize.rules[%d].pattern must not be empty", i)
		}
	}
	for i, r := range cfg.Alignment.Rules {
		if len(r.Pattern) == 0 {
			return fmt.Errorf("alignment.rules[%d].pattern must not be empty", i)
		}
		if r.Offset < 0 {
			return fmt.Errorf("alignment.rules[%d].offset must be >= 0", i)
		}
	}
	if cfg.Audio.Enabled && cfg.Audio.Command == "" {
		return errors.New("audio.command must be set when audio is enabled")
	}
	if cfg.Audio.DefaultSilenceMS < 0 {
		return errors.New("audio.default_silence_ms must be >= 0")
	}
	return nil
}
