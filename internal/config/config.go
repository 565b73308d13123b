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
	LogFormat    string `yaml:"log_format"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Output      OutputConfig     `yaml:"output"`
	LLM         LLMConfig        `yaml:"llm"`
	Book        BookConfig       `yaml:"book"`
	Pacer       PacerConfig      `yaml:"pacer"`
	TTS         TTSConfig        `yaml:"tts"`
	Audio       AudioConfig      `yaml:"audio"`
	Jobs        JobsConfig       `yaml:"jobs"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	StatusStream   string   `yaml:"status_stream"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// OutputConfig controls where generated projects are written.
type OutputConfig struct {
	ProjectFolder string `yaml:"project_folder"`
}

type LLMConfig struct {
	Mode         string  `yaml:"mode"` // mock, gemini, ollama, exec, openai
	Endpoint     string  `yaml:"endpoint"`
	Command      string  `yaml:"command"`
	APIKey       string  `yaml:"api_key"`
	Model        string  `yaml:"model"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	TopP         float64 `yaml:"top_p"`
	MimeType     string  `yaml:"response_mime_type"`
	MaxRetries   int     `yaml:"max_retries"`
	RetryDelayMS int     `yaml:"retry_delay_ms"`
	TimeoutMS    int     `yaml:"timeout_ms"`
}

type BookConfig struct {
	Chapters               int      `yaml:"chapters"`
	Instructions           []string `yaml:"instructions"`
	AdditionalInstructions string   `yaml:"additional_instructions"`
	SavePrompts            bool     `yaml:"save_prompts"`
}

// PacerConfig selects how elaboration requests are spaced.
type PacerConfig struct {
	Mode          string `yaml:"mode"` // fixed, redis
	DelayMS       int    `yaml:"delay_ms"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Key           string `yaml:"key"`
	Limit         int    `yaml:"limit"`
	WindowMS      int    `yaml:"window_ms"`
}

type TTSConfig struct {
	Mode               string   `yaml:"mode"` // google, mock
	APIKey             string   `yaml:"api_key"`
	Endpoint           string   `yaml:"endpoint"`
	LanguageCode       string   `yaml:"language_code"`
	Voice              string   `yaml:"voice"`
	SpeakingRate       float64  `yaml:"speaking_rate"`
	Pitch              float64  `yaml:"pitch"`
	AudioEncoding      string   `yaml:"audio_encoding"`
	StandardCharLimit  int      `yaml:"standard_char_limit"`
	StandardByteLimit  int      `yaml:"standard_byte_limit"`
	LongCharLimit      int      `yaml:"long_char_limit"`
	UseLongAudio       bool     `yaml:"use_long_audio"`
	GCPProjectID       string   `yaml:"gcp_project_id"`
	GCPBucket          string   `yaml:"gcp_bucket"`
	LongTimeoutS       int      `yaml:"long_timeout_s"`
	SkipExisting       bool     `yaml:"skip_existing"`
	PreprocessMarkdown bool     `yaml:"preprocess_markdown"`
	ExcludeTables      bool     `yaml:"exclude_tables"`
	SaveText           bool     `yaml:"save_text"`
	UseSSML            bool     `yaml:"use_ssml"`
	ForcePlainText     bool     `yaml:"force_plain_text"`
	SSMLVoices         []string `yaml:"ssml_voices"`
	MarkdownRulesFile  string   `yaml:"markdown_rules_file"`
	SSMLRulesFile      string   `yaml:"ssml_rules_file"`
}

// LongFormReady reports whether long-form synthesis has usable GCP settings.
func (c TTSConfig) LongFormReady() bool {
	if !c.UseLongAudio {
		return false
	}
	if c.GCPProjectID == "" || c.GCPProjectID == "YOUR_GCP_PROJECT_ID" {
		return false
	}
	if c.GCPBucket == "" || c.GCPBucket == "YOUR_GCP_BUCKET_NAME" {
		return false
	}
	return true
}

type AudioConfig struct {
	AutoConvert      bool   `yaml:"auto_convert"`
	Bitrate          string `yaml:"bitrate"`
	SampleRate       int    `yaml:"sample_rate"`
	BitDepth         int    `yaml:"bit_depth"`
	Channels         int    `yaml:"channels"`
	ConverterCommand string `yaml:"converter_command"`
}

type JobsConfig struct {
	Enabled   bool `yaml:"enabled"`
	QueueSize int  `yaml:"queue_size"`
	TimeoutS  int  `yaml:"timeout_s"`
}

var defaultSSMLVoices = []string{
	"en-US-Neural2-A", "en-US-Neural2-C", "en-US-Neural2-D", "en-US-Neural2-E", "en-US-Neural2-F",
	"en-US-Neural2-G", "en-US-Neural2-H", "en-US-Neural2-I", "en-US-Neural2-J",
	"en-US-Wavenet-A", "en-US-Wavenet-B", "en-US-Wavenet-C", "en-US-Wavenet-D", "en-US-Wavenet-E",
	"en-US-Wavenet-F", "en-US-Wavenet-G", "en-US-Wavenet-H", "en-US-Wavenet-I", "en-US-Wavenet-J",
	"en-US-Standard-A", "en-US-Standard-B", "en-US-Standard-C", "en-US-Standard-D", "en-US-Standard-E",
	"en-US-Standard-F", "en-US-Standard-G", "en-US-Standard-H", "en-US-Standard-I", "en-US-Standard-J",
}

func Default() Config {
	return Config{
		RuntimeName: "minibook",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			LogFormat:    "json",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			StatusStream:   "MINIBOOK_JOBS",
		},
		EventStore: EventStoreConfig{
			Path:          "./data/minibook-runs.db",
			RetentionMode: "persistent",
			RetentionDays: 90,
			MaxRuns:       1000,
		},
		Output: OutputConfig{
			ProjectFolder: "MyBooks",
		},
		LLM: LLMConfig{
			Mode:         "mock",
			Endpoint:     "",
			Model:        "gemini-2.0-flash",
			MaxTokens:    0,
			Temperature:  0.7,
			TopP:         0.95,
			MimeType:     "text/plain",
			MaxRetries:   3,
			RetryDelayMS: 3000,
			TimeoutMS:    300000,
		},
		Book: BookConfig{
			Chapters:    6,
			SavePrompts: true,
		},
		Pacer: PacerConfig{
			Mode:     "fixed",
			DelayMS:  3000,
			Key:      "minibook:llm",
			Limit:    10,
			WindowMS: 60000,
		},
		TTS: TTSConfig{
			Mode:               "google",
			Endpoint:           "https://texttospeech.googleapis.com",
			LanguageCode:       "en-US",
			Voice:              "en-US-Chirp3-HD-Aoede",
			SpeakingRate:       1.0,
			Pitch:              0,
			AudioEncoding:      "MP3",
			StandardCharLimit:  5000,
			StandardByteLimit:  5000,
			LongCharLimit:      100000,
			UseLongAudio:       true,
			LongTimeoutS:       360,
			SkipExisting:       true,
			PreprocessMarkdown: true,
			ExcludeTables:      true,
			SaveText:           true,
			UseSSML:            true,
			ForcePlainText:     true,
			SSMLVoices:         append([]string(nil), defaultSSMLVoices...),
			MarkdownRulesFile:  "configs/markdown_rules.json",
			SSMLRulesFile:      "configs/ssml_rules.json",
		},
		Audio: AudioConfig{
			AutoConvert:      true,
			Bitrate:          "64k",
			SampleRate:       22050,
			BitDepth:         16,
			Channels:         1,
			ConverterCommand: "ffmpeg -y -loglevel error -i {input} -b:a {bitrate} -q:a 0 {output}",
		},
		Jobs: JobsConfig{
			Enabled:   true,
			QueueSize: 16,
			TimeoutS:  3600,
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
	overrideString(&cfg.RuntimeName, "MINIBOOK_RUNTIME_NAME")
	overrideString(&cfg.Environment, "MINIBOOK_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "MINIBOOK_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MINIBOOK_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "MINIBOOK_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "MINIBOOK_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MINIBOOK_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MINIBOOK_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "MINIBOOK_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "MINIBOOK_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "MINIBOOK_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "MINIBOOK_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "MINIBOOK_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "MINIBOOK_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "MINIBOOK_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "MINIBOOK_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "MINIBOOK_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.StatusStream, "MINIBOOK_BUS_STATUS_STREAM")
	overrideString(&cfg.EventStore.Path, "MINIBOOK_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "MINIBOOK_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "MINIBOOK_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRuns, "MINIBOOK_EVENT_STORE_MAX_RUNS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "MINIBOOK_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Output.ProjectFolder, "MINIBOOK_OUTPUT_PROJECT_FOLDER")
	overrideString(&cfg.LLM.Mode, "MINIBOOK_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "MINIBOOK_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "MINIBOOK_LLM_COMMAND")
	overrideString(&cfg.LLM.APIKey, "GOOGLE_API_KEY")
	overrideString(&cfg.LLM.APIKey, "MINIBOOK_LLM_API_KEY")
	overrideString(&cfg.LLM.Model, "MINIBOOK_LLM_MODEL")
	overrideInt(&cfg.LLM.MaxTokens, "MINIBOOK_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "MINIBOOK_LLM_TEMPERATURE")
	overrideFloat(&cfg.LLM.TopP, "MINIBOOK_LLM_TOP_P")
	overrideString(&cfg.LLM.MimeType, "MINIBOOK_LLM_RESPONSE_MIME_TYPE")
	overrideInt(&cfg.LLM.MaxRetries, "MINIBOOK_LLM_MAX_RETRIES")
	overrideInt(&cfg.LLM.RetryDelayMS, "MINIBOOK_LLM_RETRY_DELAY_MS")
	overrideInt(&cfg.LLM.TimeoutMS, "MINIBOOK_LLM_TIMEOUT_MS")
	overrideInt(&cfg.Book.Chapters, "MINIBOOK_BOOK_CHAPTERS")
	overrideStringSlice(&cfg.Book.Instructions, "MINIBOOK_BOOK_INSTRUCTIONS")
	overrideString(&cfg.Book.AdditionalInstructions, "MINIBOOK_BOOK_ADDITIONAL_INSTRUCTIONS")
	overrideBool(&cfg.Book.SavePrompts, "MINIBOOK_BOOK_SAVE_PROMPTS")
	overrideString(&cfg.Pacer.Mode, "MINIBOOK_PACER_MODE")
	overrideInt(&cfg.Pacer.DelayMS, "MINIBOOK_PACER_DELAY_MS")
	overrideString(&cfg.Pacer.RedisAddr, "MINIBOOK_PACER_REDIS_ADDR")
	overrideString(&cfg.Pacer.RedisPassword, "MINIBOOK_PACER_REDIS_PASSWORD")
	overrideInt(&cfg.Pacer.RedisDB, "MINIBOOK_PACER_REDIS_DB")
	overrideString(&cfg.Pacer.Key, "MINIBOOK_PACER_KEY")
	overrideInt(&cfg.Pacer.Limit, "MINIBOOK_PACER_LIMIT")
	overrideInt(&cfg.Pacer.WindowMS, "MINIBOOK_PACER_WINDOW_MS")
	overrideString(&cfg.TTS.Mode, "MINIBOOK_TTS_MODE")
	overrideString(&cfg.TTS.APIKey, "API_TTS_KEY")
	overrideString(&cfg.TTS.APIKey, "MINIBOOK_TTS_API_KEY")
	overrideString(&cfg.TTS.Endpoint, "MINIBOOK_TTS_ENDPOINT")
	overrideString(&cfg.TTS.LanguageCode, "MINIBOOK_TTS_LANGUAGE_CODE")
	overrideString(&cfg.TTS.Voice, "MINIBOOK_TTS_VOICE")
	overrideFloat(&cfg.TTS.SpeakingRate, "MINIBOOK_TTS_SPEAKING_RATE")
	overrideFloat(&cfg.TTS.Pitch, "MINIBOOK_TTS_PITCH")
	overrideString(&cfg.TTS.AudioEncoding, "MINIBOOK_TTS_AUDIO_ENCODING")
	overrideBool(&cfg.TTS.UseLongAudio, "MINIBOOK_TTS_USE_LONG_AUDIO")
	overrideString(&cfg.TTS.GCPProjectID, "GCP_PROJECT_ID")
	overrideString(&cfg.TTS.GCPProjectID, "MINIBOOK_TTS_GCP_PROJECT_ID")
	overrideString(&cfg.TTS.GCPBucket, "GCP_BUCKET_NAME")
	overrideString(&cfg.TTS.GCPBucket, "MINIBOOK_TTS_GCP_BUCKET")
	overrideInt(&cfg.TTS.LongTimeoutS, "MINIBOOK_TTS_LONG_TIMEOUT_S")
	overrideBool(&cfg.TTS.SkipExisting, "MINIBOOK_TTS_SKIP_EXISTING")
	overrideBool(&cfg.TTS.PreprocessMarkdown, "MINIBOOK_TTS_PREPROCESS_MARKDOWN")
	overrideBool(&cfg.TTS.ExcludeTables, "MINIBOOK_TTS_EXCLUDE_TABLES")
	overrideBool(&cfg.TTS.SaveText, "MINIBOOK_TTS_SAVE_TEXT")
	overrideBool(&cfg.TTS.UseSSML, "MINIBOOK_TTS_USE_SSML")
	overrideBool(&cfg.TTS.ForcePlainText, "MINIBOOK_TTS_FORCE_PLAIN_TEXT")
	overrideStringSlice(&cfg.TTS.SSMLVoices, "MINIBOOK_TTS_SSML_VOICES")
	overrideString(&cfg.TTS.MarkdownRulesFile, "MINIBOOK_TTS_MARKDOWN_RULES_FILE")
	overrideString(&cfg.TTS.SSMLRulesFile, "MINIBOOK_TTS_SSML_RULES_FILE")
	overrideBool(&cfg.Audio.AutoConvert, "MINIBOOK_AUDIO_AUTO_CONVERT")
	overrideString(&cfg.Audio.Bitrate, "MINIBOOK_AUDIO_BITRATE")
	overrideInt(&cfg.Audio.SampleRate, "MINIBOOK_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.BitDepth, "MINIBOOK_AUDIO_BIT_DEPTH")
	overrideInt(&cfg.Audio.Channels, "MINIBOOK_AUDIO_CHANNELS")
	overrideString(&cfg.Audio.ConverterCommand, "MINIBOOK_AUDIO_CONVERTER_COMMAND")
	overrideBool(&cfg.Jobs.Enabled, "MINIBOOK_JOBS_ENABLED")
	overrideInt(&cfg.Jobs.QueueSize, "MINIBOOK_JOBS_QUEUE_SIZE")
	overrideInt(&cfg.Jobs.TimeoutS, "MINIBOOK_JOBS_TIMEOUT_S")
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
	switch strings.ToLower(cfg.Telemetry.LogFormat) {
	case "json", "text":
	default:
		return errors.New("telemetry.log_format must be one of json|text")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Output.ProjectFolder == "" {
		return errors.New("output.project_folder must not be empty")
	}
	switch cfg.LLM.Mode {
	case "mock", "gemini", "ollama", "exec", "openai":
	default:
		return errors.New("llm.mode must be one of mock|gemini|ollama|exec|openai")
	}
	if cfg.LLM.Mode == "openai" && cfg.LLM.APIKey == "" && cfg.LLM.Endpoint == "" {
		return errors.New("llm.api_key or llm.endpoint must be set when mode=openai")
	}
	if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
		return errors.New("llm.command must be set when mode=exec")
	}
	if cfg.LLM.Mode != "mock" && cfg.LLM.Mode != "exec" && cfg.LLM.Model == "" {
		return fmt.Errorf("llm.model must not be empty when mode=%s", cfg.LLM.Mode)
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return errors.New("llm.temperature must be between 0 and 2")
	}
	if cfg.LLM.TopP < 0 || cfg.LLM.TopP > 1 {
		return errors.New("llm.top_p must be between 0 and 1")
	}
	if cfg.LLM.MaxRetries < 0 {
		return errors.New("llm.max_retries must be >= 0")
	}
	if cfg.LLM.RetryDelayMS < 0 {
		return errors.New("llm.retry_delay_ms must be >= 0")
	}
	if cfg.Book.Chapters <= 0 {
		return errors.New("book.chapters must be positive")
	}
	switch cfg.Pacer.Mode {
	case "fixed":
		if cfg.Pacer.DelayMS < 0 {
			return errors.New("pacer.delay_ms must be >= 0")
		}
	case "redis":
		if cfg.Pacer.RedisAddr == "" {
			return errors.New("pacer.redis_addr must be set when mode=redis")
		}
		if cfg.Pacer.Limit <= 0 {
			return errors.New("pacer.limit must be positive when mode=redis")
		}
		if cfg.Pacer.WindowMS <= 0 {
			return errors.New("pacer.window_ms must be positive when mode=redis")
		}
	default:
		return errors.New("pacer.mode must be one of fixed|redis")
	}
	switch cfg.TTS.Mode {
	case "google", "mock":
	default:
		return errors.New("tts.mode must be one of google|mock")
	}
	if cfg.TTS.LanguageCode == "" {
		return errors.New("tts.language_code must not be empty")
	}
	if cfg.TTS.AudioEncoding == "" {
		return errors.New("tts.audio_encoding must not be empty")
	}
	if cfg.TTS.SpeakingRate < 0.25 || cfg.TTS.SpeakingRate > 4.0 {
		return errors.New("tts.speaking_rate must be between 0.25 and 4.0")
	}
	if cfg.TTS.Pitch < -20 || cfg.TTS.Pitch > 20 {
		return errors.New("tts.pitch must be between -20 and 20")
	}
	if cfg.TTS.StandardCharLimit <= 0 || cfg.TTS.StandardByteLimit <= 0 {
		return errors.New("tts.standard_char_limit and tts.standard_byte_limit must be positive")
	}
	if cfg.TTS.LongCharLimit < cfg.TTS.StandardCharLimit {
		return errors.New("tts.long_char_limit must be >= tts.standard_char_limit")
	}
	if cfg.TTS.UseLongAudio && cfg.TTS.LongTimeoutS <= 0 {
		return errors.New("tts.long_timeout_s must be positive when long audio is enabled")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	switch cfg.Audio.BitDepth {
	case 8, 16, 24, 32:
	default:
		return errors.New("audio.bit_depth must be one of 8|16|24|32")
	}
	if cfg.Audio.AutoConvert && cfg.Audio.ConverterCommand == "" {
		return errors.New("audio.converter_command must be set when auto_convert is enabled")
	}
	if cfg.Jobs.Enabled && cfg.Jobs.QueueSize <= 0 {
		return errors.New("jobs.queue_size must be >= 1")
	}
	return nil
}
