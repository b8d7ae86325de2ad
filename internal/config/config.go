// Package config loads pipeline settings from defaults, an optional YAML
// file, and SLEEPSCRIPT_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/calmhollow/sleepscript/internal/llm"
)

// StageConfig holds the sampling parameters for one pipeline stage. The
// output-token ceiling is computed per call from the length target, except
// for stages with a fixed ceiling (research, stitching).
type StageConfig struct {
	Temperature     float64 `mapstructure:"temperature"`
	TopP            float64 `mapstructure:"top_p"`
	TopK            int     `mapstructure:"top_k"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens"`
}

// Generation converts the stage settings to a per-call generation config.
func (s StageConfig) Generation(format llm.ResponseFormat, maxOutputTokens int) llm.GenerationConfig {
	if maxOutputTokens <= 0 {
		maxOutputTokens = s.MaxOutputTokens
	}
	return llm.GenerationConfig{
		Temperature:     s.Temperature,
		TopP:            s.TopP,
		TopK:            s.TopK,
		MaxOutputTokens: maxOutputTokens,
		Format:          format,
	}
}

// TTSSettings configures the optional speech-synthesis phase.
type TTSSettings struct {
	Provider       string        `mapstructure:"provider"`
	VoiceName      string        `mapstructure:"voice_name"`
	LanguageCode   string        `mapstructure:"language_code"`
	SpeakingRate   float64       `mapstructure:"speaking_rate"`
	AudioEncoding  string        `mapstructure:"audio_encoding"`
	ChunkSizeBytes int           `mapstructure:"chunk_size_bytes"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

// Settings is the full runtime configuration.
type Settings struct {
	LLMProvider string `mapstructure:"llm_provider"`

	WordsPerMinute        int     `mapstructure:"words_per_minute"`
	TokensPerWord         float64 `mapstructure:"tokens_per_word"`
	TokenBufferFraction   float64 `mapstructure:"token_buffer_fraction"`
	ModelMaxOutputTokens  int     `mapstructure:"model_max_output_tokens"`
	AvgWordsPerParagraph  int     `mapstructure:"avg_words_per_paragraph"`
	LengthVarianceMinutes float64 `mapstructure:"length_variance_minutes"`
	MaxExpansionAttempts  int     `mapstructure:"max_expansion_attempts"`
	MinExpansionMinutes   float64 `mapstructure:"min_expansion_minutes"`

	MaxSmoothingPasses     int     `mapstructure:"max_smoothing_passes"`
	SmoothingChunkChars    int     `mapstructure:"smoothing_chunk_chars"`
	SmoothingCharsPerToken float64 `mapstructure:"smoothing_chars_per_token"`
	SmoothingTokenMargin   int     `mapstructure:"smoothing_token_margin"`
	ResearchCharLimit      int     `mapstructure:"research_char_limit"`

	MaxRetries        int           `mapstructure:"max_retries"`
	InitialRetryDelay time.Duration `mapstructure:"initial_retry_delay"`

	BaseOutputDir string `mapstructure:"base_output_dir"`
	LogFileName   string `mapstructure:"log_file_name"`

	Research StageConfig `mapstructure:"research"`
	Proposal StageConfig `mapstructure:"proposal"`
	Section  StageConfig `mapstructure:"section"`
	Stitch   StageConfig `mapstructure:"stitch"`

	TTS TTSSettings `mapstructure:"tts"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm_provider", "gemini")

	v.SetDefault("words_per_minute", 140)
	v.SetDefault("tokens_per_word", 1.4)
	v.SetDefault("token_buffer_fraction", 0.30)
	v.SetDefault("model_max_output_tokens", 8192)
	v.SetDefault("avg_words_per_paragraph", 85)
	v.SetDefault("length_variance_minutes", 1.5)
	v.SetDefault("max_expansion_attempts", 6)
	v.SetDefault("min_expansion_minutes", 1.0)

	v.SetDefault("max_smoothing_passes", 5)
	v.SetDefault("smoothing_chunk_chars", 300000)
	v.SetDefault("smoothing_chars_per_token", 3.5)
	v.SetDefault("smoothing_token_margin", 300)
	v.SetDefault("research_char_limit", 300000)

	v.SetDefault("max_retries", 3)
	v.SetDefault("initial_retry_delay", "5s")

	v.SetDefault("base_output_dir", "output")
	v.SetDefault("log_file_name", "run.log")

	v.SetDefault("research.temperature", 0.2)
	v.SetDefault("research.top_p", 0.9)
	v.SetDefault("research.top_k", 40)
	v.SetDefault("research.max_output_tokens", 7000)

	v.SetDefault("proposal.temperature", 0.6)
	v.SetDefault("proposal.top_p", 0.9)
	v.SetDefault("proposal.top_k", 40)
	v.SetDefault("proposal.max_output_tokens", 2048)

	v.SetDefault("section.temperature", 0.25)
	v.SetDefault("section.top_p", 0.9)
	v.SetDefault("section.top_k", 40)
	v.SetDefault("section.max_output_tokens", 8192)

	v.SetDefault("stitch.temperature", 0.25)
	v.SetDefault("stitch.top_p", 0.9)
	v.SetDefault("stitch.top_k", 40)
	v.SetDefault("stitch.max_output_tokens", 8192)

	v.SetDefault("tts.provider", "google")
	v.SetDefault("tts.voice_name", "en-US-Neural2-D")
	v.SetDefault("tts.language_code", "en-US")
	v.SetDefault("tts.speaking_rate", 0.85)
	v.SetDefault("tts.audio_encoding", "MP3")
	v.SetDefault("tts.chunk_size_bytes", 4500)
	v.SetDefault("tts.retry_delay", "30s")
}

// Load builds Settings from defaults, the optional config file at path, and
// the environment. An empty path skips file loading.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("SLEEPSCRIPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects settings that would make the convergence loops degenerate.
func (s *Settings) Validate() error {
	if s.WordsPerMinute < 1 {
		return fmt.Errorf("words_per_minute %d below 1", s.WordsPerMinute)
	}
	if s.TokensPerWord <= 0 {
		return fmt.Errorf("tokens_per_word %v not positive", s.TokensPerWord)
	}
	if s.TokenBufferFraction < 0 {
		return fmt.Errorf("token_buffer_fraction %v negative", s.TokenBufferFraction)
	}
	if s.ModelMaxOutputTokens < 1 {
		return fmt.Errorf("model_max_output_tokens %d below 1", s.ModelMaxOutputTokens)
	}
	if s.AvgWordsPerParagraph < 1 {
		return fmt.Errorf("avg_words_per_paragraph %d below 1", s.AvgWordsPerParagraph)
	}
	if s.LengthVarianceMinutes <= 0 {
		return fmt.Errorf("length_variance_minutes %v not positive", s.LengthVarianceMinutes)
	}
	if s.MaxExpansionAttempts < 0 {
		return fmt.Errorf("max_expansion_attempts %d negative", s.MaxExpansionAttempts)
	}
	if s.MaxSmoothingPasses < 1 {
		return fmt.Errorf("max_smoothing_passes %d below 1", s.MaxSmoothingPasses)
	}
	if s.SmoothingChunkChars < 1 {
		return fmt.Errorf("smoothing_chunk_chars %d below 1", s.SmoothingChunkChars)
	}
	if s.MaxRetries < 1 {
		return fmt.Errorf("max_retries %d below 1", s.MaxRetries)
	}
	if s.TTS.ChunkSizeBytes < 1 {
		return fmt.Errorf("tts.chunk_size_bytes %d below 1", s.TTS.ChunkSizeBytes)
	}
	return nil
}
