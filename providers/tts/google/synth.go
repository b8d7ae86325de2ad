// Package google implements the speech synthesizer on the Google Cloud
// Text-to-Speech text:synthesize HTTP endpoint.
package google

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/calmhollow/sleepscript/internal/config"
)

const defaultEndpoint = "https://texttospeech.googleapis.com/v1/text:synthesize"

type Config struct {
	APIKey   string
	Endpoint string
	Timeout  time.Duration
}

// ConfigFromEnv reads SLEEPSCRIPT_GOOGLE_TTS_API_KEY (falling back to
// GOOGLE_TTS_API_KEY) and SLEEPSCRIPT_GOOGLE_TTS_ENDPOINT.
func ConfigFromEnv() Config {
	key := os.Getenv("SLEEPSCRIPT_GOOGLE_TTS_API_KEY")
	if key == "" {
		key = os.Getenv("GOOGLE_TTS_API_KEY")
	}
	return Config{
		APIKey:   key,
		Endpoint: defaultString(os.Getenv("SLEEPSCRIPT_GOOGLE_TTS_ENDPOINT"), defaultEndpoint),
		Timeout:  60 * time.Second,
	}
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// Synthesizer posts one chunk per request and decodes the base64 audio.
type Synthesizer struct {
	cfg   Config
	voice config.TTSSettings
	http  *http.Client
}

func New(cfg Config, voice config.TTSSettings) (*Synthesizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("google tts: api key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Synthesizer{cfg: cfg, voice: voice, http: &http.Client{Timeout: timeout}}, nil
}

func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body := map[string]any{
		"input": map[string]any{"text": text},
		"voice": map[string]any{
			"name":         s.voice.VoiceName,
			"languageCode": s.voice.LanguageCode,
		},
		"audioConfig": map[string]any{
			"audioEncoding": s.voice.AudioEncoding,
			"speakingRate":  s.voice.SpeakingRate,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("google tts: encode request: %w", err)
	}

	url := s.cfg.Endpoint + "?key=" + s.cfg.APIKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("google tts: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google tts: synthesize call: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("google tts: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("google tts: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var decoded struct {
		AudioContent string `json:"audioContent"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("google tts: decode response: %w", err)
	}
	if decoded.AudioContent == "" {
		return nil, fmt.Errorf("google tts: response carries no audio")
	}
	audio, err := base64.StdEncoding.DecodeString(decoded.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("google tts: decode audio: %w", err)
	}
	return audio, nil
}
