// Package polly implements the speech synthesizer on Amazon Polly via
// aws-sdk-go-v2.
package polly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
)

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

type Config struct {
	Region  string
	VoiceID string
	Engine  string
	Timeout time.Duration
}

// ConfigFromEnv reads SLEEPSCRIPT_POLLY_REGION (falling back to
// AWS_REGION), SLEEPSCRIPT_POLLY_VOICE, and SLEEPSCRIPT_POLLY_ENGINE.
func ConfigFromEnv() Config {
	return Config{
		Region:  defaultString(os.Getenv("SLEEPSCRIPT_POLLY_REGION"), defaultString(os.Getenv("AWS_REGION"), "us-east-1")),
		VoiceID: defaultString(os.Getenv("SLEEPSCRIPT_POLLY_VOICE"), "Joanna"),
		Engine:  defaultString(os.Getenv("SLEEPSCRIPT_POLLY_ENGINE"), "neural"),
		Timeout: 60 * time.Second,
	}
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// Synthesizer synthesizes chunks as MP3. The AWS client is resolved lazily
// so construction never touches the credential chain.
type Synthesizer struct {
	mu     sync.Mutex
	client synthClient
	cfg    Config
}

func New(cfg Config) (*Synthesizer, error) {
	return NewWithClient(cfg, nil)
}

// NewWithClient injects a pre-built client; tests pass fakes here.
func NewWithClient(cfg Config, client synthClient) (*Synthesizer, error) {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		cfg.VoiceID = "Joanna"
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "neural"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Synthesizer{client: client, cfg: cfg}, nil
}

func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	client, err := s.resolveClient(ctx)
	if err != nil {
		return nil, err
	}

	engine := pollytypes.EngineStandard
	if strings.EqualFold(s.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	output, err := client.SynthesizeSpeech(callCtx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(s.cfg.VoiceID),
	})
	if err != nil {
		return nil, normalizeError(err)
	}
	if output == nil || output.AudioStream == nil {
		return nil, errors.New("polly: response carries no audio stream")
	}
	defer output.AudioStream.Close()

	audio, err := io.ReadAll(output.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("polly: read audio stream: %w", err)
	}
	return audio, nil
}

// normalizeError keeps the smithy error code in the message so the manager
// log distinguishes throttling from client errors from server faults.
func normalizeError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException":
			return fmt.Errorf("polly: throttled: %w", err)
		case "InvalidSsmlException", "TextLengthExceededException", "LexiconNotFoundException", "InvalidSampleRateException":
			return fmt.Errorf("polly: rejected request (%s): %w", apiErr.ErrorCode(), err)
		default:
			return fmt.Errorf("polly: service error (%s): %w", apiErr.ErrorCode(), err)
		}
	}
	return fmt.Errorf("polly: transport error: %w", err)
}

func (s *Synthesizer) resolveClient(ctx context.Context) (synthClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(s.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	s.client = polly.NewFromConfig(awsCfg)
	return s.client, nil
}
