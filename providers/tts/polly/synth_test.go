package polly

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
)

type fakeSynthClient struct {
	err   error
	input *polly.SynthesizeSpeechInput
}

func (f *fakeSynthClient) SynthesizeSpeech(_ context.Context, params *polly.SynthesizeSpeechInput, _ ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &polly.SynthesizeSpeechOutput{
		AudioStream: io.NopCloser(bytes.NewReader([]byte("mp3"))),
	}, nil
}

func TestSynthesizeReadsStream(t *testing.T) {
	t.Parallel()

	client := &fakeSynthClient{}
	s, err := NewWithClient(Config{Region: "us-east-1", VoiceID: "Joanna", Engine: "neural"}, client)
	if err != nil {
		t.Fatalf("NewWithClient: %v", err)
	}

	audio, err := s.Synthesize(context.Background(), "the tide rises")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !bytes.Equal(audio, []byte("mp3")) {
		t.Fatalf("audio = %q", audio)
	}
	if client.input.Engine != pollytypes.EngineNeural {
		t.Fatalf("engine = %q, want neural", client.input.Engine)
	}
	if client.input.OutputFormat != pollytypes.OutputFormatMp3 {
		t.Fatalf("output format = %q, want mp3", client.input.OutputFormat)
	}
	if *client.input.Text != "the tide rises" {
		t.Fatalf("text = %q", *client.input.Text)
	}
}

func TestSynthesizeNormalizesAPIErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code string
		want string
	}{
		{"TooManyRequestsException", "throttled"},
		{"TextLengthExceededException", "rejected request"},
		{"ServiceFailureException", "service error"},
	}
	for _, tc := range cases {
		client := &fakeSynthClient{err: &smithy.GenericAPIError{Code: tc.code, Message: "nope"}}
		s, _ := NewWithClient(Config{}, client)

		_, err := s.Synthesize(context.Background(), "text")
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err = %v, want %q", tc.code, err, tc.want)
		}
	}
}

func TestSynthesizeTransportError(t *testing.T) {
	t.Parallel()

	client := &fakeSynthClient{err: errors.New("connection reset")}
	s, _ := NewWithClient(Config{}, client)

	_, err := s.Synthesize(context.Background(), "text")
	if err == nil || !strings.Contains(err.Error(), "transport error") {
		t.Fatalf("err = %v, want transport error", err)
	}
}

func TestConfigDefaultsApplied(t *testing.T) {
	t.Parallel()

	s, err := NewWithClient(Config{}, &fakeSynthClient{})
	if err != nil {
		t.Fatalf("NewWithClient: %v", err)
	}
	if s.cfg.Region != "us-east-1" || s.cfg.VoiceID != "Joanna" || s.cfg.Engine != "neural" {
		t.Fatalf("defaults = %+v", s.cfg)
	}
}
