package tts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/calmhollow/sleepscript/internal/config"
)

// Synthesizer is the vendor boundary: one text chunk in, encoded audio out.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Manager drives chunked synthesis. Failed chunks get exactly one retry
// round after a delay; chunks that still fail are skipped with a warning,
// and the remaining audio is concatenated in chunk order.
type Manager struct {
	synth Synthesizer
	cfg   config.TTSSettings
	log   *zap.Logger
	sleep func(time.Duration)
}

func NewManager(synth Synthesizer, cfg config.TTSSettings, log *zap.Logger) *Manager {
	return &Manager{synth: synth, cfg: cfg, log: log, sleep: time.Sleep}
}

// WithSleep replaces the retry delay sleep, for tests.
func (m *Manager) WithSleep(sleep func(time.Duration)) *Manager {
	m.sleep = sleep
	return m
}

// ConvertToAudio synthesizes the whole text and returns the concatenated
// audio. The MP3 default keeps byte concatenation valid across chunks.
// An error is returned only when no chunk synthesized at all.
func (m *Manager) ConvertToAudio(ctx context.Context, text string) ([]byte, error) {
	chunks := ChunkText(text, m.cfg.ChunkSizeBytes)
	if len(chunks) == 0 {
		return nil, errors.New("no text to synthesize")
	}
	m.log.Info("synthesizing audio",
		zap.Int("chunks", len(chunks)),
		zap.String("provider", m.cfg.Provider),
		zap.String("voice", m.cfg.VoiceName))

	audio := make([][]byte, len(chunks))
	var failed []int
	for i, chunk := range chunks {
		data, err := m.synth.Synthesize(ctx, chunk)
		if err != nil {
			m.log.Warn("chunk synthesis failed", zap.Int("chunk", i+1), zap.Error(err))
			failed = append(failed, i)
			continue
		}
		audio[i] = data
	}

	if len(failed) > 0 {
		m.log.Info("retrying failed chunks",
			zap.Int("count", len(failed)),
			zap.Duration("delay", m.cfg.RetryDelay))
		m.sleep(m.cfg.RetryDelay)
		var stillFailed []int
		for _, i := range failed {
			data, err := m.synth.Synthesize(ctx, chunks[i])
			if err != nil {
				m.log.Warn("chunk retry failed, skipping", zap.Int("chunk", i+1), zap.Error(err))
				stillFailed = append(stillFailed, i)
				continue
			}
			audio[i] = data
		}
		failed = stillFailed
	}

	var out []byte
	synthesized := 0
	for _, data := range audio {
		if data == nil {
			continue
		}
		out = append(out, data...)
		synthesized++
	}
	if synthesized == 0 {
		return nil, fmt.Errorf("all %d chunks failed to synthesize", len(chunks))
	}
	if len(failed) > 0 {
		m.log.Warn("audio is partial",
			zap.Int("synthesized", synthesized),
			zap.Int("skipped", len(failed)))
	}
	return out, nil
}
