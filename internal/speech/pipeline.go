package speech

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/tempest/internal/metrics"
	"github.com/raphaelgruber/tempest/internal/models"
	"github.com/raphaelgruber/tempest/internal/parser"
)

// Pipeline speaks reply text: it rewrites words the synthesizer mispronounces, synthesizes
// them, then converts the audio to the personality's trained voice.
type Pipeline struct {
	tts     Synthesizer
	rvc     Converter
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewPipeline creates a pipeline. rvc may be nil to skip conversion; mc and logger may be nil.
func NewPipeline(tts Synthesizer, rvc Converter, mc *metrics.Collector, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{tts: tts, rvc: rvc, metrics: mc, logger: logger}
}

// Speak returns audio for text in the personality's voice. Personalities without a trained
// voice use the synthesizer's default reference and skip conversion. Blank text yields no audio.
func (p *Pipeline) Speak(ctx context.Context, text string, personality models.Personality) ([]byte, error) {
	spoken := strings.TrimSpace(parser.FilterForSpeech(text))
	if spoken == "" {
		return nil, nil
	}

	start := time.Now()
	voice := personality.Voice()

	audio, err := p.tts.Synthesize(ctx, spoken, voice)
	if err != nil {
		return nil, err
	}

	if voice != models.DefaultVoice && p.rvc != nil {
		audio, err = p.rvc.Convert(ctx, audio, voice)
		if err != nil {
			return nil, err
		}
	}

	if p.metrics != nil {
		p.metrics.RecordTiming(metrics.OpSynthesis, time.Since(start))
	}
	p.logger.Debug("speech synthesized",
		"voice", voice,
		"text_len", len(spoken),
		"audio_bytes", len(audio),
		"duration_ms", time.Since(start).Milliseconds())
	return audio, nil
}
