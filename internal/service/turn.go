package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/tempest/internal/agent"
	"github.com/raphaelgruber/tempest/internal/gate"
	"github.com/raphaelgruber/tempest/internal/memory"
	"github.com/raphaelgruber/tempest/internal/models"
	"github.com/raphaelgruber/tempest/internal/parser"
	"github.com/raphaelgruber/tempest/internal/session"
	"github.com/raphaelgruber/tempest/internal/tools"
)

// HandleTurn answers a text prompt. With onChunk set, each sentence is streamed as soon as
// it is generated and the returned Response carries the full reply without audio.
func (s *Service) HandleTurn(ctx context.Context, req Request, onChunk ChunkFunc) (Response, error) {
	if err := validate(req); err != nil {
		return Response{}, err
	}

	channel := ResolveIdentity(req.UserID)
	p := s.catalog.Resolve(req.Personality)

	c, err := s.agent.Collection(ctx, channel)
	if err != nil {
		return Response{}, err
	}

	results := s.useTools(ctx, req.Prompt, p)

	defer s.turns.lock(channel)()
	if err := s.agent.SaveIncomingPrompt(ctx, c, req.Prompt, req.UserID); err != nil {
		return Response{}, fmt.Errorf("save prompt: %w", err)
	}

	turn := agent.Turn{Prompt: req.Prompt, Speaker: req.UserID, Personality: p, ToolResults: results}
	return s.respond(ctx, c, turn, onChunk)
}

// respond runs the turn and shapes its reply for the front end.
func (s *Service) respond(ctx context.Context, c memory.Collection, turn agent.Turn, onChunk ChunkFunc) (Response, error) {
	var sink agent.Sink
	if onChunk != nil {
		sink = s.chunkSink(ctx, turn, onChunk)
	}

	raw, err := s.agent.RunTurn(ctx, c, turn, sink)
	if err != nil {
		return Response{}, err
	}

	resp := Response{RespondingTo: turn.Prompt, Response: parser.StripReasoning(raw)}
	if onChunk != nil || s.speech == nil {
		return resp, nil
	}

	audio, err := s.speech.Speak(ctx, resp.Response, turn.Personality)
	if err != nil {
		return Response{}, err
	}
	resp.Audio = encodeAudio(audio)
	return resp, nil
}

// chunkSink turns reply sentences into chunks, hiding a leading reasoning block and
// attaching audio per sentence. A failed synthesis still delivers the text.
func (s *Service) chunkSink(ctx context.Context, turn agent.Turn, onChunk ChunkFunc) agent.Sink {
	var reasoning reasoningFilter
	return func(sentence string) error {
		text := reasoning.visible(sentence)
		if text == "" {
			return nil
		}

		chunk := Chunk{RespondingTo: turn.Prompt, Response: text}
		if s.speech != nil {
			audio, err := s.speech.Speak(ctx, text, turn.Personality)
			if err != nil {
				s.logger.Warn("sentence synthesis failed", "error", err)
			} else {
				chunk.Audio = encodeAudio(audio)
			}
		}
		return onChunk(chunk)
	}
}

func encodeAudio(audio []byte) string {
	if len(audio) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(audio)
}

// reasoningFilter drops streamed sentences belonging to a leading <think> block.
type reasoningFilter struct {
	started bool
	inside  bool
}

func (r *reasoningFilter) visible(sentence string) string {
	if !r.started {
		r.started = true
		r.inside = strings.HasPrefix(strings.TrimSpace(sentence), "<think>")
	}
	if !r.inside {
		return sentence
	}
	if !strings.Contains(sentence, "</think>") {
		return ""
	}
	r.inside = false
	return parser.StripReasoning(sentence)
}

// HandleVoiceTurn answers a transcribed utterance through the channel's voice session.
// Declined and superseded utterances yield ErrGateDeclined or ErrSuperseded.
func (s *Service) HandleVoiceTurn(ctx context.Context, req Request, onChunk ChunkFunc) (Response, error) {
	if err := validate(req); err != nil {
		return Response{}, err
	}

	channel := ResolveIdentity(req.UserID)
	p := s.catalog.Resolve(req.Personality)
	text := parser.FilterTranscript(req.Prompt)

	c, err := s.agent.Collection(ctx, channel)
	if err != nil {
		return Response{}, err
	}

	h := &voiceTurn{svc: s, collection: c, speaker: req.UserID, personality: p, onChunk: onChunk}

	outcome, err := s.sessions.Get(channel).Submit(ctx, text, h)
	if errors.Is(err, session.ErrEvicted) {
		s.logger.Debug("session evicted before submit, retrying", "channel", channel)
		outcome, err = s.sessions.Get(channel).Submit(ctx, text, h)
	}
	if err != nil {
		return Response{}, err
	}

	switch outcome {
	case session.Responded:
		return h.resp, nil
	case session.Declined:
		return Response{}, ErrGateDeclined
	default:
		s.logger.Debug("voice utterance not answered", "channel", channel, "outcome", outcome.String())
		return Response{}, ErrSuperseded
	}
}

// voiceTurn carries one voice request through the session's steps.
type voiceTurn struct {
	svc         *Service
	collection  memory.Collection
	speaker     string
	personality models.Personality
	onChunk     ChunkFunc

	results []tools.Result
	resp    Response
}

func (v *voiceTurn) request(text string) gate.Request {
	return gate.Request{Prompt: text, Speaker: v.speaker, Personality: v.personality}
}

func (v *voiceTurn) Prepare(ctx context.Context, text string) error {
	v.results = v.svc.useTools(ctx, text, v.personality)
	return nil
}

func (v *voiceTurn) ShouldRespond(ctx context.Context, text string) (bool, error) {
	return v.svc.gate.ShouldRespond(ctx, v.collection, v.request(text))
}

func (v *voiceTurn) Respond(ctx context.Context, text string) error {
	defer v.svc.turns.lock(v.collection.Channel)()
	if err := v.svc.agent.SaveIncomingPrompt(ctx, v.collection, text, v.speaker); err != nil {
		return fmt.Errorf("save prompt: %w", err)
	}

	turn := agent.Turn{Prompt: text, Speaker: v.speaker, Personality: v.personality, ToolResults: v.results}
	resp, err := v.svc.respond(ctx, v.collection, turn, v.onChunk)
	if err != nil {
		return err
	}
	v.resp = resp
	return nil
}

func (v *voiceTurn) IsConvoEnd(ctx context.Context, text string) (bool, error) {
	return v.svc.gate.IsConvoEnd(ctx, v.collection, v.request(text))
}

func (v *voiceTurn) Remember(ctx context.Context, text string) error {
	return v.svc.agent.SaveIncomingPrompt(ctx, v.collection, text, v.speaker)
}
