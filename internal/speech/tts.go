// Package speech turns reply text into audio: fish-speech synthesis followed by optional
// RVC voice conversion.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrSynthesis wraps fish-speech failures.
	ErrSynthesis = errors.New("speech synthesis failed")

	// ErrConversion wraps RVC failures.
	ErrConversion = errors.New("voice conversion failed")
)

// defaultTimeout bounds one synthesis or conversion call.
const defaultTimeout = 2 * time.Minute

// Synthesizer produces audio for text in a voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// Converter re-voices audio with a trained voice model.
type Converter interface {
	Convert(ctx context.Context, audio []byte, voice string) ([]byte, error)
}

// FishSpeech is a client for a fish-speech TTS server.
type FishSpeech struct {
	endpoint   string
	httpClient *http.Client
}

// NewFishSpeech creates a client for the server at host.
func NewFishSpeech(host string) *FishSpeech {
	return &FishSpeech{
		endpoint:   strings.TrimSuffix(host, "/") + "/v1/tts",
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

type ttsRequest struct {
	Text           string `json:"text"`
	Format         string `json:"format"`
	ReferenceID    string `json:"reference_id"`
	UseMemoryCache string `json:"use_memory_cache"`
	Normalize      string `json:"normalize"`
	Streaming      bool   `json:"streaming"`
}

// Synthesize returns WAV audio for text spoken with the voice's reference sample.
func (f *FishSpeech) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	resp, err := f.post(ctx, text, voice, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read audio: %v", ErrSynthesis, err)
	}
	return audio, nil
}

// SynthesizeStream passes audio to onChunk as the server produces it.
func (f *FishSpeech) SynthesizeStream(ctx context.Context, text, voice string, onChunk func([]byte) error) error {
	resp, err := f.post(ctx, text, voice, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if cbErr := onChunk(chunk); cbErr != nil {
				return cbErr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: read stream: %v", ErrSynthesis, err)
		}
	}
}

func (f *FishSpeech) post(ctx context.Context, text, voice string, stream bool) (*http.Response, error) {
	body, err := json.Marshal(ttsRequest{
		Text:           text,
		Format:         "wav",
		ReferenceID:    strings.ToLower(voice),
		UseMemoryCache: "on",
		Normalize:      "false",
		Streaming:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s - %s", ErrSynthesis, resp.Status, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}
