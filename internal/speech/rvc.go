package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// RVC is a client for an RVC voice-conversion server. The server holds one loaded model,
// so conversions are serialized to keep load and convert paired.
type RVC struct {
	host       string
	httpClient *http.Client

	mu     sync.Mutex
	loaded string
}

// NewRVC creates a client for the server at host.
func NewRVC(host string) *RVC {
	return &RVC{
		host:       strings.TrimSuffix(host, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// LoadModel makes voice the server's active model.
func (r *RVC) LoadModel(ctx context.Context, voice string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked(ctx, voice)
}

func (r *RVC) loadLocked(ctx context.Context, voice string) error {
	voice = strings.ToLower(voice)
	if r.loaded == voice {
		return nil
	}
	if _, err := r.post(ctx, "/models/"+voice, nil); err != nil {
		return err
	}
	r.loaded = voice
	return nil
}

// Convert loads voice if needed and re-voices audio with it.
func (r *RVC) Convert(ctx context.Context, audio []byte, voice string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{
		"audio_data": base64.StdEncoding.EncodeToString(audio),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.loadLocked(ctx, voice); err != nil {
		return nil, err
	}
	out, err := r.post(ctx, "/convert", payload)
	if err != nil {
		// The server may have restarted without our model.
		r.loaded = ""
		return nil, err
	}
	return out, nil
}

func (r *RVC) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.host+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConversion, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConversion, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: %s - %s", ErrConversion, path, resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}
