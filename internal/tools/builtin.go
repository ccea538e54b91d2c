package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/raphaelgruber/tempest/internal/llm"
)

// Built-in tool names.
const (
	OpenDoorName = "openDoor"
	DefaultName  = "defaultTool"
)

func noParameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"required":   []string{},
		"properties": map[string]any{},
	}
}

// DoorTool opens the door through the home tool server.
type DoorTool struct {
	url    string
	client *http.Client
}

// NewDoorTool returns the door tool posting to {host}/tools/door.
func NewDoorTool(host string) *DoorTool {
	return &DoorTool{
		url:    strings.TrimRight(host, "/") + "/tools/door",
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Definition implements Tool.
func (d *DoorTool) Definition() llm.Tool {
	return llm.Tool{
		Name:        OpenDoorName,
		Description: "Use this when the user asks you to open the door, or to let them in or out",
		Parameters:  noParameters(),
	}
}

// Invoke implements Tool.
func (d *DoorTool) Invoke(ctx context.Context, _ string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tool server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("tool server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return fmt.Sprintf("door opened (%d bytes from tool server)", len(body)), nil
}

// DefaultTool is what the model calls when no other tool fits. It does nothing.
type DefaultTool struct{}

// Definition implements Tool.
func (DefaultTool) Definition() llm.Tool {
	return llm.Tool{
		Name:        DefaultName,
		Description: "This is the default tool, call this tool when none of the other tools seem to fit the users request",
		Parameters:  noParameters(),
	}
}

// Invoke implements Tool.
func (DefaultTool) Invoke(context.Context, string) (string, error) {
	return "no action needed", nil
}
