// Package models defines the data structures shared by the memory, agent and service layers.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes conversation utterances from the rolling summary.
type Kind string

const (
	KindChatHistory Kind = "chatHistory"
	KindChatSummary Kind = "chatSummary"
)

// Significance says what makes a memory worth recalling.
type Significance string

const (
	SignificanceEvent    Significance = "Event"
	SignificanceLocation Significance = "Location"
	SignificanceNone     Significance = "None"
)

// SelfAuthor marks memories written by the agent itself.
const SelfAuthor = "Self"

// Memory is one stored utterance or system fact.
// Importance and Explicitness are stored but not yet used for ranking.
type Memory struct {
	ID           string       `json:"id"`
	Kind         Kind         `json:"kind"`
	Importance   float64      `json:"importance"`
	Explicitness float64      `json:"explicitness"`
	Significance Significance `json:"significance"`
	Author       string       `json:"author"`
	Text         string       `json:"text"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// NewChatMemory returns a chat history record authored by author.
func NewChatMemory(author, text string) Memory {
	return Memory{
		ID:           uuid.NewString(),
		Kind:         KindChatHistory,
		Significance: SignificanceNone,
		Author:       author,
		Text:         text,
		CreatedAt:    time.Now().UTC(),
	}
}

// NewSummaryMemory returns a summary record. Summaries are always authored by the agent.
func NewSummaryMemory(text string) Memory {
	m := NewChatMemory(SelfAuthor, text)
	m.Kind = KindChatSummary
	return m
}

// IsSelf reports whether the agent wrote the memory.
func (m Memory) IsSelf() bool {
	return m.Author == SelfAuthor
}
