package parser

import "strings"

const reasoningClose = "</think>"

// StripReasoning drops everything up to and including the closing reasoning tag.
// Text without the tag is returned unchanged.
func StripReasoning(text string) string {
	idx := strings.Index(text, reasoningClose)
	if idx < 0 {
		return text
	}
	return strings.TrimSpace(text[idx+len(reasoningClose):])
}

// transcriptFixes maps common speech-to-text mis-hearings of the character name back to it.
// Longer forms come first so " Remerow" is not read as " Remer" + "ow".
var transcriptFixes = strings.NewReplacer(
	" Remerow", " Rimuru", " remerow", " Rimuru",
	" Remaroo", " Rimuru", " remaroo", " Rimuru",
	" Reimuer", " Rimuru", " reimuer", " Rimuru",
	" Reemaru", " Rimuru", " reemaru", " Rimuru",
	" Reemuru", " Rimuru", " reemuru", " Rimuru",
	" Remeru", " Rimuru", " remeru", " Rimuru",
	" Remaru", " Rimuru", " remaru", " Rimuru",
	" Rimaru", " Rimuru", " rimaru", " Rimuru",
	" Reamer", " Rimuru", " reamer", " Rimuru",
	" Rimmer", " Rimuru", " rimmer", " Rimuru",
	" Remer", " Rimuru", " remer", " Rimuru",
	" Imaru", " Rimuru", " imaru", " Rimuru",
)

// FilterTranscript repairs a speech-to-text transcript before it reaches the gate or memory.
func FilterTranscript(text string) string {
	return transcriptFixes.Replace(text)
}

// speechFixes respells names for the synthesizer and removes markup it would read aloud.
var speechFixes = strings.NewReplacer(
	"Rimuru", "Reemaru",
	"Shion", "Sheeown",
	"*", "",
	" - ", ", ",
)

// FilterForSpeech prepares reply text for speech synthesis.
func FilterForSpeech(text string) string {
	return speechFixes.Replace(text)
}
