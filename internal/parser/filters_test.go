package parser

import "testing"

func TestStripReasoning(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no reasoning", "Hello there.", "Hello there."},
		{"reasoning block", "<think>they asked about food</think>\n\nI love ramen!", "I love ramen!"},
		{"only closing tag", "some leaked thoughts</think> Hi.", "Hi."},
		{"nothing after", "<think>hmm</think>", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripReasoning(tt.in); got != tt.want {
				t.Errorf("StripReasoning(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFilterTranscript(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hey Rimmer, how are you?", "Hey Rimuru, how are you?"},
		{"hey remerow what's up", "hey Rimuru what's up"},
		{"okay Remer and Remaroo", "okay Rimuru and Rimuru"},
		{"Reamer", "Reamer"}, // needs a leading space
		{"hi Rimuru", "hi Rimuru"},
		{"talk to imaru later", "talk to Rimuru later"},
	}

	for _, tt := range tests {
		if got := FilterTranscript(tt.in); got != tt.want {
			t.Errorf("FilterTranscript(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFilterForSpeech(t *testing.T) {
	got := FilterForSpeech("*smiles* Rimuru and Shion - together again. *waves*")
	want := "smiles Reemaru and Sheeown, together again. waves"
	if got != want {
		t.Errorf("FilterForSpeech() = %q, want %q", got, want)
	}
}
