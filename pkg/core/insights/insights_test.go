package insights

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/mohit-ai/mohit/pkg/core/types"
)

func TestRenderTranscript_LabelsSpeakers(t *testing.T) {
	callID := uuid.New()
	got, err := renderTranscript(Input{
		Call: &types.Call{ID: callID},
		Transcript: []types.TranscriptEntry{
			{CallID: callID, Speaker: types.SpeakerAI, Text: "Hi, this is Mohit."},
			{CallID: callID, Speaker: types.SpeakerCaller, Text: "  I want pricing.  "},
			{CallID: callID, Speaker: types.SpeakerAgent, Text: ""},
		},
	})
	if err != nil {
		t.Fatalf("renderTranscript() error = %v", err)
	}
	want := "AI agent: Hi, this is Mohit.\nLead: I want pricing.\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRenderTranscript_FallsBackToTwilioTranscription(t *testing.T) {
	got, err := renderTranscript(Input{Call: &types.Call{TranscriptionText: "hello there"}})
	if err != nil || got != "hello there" {
		t.Fatalf("got %q err=%v", got, err)
	}
}

func TestRenderTranscript_Empty(t *testing.T) {
	_, err := renderTranscript(Input{Call: &types.Call{}})
	if !errors.Is(err, ErrNoTranscript) {
		t.Fatalf("err=%v, want ErrNoTranscript", err)
	}
}

func TestRenderTranscript_Truncates(t *testing.T) {
	line := types.TranscriptEntry{Speaker: types.SpeakerCaller, Text: strings.Repeat("a", 1000)}
	entries := make([]types.TranscriptEntry, 100)
	for i := range entries {
		entries[i] = line
	}
	got, err := renderTranscript(Input{Transcript: entries})
	if err != nil {
		t.Fatalf("renderTranscript() error = %v", err)
	}
	if len(got) > maxTranscriptChars {
		t.Fatalf("len=%d exceeds %d", len(got), maxTranscriptChars)
	}
}

func TestNormalize(t *testing.T) {
	score := 140
	in := &types.CallInsights{
		Summary:   "  ok ",
		Sentiment: "Very Happy",
		NextSteps: []string{" send quote ", "", "book demo"},
		LeadScore: &score,
	}
	normalize(in)
	if in.Summary != "ok" || in.Sentiment != SentimentNeutral {
		t.Fatalf("summary=%q sentiment=%q", in.Summary, in.Sentiment)
	}
	if len(in.NextSteps) != 2 || in.NextSteps[0] != "send quote" {
		t.Fatalf("next_steps=%v", in.NextSteps)
	}
	if *in.LeadScore != 100 {
		t.Fatalf("lead_score=%d, want 100", *in.LeadScore)
	}

	in = &types.CallInsights{Sentiment: "POSITIVE"}
	normalize(in)
	if in.Sentiment != SentimentPositive {
		t.Fatalf("sentiment=%q", in.Sentiment)
	}
}
