// Package insights turns finished call transcripts into a summary, a sentiment
// label, follow-up steps and a lead score.
package insights

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohit-ai/mohit/pkg/core/types"
)

var ErrNoTranscript = errors.New("insights: call has no transcript")

type Input struct {
	Call       *types.Call
	Lead       *types.Lead
	Transcript []types.TranscriptEntry
}

// Summarizer produces insights for one call. Implementations must honour ctx.
type Summarizer interface {
	Summarize(ctx context.Context, in Input) (*types.CallInsights, error)
}

const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Lines past maxTranscriptChars are dropped.
const maxTranscriptChars = 60_000

// renderTranscript falls back to Twilio's transcription when no relay lines
// were captured.
func renderTranscript(in Input) (string, error) {
	var b strings.Builder
	for _, e := range in.Transcript {
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		line := fmt.Sprintf("%s: %s\n", speakerLabel(e.Speaker), text)
		if b.Len()+len(line) > maxTranscriptChars {
			break
		}
		b.WriteString(line)
	}
	if b.Len() == 0 && in.Call != nil {
		text := strings.TrimSpace(in.Call.TranscriptionText)
		if len(text) > maxTranscriptChars {
			text = text[:maxTranscriptChars]
		}
		b.WriteString(text)
	}
	if b.Len() == 0 {
		return "", ErrNoTranscript
	}
	return b.String(), nil
}

func speakerLabel(s types.Speaker) string {
	switch s {
	case types.SpeakerAI:
		return "AI agent"
	case types.SpeakerAgent:
		return "Sales rep"
	case types.SpeakerCaller:
		return "Lead"
	default:
		return "System"
	}
}

// normalize clamps model output into the stored shape.
func normalize(in *types.CallInsights) {
	in.Summary = strings.TrimSpace(in.Summary)
	switch s := strings.ToLower(strings.TrimSpace(in.Sentiment)); s {
	case SentimentPositive, SentimentNegative:
		in.Sentiment = s
	default:
		in.Sentiment = SentimentNeutral
	}
	steps := in.NextSteps[:0]
	for _, step := range in.NextSteps {
		if step = strings.TrimSpace(step); step != "" {
			steps = append(steps, step)
		}
	}
	in.NextSteps = steps
	if in.LeadScore != nil {
		score := min(max(*in.LeadScore, 0), 100)
		in.LeadScore = &score
	}
}
