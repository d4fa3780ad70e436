package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/mohit-ai/mohit/pkg/core/types"
)

const DefaultGeminiModel = "gemini-2.5-flash"

type GeminiConfig struct {
	APIKey string
	Model  string
	// BaseURL and HTTPClient exist for tests and proxies.
	BaseURL    string
	HTTPClient *http.Client
}

// Gemini summarizes calls with Google's Gemini API using a JSON response
// schema.
type Gemini struct {
	client *genai.Client
	model  string
	now    func() time.Time
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultGeminiModel
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model, now: time.Now}, nil
}

const systemPrompt = `You analyse sales calls between an AI calling agent (sometimes joined by a human sales rep) and an inbound lead.
Return a short factual summary (at most 5 sentences), the lead's overall sentiment, concrete next steps for the sales team,
and a lead score from 0 (no interest) to 100 (ready to buy). Only use facts stated in the call.`

var responseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"summary":   {Type: genai.TypeString},
		"sentiment": {Type: genai.TypeString, Enum: []string{SentimentPositive, SentimentNeutral, SentimentNegative}},
		"next_steps": {
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeString},
		},
		"lead_score": {Type: genai.TypeInteger},
	},
	Required: []string{"summary", "sentiment", "next_steps", "lead_score"},
}

type geminiInsights struct {
	Summary   string   `json:"summary"`
	Sentiment string   `json:"sentiment"`
	NextSteps []string `json:"next_steps"`
	LeadScore *int     `json:"lead_score"`
}

func (g *Gemini) Summarize(ctx context.Context, in Input) (*types.CallInsights, error) {
	transcript, err := renderTranscript(in)
	if err != nil {
		return nil, err
	}

	var prompt strings.Builder
	if in.Lead != nil {
		fmt.Fprintf(&prompt, "Lead: %s", in.Lead.Name)
		if in.Lead.Company != "" {
			fmt.Fprintf(&prompt, " (%s)", in.Lead.Company)
		}
		fmt.Fprintf(&prompt, ", current status %s.\n\n", in.Lead.Status)
	}
	prompt.WriteString("Transcript:\n")
	prompt.WriteString(transcript)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt.String()), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.2),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    responseSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	raw := strings.TrimSpace(resp.Text())
	if raw == "" {
		return nil, errors.New("gemini returned no content")
	}
	var parsed geminiInsights
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("decode gemini insights: %w", err)
	}

	out := &types.CallInsights{
		Summary:     parsed.Summary,
		Sentiment:   parsed.Sentiment,
		NextSteps:   parsed.NextSteps,
		LeadScore:   parsed.LeadScore,
		Model:       g.model,
		GeneratedAt: g.now().UTC(),
	}
	normalize(out)
	return out, nil
}
