package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/wealthdesk/wealthdesk/internal/observ"
	"github.com/wealthdesk/wealthdesk/internal/plan"
)

// NarrativeError classifies failures from the text-generation collaborator.
// Config errors are surfaced verbatim; everything else degrades to the
// deterministic locally built narrative.
type NarrativeError struct {
	Type    string // "config", "network", "bad_payload"
	Message string
	Cause   error
}

func (e *NarrativeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("narrative %s error: %s (%v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("narrative %s error: %s", e.Type, e.Message)
}

// Review is the structured payload the model returns through the function
// call: the trade list and totals as typed fields rather than free text.
type Review struct {
	Assessment      string       `json:"assessment"`
	Trades          []plan.Trade `json:"trades"`
	TotalInvestment float64      `json:"total_investment"`
	UnusedFunds     float64      `json:"unused_funds"`
}

// Narrator generates natural-language commentary for evaluator results via
// the hosted LLM. All calls are fire-once; callers fall back to
// Result.AuditNarrative on any failure.
type Narrator struct {
	client *genai.Client
	model  string
}

// NewNarrator initializes the Gemini client. The client picks the API key up
// from the environment; a missing key is a configuration error for every
// narrative operation, not a silent degradation.
func NewNarrator(ctx context.Context, model string) (*Narrator, error) {
	client, err := genai.NewClient(ctx, nil)
	if err != nil {
		return nil, &NarrativeError{Type: "config", Message: "initialize text-generation client", Cause: err}
	}
	return &Narrator{client: client, model: model}, nil
}

// Commentary asks the model for a short prose summary of one run. The audit
// log is the only source material; the model adds wording, not facts.
func (n *Narrator) Commentary(ctx context.Context, res plan.Result) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: `
		You write a short, plain-language monthly investment commentary for a
		personal wealth dashboard. Summarize the allocation run described by
		the audit log you are given. Do not invent numbers; only restate what
		the log says.`}}},
	}

	chat, err := n.client.Chats.Create(ctx, n.model, config, nil)
	if err != nil {
		return "", &NarrativeError{Type: "network", Message: "create chat", Cause: err}
	}

	resp, err := chat.Send(ctx, &genai.Part{Text: res.AuditNarrative()})
	if err != nil {
		observ.IncCounter("narrative_requests_total", map[string]string{"outcome": "network_error"})
		return "", &NarrativeError{Type: "network", Message: "send commentary request", Cause: err}
	}

	text, err := firstText(resp)
	if err != nil {
		observ.IncCounter("narrative_requests_total", map[string]string{"outcome": "bad_payload"})
		return "", err
	}
	observ.IncCounter("narrative_requests_total", map[string]string{"outcome": "ok"})
	return text, nil
}

// StructuredReview asks the model to hand the trade list and totals back as
// typed fields via a function call. A response with no function call is
// still accepted when its text carries an extractable JSON review; anything
// else is a failure surfaced to the caller, never guessed at.
func (n *Narrator) StructuredReview(ctx context.Context, res plan.Result) (Review, error) {
	config := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{
			{FunctionDeclarations: []*genai.FunctionDeclaration{reviewDeclaration()}},
		},
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: `
		Review the investment plan execution described by the audit log and
		trades you are given, then record your review by calling
		record_plan_review with the trade list and totals exactly as given
		and a one-paragraph assessment.`}}},
	}

	chat, err := n.client.Chats.Create(ctx, n.model, config, nil)
	if err != nil {
		return Review{}, &NarrativeError{Type: "network", Message: "create chat", Cause: err}
	}

	input, err := json.Marshal(res)
	if err != nil {
		return Review{}, &NarrativeError{Type: "bad_payload", Message: "marshal result", Cause: err}
	}
	resp, err := chat.Send(ctx, &genai.Part{Text: string(input)})
	if err != nil {
		observ.IncCounter("narrative_requests_total", map[string]string{"outcome": "network_error"})
		return Review{}, &NarrativeError{Type: "network", Message: "send review request", Cause: err}
	}

	if call := firstFunctionCall(resp); call != nil {
		args, err := json.Marshal(call.Args)
		if err != nil {
			return Review{}, &NarrativeError{Type: "bad_payload", Message: "marshal function call args", Cause: err}
		}
		var review Review
		if err := json.Unmarshal(args, &review); err != nil {
			return Review{}, &NarrativeError{Type: "bad_payload", Message: "decode function call args", Cause: err}
		}
		observ.IncCounter("narrative_requests_total", map[string]string{"outcome": "ok"})
		return review, nil
	}

	// No function call: tolerate a JSON review embedded in prose.
	text, err := firstText(resp)
	if err != nil {
		return Review{}, err
	}
	review, ok := extractReview(text)
	if !ok {
		observ.IncCounter("narrative_requests_total", map[string]string{"outcome": "bad_payload"})
		return Review{}, &NarrativeError{Type: "bad_payload", Message: "response carries neither a function call nor an extractable review"}
	}
	observ.IncCounter("narrative_requests_total", map[string]string{"outcome": "ok"})
	return review, nil
}

func reviewDeclaration() *genai.FunctionDeclaration {
	tradeSchema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"ticker": {Type: genai.TypeString},
			"amount": {Type: genai.TypeNumber},
			"sleeve": {Type: genai.TypeString},
			"reason": {Type: genai.TypeString},
		},
		Required: []string{"ticker", "amount"},
	}
	return &genai.FunctionDeclaration{
		Name:        "record_plan_review",
		Description: "Record the reviewed trade list, totals, and assessment for one plan execution.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"assessment":       {Type: genai.TypeString, Description: "One-paragraph plain-language review."},
				"trades":           {Type: genai.TypeArray, Items: tradeSchema},
				"total_investment": {Type: genai.TypeNumber},
				"unused_funds":     {Type: genai.TypeNumber},
			},
			Required: []string{"assessment", "trades", "total_investment"},
		},
	}
}

func firstText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", &NarrativeError{Type: "bad_payload", Message: "empty response"}
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			return part.Text, nil
		}
	}
	return "", &NarrativeError{Type: "bad_payload", Message: "response has no text part"}
}

func firstFunctionCall(resp *genai.GenerateContentResponse) *genai.FunctionCall {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.FunctionCall != nil {
			return part.FunctionCall
		}
	}
	return nil
}

// extractReview pulls a JSON object out of surrounding prose and decodes it.
func extractReview(text string) (Review, bool) {
	raw, ok := extractJSON(text)
	if !ok {
		return Review{}, false
	}
	var review Review
	if err := json.Unmarshal([]byte(raw), &review); err != nil {
		return Review{}, false
	}
	return review, true
}

// extractJSON finds the first balanced top-level JSON object in text. Models
// often wrap JSON in markdown fences or explanation; the payload inside is
// still usable.
func extractJSON(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
