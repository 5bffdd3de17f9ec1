package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"wellness_backend/internal/config"
	"wellness_backend/internal/model"
	"wellness_backend/internal/util"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const defaultAIBaseURL = "https://api.groq.com/openai/v1"

// AIService talks to an OpenAI-compatible chat endpoint. It is built once at startup and
// serves as both the ResponseScorer and the QuestionGenerator of the engine.
type AIService struct {
	config config.AIConfig
	client openaigo.Client
}

func NewAIService(cfg config.AIConfig, httpClient *http.Client) *AIService {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultAIBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	client := openaigo.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(maxRetries),
	)

	return &AIService{config: cfg, client: client}
}

func (s *AIService) complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	resp, err := s.client.Chat.Completions.New(ctx, openaigo.ChatCompletionNewParams{
		Model: openaigo.ChatModel(s.config.Model),
		Messages: []openaigo.ChatCompletionMessageParamUnion{
			openaigo.SystemMessage(system),
			openaigo.UserMessage(user),
		},
		Temperature: openaigo.Float(temperature),
	})
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: llm returned no choices", util.ErrMalformedUpstream)
	}
	return resp.Choices[0].Message.Content, nil
}

const scoringSystemPrompt = "You are a clinically aware AI analysis engine. Output JSON only."

func buildScoringPrompt(question, answer string) string {
	var b strings.Builder
	b.WriteString("Analyze this user response to the mental health assessment question.\n")
	fmt.Fprintf(&b, "Question: %q\n", question)
	fmt.Fprintf(&b, "Response: %q\n\n", answer)
	b.WriteString("Task:\n")
	b.WriteString("1. Identify sentiment (-1.0 to 1.0).\n")
	b.WriteString("2. Assign impact scores to dimensions (0.0=Low Strength/High Risk, 1.0=High Strength).\n")
	b.WriteString("3. Detect RISK flags (self-harm, crisis).\n\n")
	b.WriteString("Dimensions:\n")
	for _, d := range model.DimensionOrder {
		b.WriteString("- " + d + "\n")
	}
	b.WriteString("\nOutput JSON ONLY:\n")
	b.WriteString(`{"sentiment": float, "risk_flag": bool, "risk_reason": "string or null", "dimension_updates": {"dimension_name": float_score_impact}}`)
	return b.String()
}

// scoringPayload uses pointers so that missing keys can be told apart from zero values.
type scoringPayload struct {
	Sentiment        *float64            `json:"sentiment"`
	RiskFlag         *bool               `json:"risk_flag"`
	RiskReason       *string             `json:"risk_reason"`
	DimensionUpdates *map[string]float64 `json:"dimension_updates"`
}

func parseScoringReply(content string) (*ResponseAnalysis, error) {
	raw := extractJSONFromText(content)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty scoring reply", util.ErrMalformedUpstream)
	}

	var p scoringPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("%w: scoring reply is not valid json: %v", util.ErrMalformedUpstream, err)
	}
	if p.RiskFlag == nil {
		return nil, fmt.Errorf("%w: missing risk_flag", util.ErrMalformedUpstream)
	}

	analysis := &ResponseAnalysis{
		RiskFlag:   *p.RiskFlag,
		RiskReason: p.RiskReason,
	}
	if analysis.RiskFlag {
		// 危机判定不依赖其余字段
		if p.Sentiment != nil {
			analysis.Sentiment = *p.Sentiment
		}
		if p.DimensionUpdates != nil {
			analysis.DimensionUpdates = *p.DimensionUpdates
		}
		return analysis, nil
	}

	if p.Sentiment == nil {
		return nil, fmt.Errorf("%w: missing sentiment", util.ErrMalformedUpstream)
	}
	if p.DimensionUpdates == nil || *p.DimensionUpdates == nil {
		return nil, fmt.Errorf("%w: missing dimension_updates", util.ErrMalformedUpstream)
	}
	analysis.Sentiment = *p.Sentiment
	analysis.DimensionUpdates = *p.DimensionUpdates
	return analysis, nil
}

func (s *AIService) ScoreResponse(ctx context.Context, question, answer string) (*ResponseAnalysis, error) {
	content, err := s.complete(ctx, scoringSystemPrompt, buildScoringPrompt(question, answer), 0.1)
	if err != nil {
		return nil, err
	}
	return parseScoringReply(content)
}

const questionSystemPrompt = "You are an expert therapist AI designing questions."

func buildQuestionPrompt(req QuestionRequest) string {
	var b strings.Builder
	b.WriteString("Generate the next single reflective question for a self-assessment.\n")
	b.WriteString("Current Profile:\n")
	for _, d := range model.DimensionOrder {
		fmt.Fprintf(&b, "- %s: %.2f\n", d, req.Dimensions[d])
	}
	fmt.Fprintf(&b, "Focus Area: %s (Needs exploration)\n", req.Focus)
	fmt.Fprintf(&b, "History: %d questions asked.\n", req.HistoryLength)
	if req.Context != "" {
		fmt.Fprintf(&b, "User context: %q\n", req.Context)
	}
	b.WriteString("\nRules:\n")
	b.WriteString("- Be gentle, non-intrusive, and open-ended.\n")
	b.WriteString("- Tone: Reflective and supportive.\n")
	fmt.Fprintf(&b, "- Max depth: %d (1=Shallow, 3=Deep).\n", req.Depth)
	b.WriteString("\nOutput JSON:\n")
	b.WriteString(`{"question_text": "string", "rationale": "string"}`)
	return b.String()
}

func parseQuestionReply(content string) (string, error) {
	raw := extractJSONFromText(content)
	var parsed struct {
		QuestionText string `json:"question_text"`
		Rationale    string `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return "", fmt.Errorf("%w: question reply is not valid json: %v", util.ErrMalformedUpstream, err)
	}
	q := strings.TrimSpace(parsed.QuestionText)
	if q == "" {
		return "", fmt.Errorf("%w: missing question_text", util.ErrMalformedUpstream)
	}
	return q, nil
}

func (s *AIService) GenerateQuestion(ctx context.Context, req QuestionRequest) (string, error) {
	content, err := s.complete(ctx, questionSystemPrompt, buildQuestionPrompt(req), 0.7)
	if err != nil {
		return "", err
	}
	return parseQuestionReply(content)
}

// extractJSONFromText strips markdown fences and leading prose around a JSON object.
func extractJSONFromText(s string) string {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "```") {
		rest := strings.TrimPrefix(raw, "```")
		// 首行是语言标记（可能为空），JSON 紧跟在围栏后时保留
		if i := strings.Index(rest, "\n"); i >= 0 && !strings.HasPrefix(strings.TrimSpace(rest[:i]), "{") {
			rest = rest[i+1:]
		}
		if j := strings.LastIndex(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		raw = strings.TrimSpace(rest)
	}
	if !strings.HasPrefix(raw, "{") {
		if i := strings.Index(raw, "{"); i >= 0 {
			if j := strings.LastIndex(raw, "}"); j > i {
				return strings.TrimSpace(raw[i : j+1])
			}
		}
	}
	return raw
}
