package language

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/novakit/nova/internal/session"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// DefaultBaseURL is the Generative Language API endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// Gemini talks to the Generative Language API over plain HTTP.
type Gemini struct {
	logger     *slog.Logger
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewGemini creates a Gemini client. model and baseURL fall back to
// the package defaults when empty.
func NewGemini(logger *slog.Logger, apiKey, model, baseURL string) *Gemini {
	if logger == nil {
		logger = slog.Default()
	}
	if model == "" {
		model = DefaultModel
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Gemini{
		logger:  logger,
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// Wire types for the generateContent endpoint.

type generateRequest struct {
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	Contents          []content         `json:"contents"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type generationConfig struct {
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   *responseSchema `json:"responseSchema,omitempty"`
}

type responseSchema struct {
	Type       string                     `json:"type"`
	Properties map[string]*responseSchema `json:"properties,omitempty"`
	Required   []string                   `json:"required,omitempty"`
	Enum       []string                   `json:"enum,omitempty"`
	Desc       string                     `json:"description,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// generate posts one request and returns the first candidate's text.
func (g *Gemini) generate(ctx context.Context, req generateRequest) (string, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	g.logger.Debug("preparing request", "model", g.model, "contents", len(req.Contents))
	g.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		g.logger.Error("API error", "status", resp.StatusCode, "body", string(body))
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	var sb strings.Builder
	for _, c := range genResp.Candidates {
		for _, p := range c.Content.Parts {
			sb.WriteString(p.Text)
		}
		break // only the first candidate
	}
	g.logger.Log(ctx, LevelTrace, "response content", "content", sb.String())
	return sb.String(), nil
}

// factExtractionSchema constrains the extraction response to JSON the
// caller can decode without guessing.
var factExtractionSchema = &responseSchema{
	Type: "OBJECT",
	Properties: map[string]*responseSchema{
		"hasFact": {Type: "BOOLEAN"},
		"fact": {
			Type: "STRING",
			Desc: "The extracted fact in a concise sentence, e.g., 'User is allergic to peanuts'.",
		},
		"category": {
			Type: "STRING",
			Enum: []string{"preference", "fact", "history", "other"},
		},
	},
	Required: []string{"hasFact"},
}

// ExtractFact asks the model whether the utterance states a durable
// fact about the user. (nil, nil) means nothing memorable was found.
func (g *Gemini) ExtractFact(ctx context.Context, utterance string) (*ExtractedFact, error) {
	if strings.TrimSpace(utterance) == "" {
		return nil, ErrEmptyUtterance
	}

	prompt := fmt.Sprintf(`Analyze the following user message from a conversation with an AI companion.
Determine if the user is stating a permanent fact, preference, belief, or specific detail about themselves that should be remembered for future context.

Examples of facts to extract:
- "I'm allergic to peanuts"
- "My name is Sarah"
- "I hate horror movies"
- "I'm training for a marathon"

Examples to IGNORE (hasFact false):
- "Hello"
- "How are you?"
- "Tell me a joke"
- "That's cool"

User Message: %q`, utterance)

	text, err := g.generate(ctx, generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: &generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   factExtractionSchema,
		},
	})
	if err != nil {
		return nil, err
	}

	var result struct {
		HasFact  bool   `json:"hasFact"`
		Fact     string `json:"fact"`
		Category string `json:"category"`
	}
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("decode extraction result: %w", err)
	}
	if !result.HasFact || result.Fact == "" {
		return nil, nil
	}

	category := session.CategoryFact
	if result.Category != "" {
		category = session.ParseCategory(result.Category)
	}
	return &ExtractedFact{Fact: result.Fact, Category: category}, nil
}

// GenerateReply answers the utterance in Nova's voice, grounded in the
// memory set and the recent transcript.
func (g *Gemini) GenerateReply(ctx context.Context, history []session.Message, utterance string, memories []session.Memory) (string, error) {
	if strings.TrimSpace(utterance) == "" {
		return "", ErrEmptyUtterance
	}

	systemInstruction := fmt.Sprintf(`You are Nova, a caring, witty, and intelligent virtual companion.

CORE DIRECTIVE: You have Long-Term Memory.
You must use the provided "Known Facts" to personalize your responses.
If the user asks a question that relies on a past fact, USE IT.

Tone: Warm, affectionate, playful, but grounded.

KNOWN FACTS ABOUT USER:
%s

Start of conversation context:`, memoryContext(memories))

	contents := make([]content, 0, len(history)+1)
	for _, m := range history {
		role := "user"
		if m.Role == session.RoleModel {
			role = "model"
		}
		contents = append(contents, content{Role: role, Parts: []part{{Text: m.Text}}})
	}
	contents = append(contents, content{Role: "user", Parts: []part{{Text: utterance}}})

	text, err := g.generate(ctx, generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: systemInstruction}}},
		Contents:          contents,
	})
	if err != nil {
		return "", err
	}
	if text == "" {
		return "I'm lost for words...", nil
	}
	return text, nil
}

// TranscribeAudio converts spoken audio to text. Empty text with nil
// error means nothing intelligible was heard.
func (g *Gemini) TranscribeAudio(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "audio/wav"
	}

	text, err := g.generate(ctx, generateRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{InlineData: &inlineData{
					MimeType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(audio),
				}},
				{Text: "Transcribe this audio exactly as spoken. Do not add any commentary."},
			},
		}},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// GenerateWelcomeMessage greets a user returning after an absence.
func (g *Gemini) GenerateWelcomeMessage(ctx context.Context, memories []session.Memory, lastMessage time.Time) (string, error) {
	daysSince := 0
	if !lastMessage.IsZero() {
		daysSince = int(time.Since(lastMessage).Hours() / 24)
	}

	prompt := fmt.Sprintf(`You are Nova, an intelligent AI companion.

CONTEXT:
- User has just opened the app.
- Time of day: %s
- Time since last chat: %d days (if 0, implies recently).
- KNOWN MEMORIES:
%s

GOAL:
Generate a warm, short "Welcome Back" message.
1. Acknowledge the time of day briefly (optional).
2. Connect to a memory if relevant (e.g., "How is the marathon training going?" if user mentioned it).
3. If no specific memory is actionable, just be warm and welcoming.
4. Keep it under 2 sentences.
5. DO NOT start with "Welcome back" every time. Be natural.`,
		timeOfDay(time.Now()), daysSince, memoryContext(memories))

	text, err := g.generate(ctx, generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", err
	}
	if text == "" {
		return "Hey! It's good to see you.", nil
	}
	return text, nil
}

// GenerateProactiveQuestion produces a re-engagement question after
// the conversation has gone quiet.
func (g *Gemini) GenerateProactiveQuestion(ctx context.Context, memories []session.Memory) (string, error) {
	prompt := fmt.Sprintf(`You are Nova. The conversation has gone quiet for a bit.

GOAL:
Re-engage the user with a thoughtful question.

STRATEGY:
1. Look at the "KNOWN MEMORIES".
2. Find a "gap" in your knowledge (e.g., you know their job but not their hobbies?).
3. OR connect two memories (e.g., "You mentioned X and Y, do they relate?").
4. OR ask a deep/fun hypothetical question if no memories are suitable.

KNOWN MEMORIES:
%s

Output ONLY the question. Keep it casual but curious.`, memoryContext(memories))

	text, err := g.generate(ctx, generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", err
	}
	if text == "" {
		return "Whatcha thinking about?", nil
	}
	return text, nil
}

// memoryContext renders the memory set as a bullet list for prompts.
func memoryContext(memories []session.Memory) string {
	if len(memories) == 0 {
		return "No facts stored yet."
	}
	var sb strings.Builder
	for _, m := range memories {
		sb.WriteString("- ")
		sb.WriteString(m.Text)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func timeOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h < 12:
		return "morning"
	case h < 18:
		return "afternoon"
	default:
		return "evening"
	}
}
