package language

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/novakit/nova/internal/session"
)

// newTestGemini starts a stub generateContent server. handler receives
// the decoded request and returns the text the model should answer.
func newTestGemini(t *testing.T, handler func(t *testing.T, req generateRequest) (string, int)) *Gemini {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}

		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		text, status := handler(t, req)
		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"message":"boom"}}`)
			return
		}
		resp := map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"role": "model", "parts": []map[string]any{{"text": text}}}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	return NewGemini(testLogger(), "test-key", "gemini-2.5-flash", srv.URL)
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestExtractFact(t *testing.T) {
	tests := []struct {
		name      string
		modelJSON string
		wantFact  string
		wantCat   session.Category
		wantNil   bool
	}{
		{
			name:      "fact with category",
			modelJSON: `{"hasFact":true,"fact":"User is allergic to peanuts","category":"fact"}`,
			wantFact:  "User is allergic to peanuts",
			wantCat:   session.CategoryFact,
		},
		{
			name:      "preference",
			modelJSON: `{"hasFact":true,"fact":"User hates horror movies","category":"preference"}`,
			wantFact:  "User hates horror movies",
			wantCat:   session.CategoryPreference,
		},
		{
			name:      "missing category defaults to fact",
			modelJSON: `{"hasFact":true,"fact":"User's name is Sarah"}`,
			wantFact:  "User's name is Sarah",
			wantCat:   session.CategoryFact,
		},
		{
			name:      "unknown category becomes other",
			modelJSON: `{"hasFact":true,"fact":"User feels optimistic","category":"mood"}`,
			wantFact:  "User feels optimistic",
			wantCat:   session.CategoryOther,
		},
		{
			name:      "no fact",
			modelJSON: `{"hasFact":false}`,
			wantNil:   true,
		},
		{
			name:      "hasFact without text",
			modelJSON: `{"hasFact":true,"fact":""}`,
			wantNil:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGemini(t, func(t *testing.T, req generateRequest) (string, int) {
				if req.GenerationConfig == nil || req.GenerationConfig.ResponseMimeType != "application/json" {
					t.Error("extraction must request a JSON response")
				}
				if req.GenerationConfig.ResponseSchema == nil {
					t.Error("extraction must constrain the response schema")
				}
				return tt.modelJSON, http.StatusOK
			})

			got, err := g.ExtractFact(context.Background(), "I'm allergic to peanuts")
			if err != nil {
				t.Fatalf("ExtractFact: %v", err)
			}
			if tt.wantNil {
				if got != nil {
					t.Fatalf("got %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("got nil, want a fact")
			}
			if got.Fact != tt.wantFact || got.Category != tt.wantCat {
				t.Errorf("got (%q, %q), want (%q, %q)", got.Fact, got.Category, tt.wantFact, tt.wantCat)
			}
		})
	}
}

func TestExtractFactEmptyUtterance(t *testing.T) {
	g := NewGemini(testLogger(), "test-key", "", "")
	if _, err := g.ExtractFact(context.Background(), "   "); err != ErrEmptyUtterance {
		t.Errorf("err = %v, want ErrEmptyUtterance", err)
	}
}

func TestGenerateReply(t *testing.T) {
	history := []session.Message{
		{Role: session.RoleUser, Text: "hi"},
		{Role: session.RoleModel, Text: "hello!"},
	}
	memories := []session.Memory{{Text: "User is training for a marathon"}}

	g := newTestGemini(t, func(t *testing.T, req generateRequest) (string, int) {
		if req.SystemInstruction == nil {
			t.Fatal("reply must carry a system instruction")
		}
		sys := req.SystemInstruction.Parts[0].Text
		if !contains(sys, "training for a marathon") {
			t.Error("system instruction must include known facts")
		}
		if len(req.Contents) != 3 {
			t.Fatalf("contents = %d, want history(2) + utterance(1)", len(req.Contents))
		}
		if req.Contents[1].Role != "model" {
			t.Errorf("history role = %q, want model", req.Contents[1].Role)
		}
		if req.Contents[2].Parts[0].Text != "how far did I say I run?" {
			t.Errorf("utterance = %q", req.Contents[2].Parts[0].Text)
		}
		return "26.2 miles, you've got this!", http.StatusOK
	})

	got, err := g.GenerateReply(context.Background(), history, "how far did I say I run?", memories)
	if err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}
	if got != "26.2 miles, you've got this!" {
		t.Errorf("reply = %q", got)
	}
}

func TestGenerateReplyEmptyModelText(t *testing.T) {
	g := newTestGemini(t, func(t *testing.T, req generateRequest) (string, int) {
		return "", http.StatusOK
	})
	got, err := g.GenerateReply(context.Background(), nil, "hello", nil)
	if err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}
	if got != "I'm lost for words..." {
		t.Errorf("reply = %q, want the stock fallback", got)
	}
}

func TestGenerateReplyAPIError(t *testing.T) {
	g := newTestGemini(t, func(t *testing.T, req generateRequest) (string, int) {
		return "", http.StatusInternalServerError
	})
	if _, err := g.GenerateReply(context.Background(), nil, "hello", nil); err == nil {
		t.Fatal("expected an error from a 500 response")
	}
}

func TestTranscribeAudio(t *testing.T) {
	audio := []byte{0x52, 0x49, 0x46, 0x46}
	g := newTestGemini(t, func(t *testing.T, req generateRequest) (string, int) {
		parts := req.Contents[0].Parts
		if len(parts) != 2 || parts[0].InlineData == nil {
			t.Fatal("transcription must send inline audio data")
		}
		if parts[0].InlineData.MimeType != "audio/wav" {
			t.Errorf("mime type = %q", parts[0].InlineData.MimeType)
		}
		if parts[0].InlineData.Data != base64.StdEncoding.EncodeToString(audio) {
			t.Error("audio bytes not base64 round-tripped")
		}
		return "  turn on the lights \n", http.StatusOK
	})

	got, err := g.TranscribeAudio(context.Background(), audio, "audio/wav")
	if err != nil {
		t.Fatalf("TranscribeAudio: %v", err)
	}
	if got != "turn on the lights" {
		t.Errorf("transcript = %q", got)
	}
}

func TestTranscribeAudioNothingHeard(t *testing.T) {
	g := newTestGemini(t, func(t *testing.T, req generateRequest) (string, int) {
		return "   ", http.StatusOK
	})
	got, err := g.TranscribeAudio(context.Background(), []byte{1}, "")
	if err != nil {
		t.Fatalf("TranscribeAudio: %v", err)
	}
	if got != "" {
		t.Errorf("transcript = %q, want empty", got)
	}
}

func TestGenerateWelcomeMessage(t *testing.T) {
	g := newTestGemini(t, func(t *testing.T, req generateRequest) (string, int) {
		prompt := req.Contents[0].Parts[0].Text
		if !contains(prompt, "2 days") {
			t.Errorf("prompt should mention days since last chat, got:\n%s", prompt)
		}
		return "Morning! How's the marathon training?", http.StatusOK
	})

	last := time.Now().Add(-49 * time.Hour)
	got, err := g.GenerateWelcomeMessage(context.Background(), nil, last)
	if err != nil {
		t.Fatalf("GenerateWelcomeMessage: %v", err)
	}
	if got != "Morning! How's the marathon training?" {
		t.Errorf("welcome = %q", got)
	}
}

func TestGenerateProactiveQuestionFallback(t *testing.T) {
	g := newTestGemini(t, func(t *testing.T, req generateRequest) (string, int) {
		return "", http.StatusOK
	})
	got, err := g.GenerateProactiveQuestion(context.Background(), nil)
	if err != nil {
		t.Fatalf("GenerateProactiveQuestion: %v", err)
	}
	if got != "Whatcha thinking about?" {
		t.Errorf("question = %q, want the stock fallback", got)
	}
}

func TestGenerateTraceLogging(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"role": "model", "parts": []map[string]any{{"text": "hello there"}}}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: LevelTrace}))
	g := NewGemini(logger, "test-key", "", srv.URL)

	if _, err := g.GenerateReply(context.Background(), nil, "remember the marathon", nil); err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}

	out := buf.String()
	if !contains(out, "request payload") || !contains(out, "remember the marathon") {
		t.Errorf("trace log missing request payload:\n%s", out)
	}
	if !contains(out, "response content") || !contains(out, "hello there") {
		t.Errorf("trace log missing response content:\n%s", out)
	}
}

func TestGenerateTraceSilentAtDebug(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"role": "model", "parts": []map[string]any{{"text": "ok"}}}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	g := NewGemini(logger, "test-key", "", srv.URL)

	if _, err := g.GenerateReply(context.Background(), nil, "hello", nil); err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}
	if contains(buf.String(), "request payload") {
		t.Errorf("payloads must only appear at trace level:\n%s", buf.String())
	}
}

func contains(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}
