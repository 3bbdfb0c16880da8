package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/spigell/hh-autofill/internal/ai"
	"github.com/spigell/hh-autofill/internal/fields"
)

type stubGenerator struct {
	response    string
	err         error
	lastSystem  string
	lastMessage string
}

func (s *stubGenerator) GenerateContent(_ context.Context, system, message string) (string, error) {
	s.lastSystem = system
	s.lastMessage = message
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func TestLabelerLabel(t *testing.T) {
	stub := &stubGenerator{response: "```json\n{\"category\": \"semi-static\", \"confidence\": 0.82, \"reason\": \"asks for notice period\"}\n```"}
	labeler := NewLabeler(stub, zap.NewNop(), 0)

	verdict, err := labeler.Label(context.Background(), fields.Request{
		Fingerprint:  "f_1",
		RawLabelText: "How soon can you start?",
		Hints: fields.Hints{
			PageTitle:    "Go Developer",
			NearbyLabels: []string{"Salary expectations"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if verdict.Category != fields.CategorySemiStatic {
		t.Fatalf("expected SEMI_STATIC, got %s", verdict.Category)
	}
	if verdict.Confidence != 0.82 {
		t.Fatalf("expected confidence 0.82, got %v", verdict.Confidence)
	}
	if verdict.Reason == "" || verdict.Raw == "" {
		t.Fatalf("expected reason and raw to be populated: %+v", verdict)
	}

	if !strings.Contains(stub.lastSystem, "SEMI_STATIC") {
		t.Fatalf("expected embedded system prompt to be sent")
	}

	var message map[string]any
	if err := json.Unmarshal([]byte(stub.lastMessage), &message); err != nil {
		t.Fatalf("expected json message, got %q", stub.lastMessage)
	}
	if message["label"] != "How soon can you start?" || message["pageTitle"] != "Go Developer" {
		t.Fatalf("unexpected message payload: %v", message)
	}
}

func TestLabelerPropagatesGeneratorError(t *testing.T) {
	genErr := &ai.ProviderError{Provider: "gemini", Code: 503, Status: "UNAVAILABLE", Err: errors.New("overloaded")}
	labeler := NewLabeler(&stubGenerator{err: genErr}, nil, 0)

	_, err := labeler.Label(context.Background(), fields.Request{Fingerprint: "f_1", RawLabelText: "Phone"})
	if !errors.Is(err, genErr) {
		t.Fatalf("expected generator error, got %v", err)
	}
}

func TestLabelerRejectsEmptyLabel(t *testing.T) {
	stub := &stubGenerator{response: `{"category":"STATIC"}`}
	labeler := NewLabeler(stub, nil, 0)

	_, err := labeler.Label(context.Background(), fields.Request{Fingerprint: "f_1"})
	if !errors.Is(err, ai.ErrRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if stub.lastMessage != "" {
		t.Fatalf("expected no outbound call")
	}
}

func TestParseResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		raw        string
		category   fields.Category
		confidence float64
		err        error
	}{
		{name: "plain", raw: `{"category":"STATIC","confidence":1}`, category: fields.CategoryStatic, confidence: 1},
		{name: "string confidence", raw: `{"category":"dynamic","confidence":"0.4"}`, category: fields.CategoryDynamic, confidence: 0.4},
		{name: "missing confidence", raw: `{"category":"DYNAMIC"}`, category: fields.CategoryDynamic, confidence: defaultConfidence},
		{name: "clamped", raw: `{"category":"STATIC","confidence":7}`, category: fields.CategoryStatic, confidence: 1},
		{name: "not json", raw: `STATIC`, err: ai.ErrMalformedResponse},
		{name: "unknown category", raw: `{"category":"PERSONAL"}`, err: ai.ErrMalformedResponse},
		{name: "explicit rejection", raw: `{"category":"UNRESOLVED","reason":"decorative checkbox"}`, err: ai.ErrRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			verdict, err := parseResponse(tt.raw)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("expected %v, got %v", tt.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if verdict.Category != tt.category || verdict.Confidence != tt.confidence {
				t.Fatalf("unexpected verdict: %+v", verdict)
			}
		})
	}
}
