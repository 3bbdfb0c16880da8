package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"

	"github.com/spigell/hh-autofill/internal/ai"
	"github.com/spigell/hh-autofill/internal/fields"
	"github.com/spigell/hh-autofill/internal/utils"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
}

// Labeler asks Gemini which category a form field expects.
type Labeler struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

//go:embed prompt.md
var systemPrompt string

const (
	defaultMaxLogLength = 200
	defaultConfidence   = 0.5
)

func NewLabeler(generator contentGenerator, logger *zap.Logger, maxLogLength int) *Labeler {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Labeler{
		generator: generator,
		logger:    logger,
		maxLogLen: maxLogLength,
	}
}

func (l *Labeler) Label(ctx context.Context, req fields.Request) (*ai.Verdict, error) {
	if strings.TrimSpace(req.RawLabelText) == "" {
		return nil, fmt.Errorf("%w: field %s has no label text", ai.ErrRejected, req.Fingerprint)
	}

	message, err := buildMessage(req)
	if err != nil {
		return nil, err
	}

	l.logger.Debug("gemini classify request",
		zap.String("fingerprint", req.Fingerprint),
		zap.Int("message_length", utf8.RuneCountInString(message)),
		zap.String("message_preview", utils.TruncateForLog(message, l.maxLogLen)),
	)

	raw, err := l.generator.GenerateContent(ctx, systemPrompt, message)
	if err != nil {
		return nil, err
	}

	l.logger.Debug("gemini classify response",
		zap.String("fingerprint", req.Fingerprint),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, l.maxLogLen)),
	)

	verdict, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}

	verdict.Raw = raw
	return verdict, nil
}

func buildMessage(req fields.Request) (string, error) {
	payload := map[string]any{
		"label": strings.TrimSpace(req.RawLabelText),
	}
	if title := strings.TrimSpace(req.Hints.PageTitle); title != "" {
		payload["pageTitle"] = title
	}
	if len(req.Hints.NearbyLabels) > 0 {
		payload["nearbyLabels"] = req.Hints.NearbyLabels
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal classify payload: %w", err)
	}
	return string(data), nil
}

func parseResponse(raw string) (*ai.Verdict, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ai.ErrMalformedResponse, err)
	}

	category, err := fields.ParseCategory(coerceString(data["category"]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ai.ErrMalformedResponse, err)
	}

	reason := coerceString(data["reason"])
	if category == fields.CategoryUnresolved {
		if reason == "" {
			reason = "no category fits"
		}
		return nil, fmt.Errorf("%w: %s", ai.ErrRejected, reason)
	}

	confidence := coerceFloat(data["confidence"])
	switch {
	case math.IsNaN(confidence):
		confidence = defaultConfidence
	case confidence < 0:
		confidence = 0
	case confidence > 1:
		confidence = 1
	}

	return &ai.Verdict{
		Category:   category,
		Confidence: confidence,
		Reason:     reason,
	}, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", val))
	}
}
