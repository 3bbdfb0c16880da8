package logger

import (
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/hh-autofill/internal/fields"
)

const (
	FieldProvider    = "ai_provider"
	FieldModel       = "ai_model"
	FieldBatchID     = "batch_id"
	FieldFingerprint = "fingerprint"
	FieldCategory    = "category"
	FieldSource      = "source"
	FieldAttempt     = "attempt"
	FieldReason      = "reason"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts key/value pairs into zap fields, skipping blank keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields attaches fields to logger, defaulting to a no-op logger when nil.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// WithCommonFields attaches the AI provider and model to logger.
func WithCommonFields(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)...)
}

// ResultFields describes a classification result.
func ResultFields(res fields.Result) []zap.Field {
	return StringFields(
		StringField{Key: FieldFingerprint, Value: res.Fingerprint},
		StringField{Key: FieldCategory, Value: string(res.Category)},
		StringField{Key: FieldSource, Value: string(res.Source)},
		StringField{Key: FieldReason, Value: res.Reason},
	)
}
