package fields

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// ActionClassifyFields is the action discriminator of a batch classification request.
const ActionClassifyFields = "classifyFields"

// ErrBadRequest is returned when a batch request cannot be processed at all.
var ErrBadRequest = errors.New("bad batch request")

// PageContext is the page-level context of a batch.
type PageContext struct {
	PageTitle string `json:"pageTitle,omitempty" mapstructure:"pageTitle"`
	URL       string `json:"url,omitempty" mapstructure:"url"`
}

// Batch is an ordered sequence of detected fields from one page scan.
type Batch struct {
	Fields  []FieldDescriptor `json:"fields"`
	Context PageContext       `json:"context"`
}

// HintsFor returns contextual hints for the field at index i: the page title and the
// labels of its direct neighbours.
func (b *Batch) HintsFor(i int) Hints {
	hints := Hints{PageTitle: b.Context.PageTitle}
	for _, j := range []int{i - 1, i + 1} {
		if j < 0 || j >= len(b.Fields) {
			continue
		}
		if label := strings.TrimSpace(b.Fields[j].RawLabelText); label != "" {
			hints.NearbyLabels = append(hints.NearbyLabels, label)
		}
	}
	return hints
}

// ParseBatch decodes a classification request.
//
// Only structural problems (invalid JSON, wrong action, missing fields array) reject the
// whole request. An element that cannot be decoded becomes an empty descriptor so the
// engine reports it per item. Missing fingerprints are derived from the field
// attributes when possible.
func ParseBatch(data []byte) (*Batch, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	action, _ := payload["action"].(string)
	if action != ActionClassifyFields {
		return nil, fmt.Errorf("%w: unsupported action %q", ErrBadRequest, action)
	}

	items, ok := payload["fields"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: fields must be an array", ErrBadRequest)
	}

	batch := &Batch{Fields: make([]FieldDescriptor, 0, len(items))}

	if raw, ok := payload["context"].(map[string]any); ok {
		if err := decode(raw, &batch.Context); err != nil {
			return nil, fmt.Errorf("%w: context: %v", ErrBadRequest, err)
		}
	}

	for _, item := range items {
		var d FieldDescriptor
		if raw, ok := item.(map[string]any); ok {
			if err := decode(raw, &d); err != nil {
				d = FieldDescriptor{}
			}
		}
		batch.Fields = append(batch.Fields, complete(d))
	}

	return batch, nil
}

func complete(d FieldDescriptor) FieldDescriptor {
	d.Fingerprint = strings.TrimSpace(d.Fingerprint)
	if d.Fingerprint == "" {
		d.Fingerprint = Fingerprint(d)
	}

	if strings.TrimSpace(d.RawLabelText) == "" {
		for _, candidate := range []string{d.Label, d.Placeholder, d.Name, d.ID} {
			if candidate = strings.TrimSpace(candidate); candidate != "" {
				d.RawLabelText = candidate
				break
			}
		}
	}

	return d
}

func decode(input map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}
