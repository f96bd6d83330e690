package draft

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// SchemaVersion tags every persisted value. Bump it when the stored shape of
// QuestionDraft or Metadata changes incompatibly.
const SchemaVersion = 1

type envelope struct {
	SchemaVersion int             `json:"schema_version"`
	Data          json.RawMessage `json:"data"`
}

func encodeValue(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal draft value: %w", err)
	}
	return json.Marshal(envelope{SchemaVersion: SchemaVersion, Data: data})
}

func decodeValue(key string, raw []byte, out any) error {
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&env); err != nil {
		return &StorageSchemaError{Key: key, Err: err}
	}
	if env.SchemaVersion != SchemaVersion {
		return &StorageSchemaError{Key: key, Version: env.SchemaVersion}
	}
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return &StorageSchemaError{Key: key, Version: env.SchemaVersion, Err: errors.New("missing data")}
	}
	strict := json.NewDecoder(bytes.NewReader(env.Data))
	strict.DisallowUnknownFields()
	if err := strict.Decode(out); err != nil {
		return &StorageSchemaError{Key: key, Version: env.SchemaVersion, Err: err}
	}
	return nil
}

func decodeQuestions(key string, raw []byte) ([]QuestionDraft, error) {
	var items []QuestionDraft
	if err := decodeValue(key, raw, &items); err != nil {
		return nil, err
	}
	for i, q := range items {
		if err := checkShape(q); err != nil {
			return nil, &StorageSchemaError{Key: key, Version: SchemaVersion, Err: fmt.Errorf("question %d: %w", i, err)}
		}
	}
	return items, nil
}

func decodeMetadata(key string, raw []byte) (Metadata, error) {
	var md Metadata
	if err := decodeValue(key, raw, &md); err != nil {
		return nil, err
	}
	return md, nil
}
