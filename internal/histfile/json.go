package histfile

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/seantiz/dbcop/internal/model"
)

// MarshalJSON encodes h as indented JSON.
func MarshalJSON(h *model.History) ([]byte, error) {
	b, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "marshal history")
	}
	return append(b, '\n'), nil
}

// UnmarshalJSON decodes a history from JSON. Unknown fields are rejected so
// a mistyped field is not silently dropped on conversion.
func UnmarshalJSON(b []byte) (*model.History, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()

	h := &model.History{}
	if err := dec.Decode(h); err != nil {
		return nil, errors.Wrap(err, "unmarshal history")
	}
	canonicalize(h)
	return h, nil
}
