package store

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"

	"github.com/pkg/errors"
)

// Json is a JSON object column. Numbers are kept as json.Number so large
// integers survive a round trip.
type Json map[string]any

func unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func (j *Json) Scan(src any) error {
	var source []byte
	switch v := src.(type) {
	case nil:
		*j = nil
		return nil
	case string:
		source = []byte(v)
	case []byte:
		source = v
	default:
		return errors.Errorf("incompatible type %T for Json", src)
	}
	if err := unmarshal(source, j); err != nil {
		return errors.Wrap(err, "Json unmarshal")
	}
	return nil
}

func (j Json) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	data, err := json.Marshal(j)
	if err != nil {
		return nil, errors.Wrap(err, "Json marshal")
	}
	return string(data), nil
}

// ToJson converts a JSON-serialisable value into a Json object.
func ToJson(v any) (Json, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var j Json
	if err := unmarshal(data, &j); err != nil {
		return nil, errors.Wrapf(err, "%T is not a JSON object", v)
	}
	return j, nil
}

// Decode fills dest from j.
func (j Json) Decode(dest any) error {
	data, err := json.Marshal(j)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(unmarshal(data, dest))
}
