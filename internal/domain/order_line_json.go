package domain

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
)

// orderLineFields has OrderLine's fields without its JSON methods.
type orderLineFields OrderLine

var orderLineKeys = jsonKeys(reflect.TypeOf(orderLineFields{}))

func jsonKeys(t reflect.Type) map[string]struct{} {
	keys := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		keys[name] = struct{}{}
	}
	return keys
}

// UnmarshalJSON never fails. A line that does not decode is kept in Raw with
// DecodeError set, and unknown keys land in Extra.
func (l *OrderLine) UnmarshalJSON(data []byte) error {
	var fields orderLineFields
	if err := json.Unmarshal(data, &fields); err != nil {
		*l = OrderLine{
			Raw:         append(json.RawMessage(nil), bytes.TrimSpace(data)...),
			DecodeError: err.Error(),
		}
		return nil
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err == nil {
		for key, value := range all {
			if _, known := orderLineKeys[key]; known {
				continue
			}
			if fields.Extra == nil {
				fields.Extra = make(map[string]json.RawMessage)
			}
			fields.Extra[key] = value
		}
	}
	*l = OrderLine(fields)
	return nil
}

func (l OrderLine) MarshalJSON() ([]byte, error) {
	if len(l.Raw) > 0 {
		return l.Raw, nil
	}
	known, err := json.Marshal(orderLineFields(l))
	if err != nil || len(l.Extra) == 0 {
		return known, err
	}

	merged := make(map[string]json.RawMessage, len(l.Extra)+len(orderLineKeys))
	for key, value := range l.Extra {
		merged[key] = value
	}
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	return json.Marshal(merged)
}
