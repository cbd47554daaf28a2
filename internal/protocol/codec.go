package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrMissingSender    = errors.New("envelope has no sender")
	ErrMissingMessageID = errors.New("envelope has no messageId")
	ErrMissingRequest   = errors.New("envelope has no request")
)

// Encode serializes an Envelope into its JSON wire form.
func Encode(env *Envelope) (string, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(data), nil
}

// Decode deserializes a wire message into an Envelope. Any non-nil error
// means the message is not a well-formed envelope and should be dropped.
func Decode(raw string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if err := Validate(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Validate checks the fields every envelope must carry.
func Validate(env *Envelope) error {
	switch {
	case env.Sender == "":
		return ErrMissingSender
	case env.MessageID == 0:
		return ErrMissingMessageID
	case env.Request == nil:
		return ErrMissingRequest
	}
	return nil
}

// Marshal converts an application value into envelope data. A nil value or
// one that marshals to JSON null yields nil.
func Marshal(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		if IsNull(raw) {
			return nil, nil
		}
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if IsNull(data) {
		return nil, nil
	}
	return data, nil
}

// IsNull reports whether data is empty or the JSON literal null.
func IsNull(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || string(trimmed) == "null"
}

// IsFalsy reports whether data is absent or one of the values a request may
// not carry: null, false, a numeric zero or the empty string.
func IsFalsy(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return true
	}
	switch string(trimmed) {
	case "null", "false", `""`:
		return true
	}
	if c := trimmed[0]; c == '-' || (c >= '0' && c <= '9') {
		f, err := strconv.ParseFloat(string(trimmed), 64)
		return err == nil && f == 0
	}
	return false
}

// Reply builds the answer to the request envelope raw. Every field of the
// request is carried over as received and response is set to data; nil data
// is sent as an explicit null.
func Reply(raw string, data json.RawMessage) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	if fields == nil {
		return "", ErrMissingSender
	}
	if data == nil {
		data = json.RawMessage("null")
	}

	resp, err := json.Marshal(Body{Data: data})
	if err != nil {
		return "", fmt.Errorf("encode response: %w", err)
	}
	fields["response"] = resp

	out, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(out), nil
}
