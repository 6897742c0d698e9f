package utils

import (
	"encoding/json"
	"io"
	"strings"
)

// ParseJSONObjects splits a stream fragment into complete JSON values.
// It returns the complete objects, the unparsed tail and an error when the
// tail is not a prefix of a valid JSON value. An incomplete trailing object
// is reported as an error too; callers that read from a stream keep the tail
// and retry once more bytes arrive.
func ParseJSONObjects(input string) ([]string, string, error) {
	objects := []string{}

	if strings.TrimSpace(input) == "" {
		return objects, "", nil
	}

	decoder := json.NewDecoder(strings.NewReader(input))

	var processed int64
	for {
		var raw json.RawMessage
		err := decoder.Decode(&raw)
		if err == io.EOF {
			break
		}
		if err != nil {
			return objects, strings.TrimSpace(input[processed:]), err
		}

		objects = append(objects, string(raw))
		processed = decoder.InputOffset()
	}

	remaining := ""
	if processed < int64(len(input)) {
		remaining = strings.TrimSpace(input[processed:])
		if remaining != "" {
			return objects, remaining, io.ErrUnexpectedEOF
		}
	}

	return objects, remaining, nil
}
