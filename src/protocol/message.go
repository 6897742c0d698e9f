package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrMalformed = fmt.Errorf("malformed message")
var ErrUnsupportedPath = fmt.Errorf("unsupported path")

// now is replaced in tests.
var now = time.Now

// Text is a string that also accepts JSON numbers and booleans. Drivers are
// not consistent about quoting exchange tokens and version fields.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
	case len(data) > 0 && (data[0] == '{' || data[0] == '['):
		return fmt.Errorf("cannot read %s as text", data)
	default:
		*t = Text(data)
	}
	return nil
}

// WireMessage is the envelope every driver message travels in. Path is the
// only field used to pick a decoder.
type WireMessage struct {
	Path       string          `json:"path"`
	Exchange   Text            `json:"exchange,omitempty"`
	Request    json.RawMessage `json:"request,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	Event      json.RawMessage `json:"event,omitempty"`
	Completed  bool            `json:"completed"`
	Successful bool            `json:"successful"`
	Outcome    Text            `json:"outcome,omitempty"`
	Errors     [][]string      `json:"errors,omitempty"`
}

func (m *WireMessage) envelope() Envelope {
	return Envelope{
		Path:       m.Path,
		Operation:  Operation(m.Path),
		Exchange:   string(m.Exchange),
		Completed:  m.Completed,
		Successful: m.Successful,
		Outcome:    string(m.Outcome),
		Errors:     m.Errors,
		Request:    m.Request,
	}
}

// Operation splits a path into its segments.
func Operation(path string) []string {
	if path == "" {
		return []string{}
	}
	return strings.Split(path, "/")
}

// Request is an outbound command for the driver.
type Request struct {
	Path     string
	Exchange string
	Payload  any
}

type wireRequest struct {
	Path     string `json:"path"`
	Exchange string `json:"exchange"`
	Request  any    `json:"request,omitempty"`
}

// MarshalJSON fills in the current time in milliseconds when no exchange
// token was given.
func (r Request) MarshalJSON() ([]byte, error) {
	exchange := r.Exchange
	if exchange == "" {
		exchange = strconv.FormatInt(now().UnixMilli(), 10)
	}
	return json.Marshal(wireRequest{
		Path:     r.Path,
		Exchange: exchange,
		Request:  r.Payload,
	})
}

func (r *Request) UnmarshalJSON(data []byte) error {
	var w struct {
		Path     string          `json:"path"`
		Exchange Text            `json:"exchange"`
		Request  json.RawMessage `json:"request"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.Path = w.Path
	r.Exchange = string(w.Exchange)
	r.Payload = nil
	if len(w.Request) > 0 && !bytes.Equal(w.Request, []byte("null")) {
		r.Payload = w.Request
	}
	return nil
}

// WithExchange returns a copy of the request carrying the given token.
func (r Request) WithExchange(exchange string) Request {
	r.Exchange = exchange
	return r
}
