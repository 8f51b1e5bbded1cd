package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
)

// Request is one synthesis request. Exactly one Request produces
// exactly one Response before the connection is closed; the wire
// format is a single JSON object terminated by a newline, which is
// the sole frame delimiter. JSON escaping keeps payloads free of raw
// newlines.
type Request struct {
	Text   string `json:"text"`
	Voice  string `json:"voice"`
	Output string `json:"output"`
}

// Response is the tagged result of a synthesis request: either an
// acknowledgement that the output file was written, or an error
// message passed through verbatim from the worker.
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// OK reports whether the response carries the acknowledgement token.
func (r Response) OK() bool { return r.Status == StatusOK }

// EncodeRequest marshals a request into its newline-terminated frame.
func EncodeRequest(req Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeRequest parses one request frame.
func DecodeRequest(line []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	if strings.TrimSpace(req.Text) == "" {
		return Request{}, fmt.Errorf("request text is empty")
	}
	if req.Output == "" {
		return Request{}, fmt.Errorf("request output path is empty")
	}
	return req, nil
}

// EncodeResponse marshals a response into its newline-terminated frame.
func EncodeResponse(resp Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeResponse parses one response line. Anything that is not a
// well-formed frame with the ok status decodes to a failure whose
// message is the worker's diagnostic text.
func DecodeResponse(line []byte) Response {
	trimmed := strings.TrimSpace(string(line))
	var resp Response
	if err := json.Unmarshal([]byte(trimmed), &resp); err != nil {
		return Response{Status: StatusError, Error: trimmed}
	}
	if resp.Status != StatusOK && resp.Error == "" {
		resp.Error = trimmed
	}
	if resp.Status != StatusOK {
		resp.Status = StatusError
	}
	return resp
}

// ReadFrame reads from r until the newline delimiter and returns the
// line without it.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return line[:len(line)-1], nil
}
