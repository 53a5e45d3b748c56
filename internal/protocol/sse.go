package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultMaxFrameSize bounds the data payload of one SSE frame.
const DefaultMaxFrameSize = 1024 * 1024

// ErrFrameTooLarge is returned when a frame's data exceeds the reader's limit.
var ErrFrameTooLarge = errors.New("sse frame exceeds size limit")

// linePrefixAllowance leaves room for the "data: " field name and a CR on a
// line whose payload is exactly at the limit.
const linePrefixAllowance = 16

// SetSSEHeaders sets the response headers of an event stream.
func SetSSEHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// WriteFrame writes one SSE frame: data: {jsonrpc,id,result}\n\n.
func WriteFrame(w io.Writer, id any, ev Event) error {
	resp, err := NewResult(id, ev)
	if err != nil {
		return err
	}
	return writeData(w, resp)
}

func writeData(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}

// FrameReader splits an SSE body into the data payloads of its frames.
// Multiple data lines of one frame are joined with newlines; comments and
// other fields (event, id, retry) are ignored.
type FrameReader struct {
	scanner *bufio.Scanner
	data    bytes.Buffer
	max     int
}

// NewFrameReader wraps r. maxFrameSize bounds the joined data of one frame;
// 0 uses DefaultMaxFrameSize.
func NewFrameReader(r io.Reader, maxFrameSize int) *FrameReader {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	maxLine := maxFrameSize + linePrefixAllowance
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(64*1024, maxLine)), maxLine)
	return &FrameReader{scanner: scanner, max: maxFrameSize}
}

// Next returns the next frame's data. It returns io.EOF when the body ends
// cleanly between frames and io.ErrUnexpectedEOF when it ends mid-frame.
func (fr *FrameReader) Next() ([]byte, error) {
	fr.data.Reset()
	inFrame := false
	for fr.scanner.Scan() {
		line := strings.TrimSuffix(fr.scanner.Text(), "\r")
		if line == "" {
			if inFrame {
				return bytes.Clone(fr.data.Bytes()), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		if field != "data" {
			continue
		}
		value = strings.TrimPrefix(value, " ")
		if inFrame {
			fr.data.WriteByte('\n')
		}
		fr.data.WriteString(value)
		inFrame = true
		if fr.data.Len() > fr.max {
			return nil, fmt.Errorf("%w: more than %d bytes", ErrFrameTooLarge, fr.max)
		}
	}
	if err := fr.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("%w: line longer than %d bytes", ErrFrameTooLarge, fr.max)
		}
		return nil, err
	}
	if inFrame {
		return nil, io.ErrUnexpectedEOF
	}
	return nil, io.EOF
}

// DecodeFrame decodes a frame payload into the JSON-RPC envelope and its event.
// A frame carrying a JSON-RPC error is returned as *JSONRPCError.
func DecodeFrame(data []byte) (*JSONRPCResponse, Event, error) {
	var resp JSONRPCResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, Event{}, fmt.Errorf("frame is not valid JSON: %w", err)
	}
	if resp.Error != nil {
		return &resp, Event{}, resp.Error
	}
	if len(resp.Result) == 0 {
		return &resp, Event{}, fmt.Errorf("frame has neither result nor error")
	}
	var ev Event
	if err := json.Unmarshal(resp.Result, &ev); err != nil {
		return &resp, Event{}, fmt.Errorf("frame result is not a valid event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return &resp, Event{}, err
	}
	return &resp, ev, nil
}
