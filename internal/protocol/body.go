package protocol

import (
	"errors"
	"io"
)

// ErrBodyTooLarge is returned by ReadBody when the body exceeds the limit.
var ErrBodyTooLarge = errors.New("request body too large")

// ReadBody reads at most maxSize bytes of a JSON-RPC request body. A nil
// body reads as empty.
func ReadBody(body io.Reader, maxSize int) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(body, int64(maxSize)+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxSize {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}
