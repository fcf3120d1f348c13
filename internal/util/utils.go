package util

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// DecodeJSONBodyResponse reads an HTTP response body and unmarshals it into T.
// The body is always closed.
func DecodeJSONBodyResponse[T any](r *http.Response) (T, error) {
	defer r.Body.Close()

	var data T
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return data, fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return data, fmt.Errorf("decode response body: %w", err)
	}
	return data, nil
}
