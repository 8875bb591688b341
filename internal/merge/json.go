package merge

import (
	"encoding/json"
	"fmt"
)

// jsonValid reports a non-nil error if data is not fully parseable JSON.
func jsonValid(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
