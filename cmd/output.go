package cmd

import (
	"encoding/json"
	"fmt"
	"os"
)

// outputJSON writes data as indented JSON to stdout.
func outputJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// outputJSONError writes a structured error envelope to stdout and returns
// the underlying error so cobra still reports a nonzero exit code.
func outputJSONError(message string, err error) error {
	errOutput := map[string]interface{}{
		"error":   true,
		"message": message,
		"details": err.Error(),
	}
	_ = outputJSON(errOutput)
	return fmt.Errorf("%s: %w", message, err)
}
