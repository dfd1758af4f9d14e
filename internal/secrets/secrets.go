// Package secrets loads the API keys the experiment engine expects from a
// .env file and reports which ones are present without ever printing them.
package secrets

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// RequiredKeys are the environment variables the engine needs to call its
// model providers.
var RequiredKeys = []string{
	"OPENAI_API_KEY",
	"HF_API_KEY",
	"OPENROUTER_API_KEY",
}

// Load reads the .env file at path into the process environment. A missing
// file is not an error; the keys may already be exported.
func Load(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// KeyStatus reports one required key's presence with a masked preview.
type KeyStatus struct {
	Name    string `json:"name"`
	Present bool   `json:"present"`
	Masked  string `json:"masked,omitempty"`
}

// Check reports the status of every required key.
func Check() []KeyStatus {
	out := make([]KeyStatus, 0, len(RequiredKeys))
	for _, name := range RequiredKeys {
		value := os.Getenv(name)
		status := KeyStatus{Name: name, Present: value != ""}
		if status.Present {
			status.Masked = Mask(value)
		}
		out = append(out, status)
	}
	return out
}

// Missing returns the names of required keys that are not set.
func Missing() []string {
	var missing []string
	for _, name := range RequiredKeys {
		if os.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// Mask hides the middle of a secret, keeping the first and last four
// characters for recognition. Short values are fully masked.
func Mask(value string) string {
	if len(value) <= 12 {
		return "****"
	}
	return value[:4] + strings.Repeat("*", 4) + value[len(value)-4:]
}
