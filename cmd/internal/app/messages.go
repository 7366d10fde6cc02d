package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"bouncer/cmd/internal/bot"
)

// LoadMessages reads the start/help/setup texts from a YAML file. An empty path
// returns the defaults; keys missing from the file keep their default text.
func LoadMessages(path string) (bot.Messages, error) {
	def := bot.DefaultMessages()
	if path == "" {
		return def, nil
	}

	raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path.
	if err != nil {
		return bot.Messages{}, fmt.Errorf("messages: read %s: %w", path, err)
	}

	var m bot.Messages
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return bot.Messages{}, fmt.Errorf("messages: parse %s: %w", path, err)
	}
	return m.Merge(def), nil
}
