package config

import (
	"bytes"

	toml "github.com/pelletier/go-toml/v2"
)

// decodeTOML rejects keys the config does not know about so a typo in a
// policy file cannot silently fall back to a default.
func decodeTOML(data []byte, into any) error {
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	return decoder.Decode(into)
}

// Encode renders cfg as TOML, used by "pmdb config show".
func Encode(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	encoder.SetIndentTables(true)
	if err := encoder.Encode(cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
