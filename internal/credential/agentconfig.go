// SPDX-License-Identifier: MPL-2.0

package credential

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// lookupField decodes data according to ext and walks path through nested maps.
// A missing key yields "" with a nil error; undecodable data yields an error.
func lookupField(data []byte, ext string, path []string) (string, error) {
	var doc map[string]any
	var err error
	switch strings.ToLower(ext) {
	case ".toml":
		err = toml.Unmarshal(data, &doc)
	case ".json":
		err = json.Unmarshal(data, &doc)
	default:
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return "", fmt.Errorf("decoding agent config: %w", err)
	}

	var cur any = doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", nil
		}
		if cur, ok = m[key]; !ok {
			return "", nil
		}
	}
	s, ok := cur.(string)
	if !ok {
		return "", nil
	}
	return strings.TrimSpace(s), nil
}
