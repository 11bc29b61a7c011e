package config

import "encoding/json"

// unmarshalInto decodes standard-compliant JSON (already stripped of JSONC
// comments by hujson.Standardize) onto cfg's exported fields, using the struct's
// json tags as the wire key names.
func unmarshalInto(cfg *Config, data []byte) error {
	return json.Unmarshal(data, cfg)
}
