package config

import (
	"bytes"
	"encoding/json"

	"github.com/cespare/xxhash/v2"
)

// hashConfig fingerprints a decoded config. The watcher uses it to skip
// writes that do not change anything.
func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(b)
}

// canonicalHashJSON fingerprints hook args. Key order and whitespace do not
// count, and absent, empty and null args are the same. Args that are not
// valid JSON hash as raw bytes.
func canonicalHashJSON(raw json.RawMessage) uint64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0
	}
	var v any
	if json.Unmarshal(raw, &v) != nil {
		return xxhash.Sum64(raw)
	}
	// encoding/json sorts map keys.
	b, err := json.Marshal(v)
	if err != nil {
		return xxhash.Sum64(raw)
	}
	return xxhash.Sum64(b)
}
