package config

import "github.com/Neumenon/objgraph/stream"

// DefaultConfig returns configuration with sensible defaults.
// These defaults are used when no config file exists or when
// the config file leaves fields unset.
func DefaultConfig() *Config {
	return &Config{
		Output: OutputConfig{
			Format:            "readable",
			OptimizeTypeNames: boolPtr(true),
			BufferSize:        4096,
		},
		Input: InputConfig{
			ErrorPolicy:        "resilient",
			AllowWeakFallbacks: boolPtr(false),
		},
		Stream: StreamConfig{
			CRC:        boolPtr(true),
			Zstd:       boolPtr(false),
			MaxPayload: stream.MaxPayloadSize,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Merge merges loaded config with defaults.
// Values from loaded config take precedence over defaults.
// Returns a new Config with merged values.
func Merge(loaded, defaults *Config) *Config {
	return &Config{
		Output: OutputConfig{
			Format:            pickString(loaded.Output.Format, defaults.Output.Format),
			OptimizeTypeNames: pickBool(loaded.Output.OptimizeTypeNames, defaults.Output.OptimizeTypeNames),
			BufferSize:        pickInt(loaded.Output.BufferSize, defaults.Output.BufferSize),
		},
		Input: InputConfig{
			ErrorPolicy:        pickString(loaded.Input.ErrorPolicy, defaults.Input.ErrorPolicy),
			AllowWeakFallbacks: pickBool(loaded.Input.AllowWeakFallbacks, defaults.Input.AllowWeakFallbacks),
		},
		Stream: StreamConfig{
			CRC:        pickBool(loaded.Stream.CRC, defaults.Stream.CRC),
			Zstd:       pickBool(loaded.Stream.Zstd, defaults.Stream.Zstd),
			MaxPayload: pickInt(loaded.Stream.MaxPayload, defaults.Stream.MaxPayload),
		},
		Log: LogConfig{
			Level: pickString(loaded.Log.Level, defaults.Log.Level),
		},
	}
}

// Booleans are pointers so an explicit false survives the merge.
func pickBool(loaded, def *bool) *bool {
	if loaded != nil {
		return boolPtr(*loaded)
	}
	if def != nil {
		return boolPtr(*def)
	}
	return nil
}

func pickString(loaded, def string) string {
	if loaded != "" {
		return loaded
	}
	return def
}

func pickInt(loaded, def int) int {
	if loaded != 0 {
		return loaded
	}
	return def
}

func boolPtr(b bool) *bool {
	return &b
}

// Enabled reports the value of an optional flag, treating nil as false.
func Enabled(b *bool) bool {
	return b != nil && *b
}
