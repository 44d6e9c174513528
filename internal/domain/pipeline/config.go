package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// Config is a free-form pipeline configuration tree
type Config map[string]any

// Merge returns a new config with override applied on top of base.
// Nested maps merge key by key; lists and scalars in override replace
// the base value. Neither input is modified.
func Merge(base, override Config) Config {
	out := make(Config, len(base)+len(override))
	for k, v := range base {
		out[k] = deepCopy(v)
	}
	for k, v := range override {
		if bm, ok := asMap(out[k]); ok {
			if om, ok := asMap(v); ok {
				out[k] = map[string]any(Merge(bm, om))
				continue
			}
		}
		out[k] = deepCopy(v)
	}
	return out
}

// Section returns the nested map at key, or an empty config
func (c Config) Section(key string) Config {
	if m, ok := asMap(c[key]); ok {
		return m
	}
	return Config{}
}

// Decode maps the config onto a struct using `mapstructure` tags.
// Numeric strings and floats are coerced where the target asks for them.
// Fields already set on out act as defaults; a list or map present in the
// config replaces the default wholesale.
func (c Config) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ZeroFields:       true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(c))
}

// ParseConfig decodes data in the given format: yaml, toml or json
func ParseConfig(data []byte, format string) (Config, error) {
	cfg := Config{}
	var err error

	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "yaml", "yml":
		err = yaml.Unmarshal(data, (*map[string]any)(&cfg))
	case "toml":
		err = toml.Unmarshal(data, (*map[string]any)(&cfg))
	case "json":
		err = sonic.Unmarshal(data, (*map[string]any)(&cfg))
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s config: %w", format, err)
	}
	if cfg == nil {
		cfg = Config{}
	}
	return cfg, nil
}

// LoadConfigFile reads an override file, choosing the format from its
// extension.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data, filepath.Ext(path))
}

// MustParseYAML parses an embedded defaults document. It panics on
// malformed input, so only use it with compiled-in data.
func MustParseYAML(doc string) Config {
	cfg, err := ParseConfig([]byte(doc), "yaml")
	if err != nil {
		panic(err)
	}
	return cfg
}

func asMap(v any) (Config, bool) {
	switch m := v.(type) {
	case Config:
		return m, true
	case map[string]any:
		return Config(m), true
	default:
		return nil, false
	}
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case Config:
		return map[string]any(Merge(nil, t))
	case map[string]any:
		return map[string]any(Merge(nil, t))
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
