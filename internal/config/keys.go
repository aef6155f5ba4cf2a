package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/user/bankdesk/internal/scheduler"
)

// Setting is one configuration value addressed by its dot-separated key,
// e.g. "pipeline.acceptance_threshold".
type Setting struct {
	Key    string
	Value  any
	Secret bool
}

var secretKeys = map[string]bool{
	"llm.api_key":            true,
	"storage.redis.password": true,
	"telegram.token":         true,
}

// IsSecretKey reports whether key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Mask hides all but the last four characters of a secret. Empty and
// non-string values are returned unchanged.
func Mask(value any) any {
	s, ok := value.(string)
	if !ok || s == "" {
		return value
	}
	if len(s) > 4 {
		s = s[len(s)-4:]
	}
	return "***" + s
}

// Settings lists cfg ordered by key, masking secrets when mask is set.
func Settings(cfg *Config, mask bool) ([]Setting, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := flatten(m)

	out := make([]Setting, 0, len(flat))
	for key, value := range flat {
		secret := IsSecretKey(key)
		if secret && mask {
			value = Mask(value)
		}
		out = append(out, Setting{Key: key, Value: value, Secret: secret})
	}
	slices.SortFunc(out, func(a, b Setting) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

// knownKeys returns every settable key with its default value.
func knownKeys() map[string]any {
	m, err := ToMap(Default())
	if err != nil {
		panic(fmt.Sprintf("config defaults do not encode: %v", err))
	}
	return flatten(m)
}

// flatten turns nested JSON objects into dot-separated keys. Lists are
// leaves.
func flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// setPath stores value under a dot-separated key, creating or replacing
// intermediate objects as needed.
func setPath(m map[string]any, key string, value any) {
	parts := strings.Split(key, ".")
	for _, part := range parts[:len(parts)-1] {
		child, ok := m[part].(map[string]any)
		if !ok {
			child = make(map[string]any)
			m[part] = child
		}
		m = child
	}
	m[parts[len(parts)-1]] = value
}

// decodeValue reads command-line text as the JSON kind of the key's
// default, so a numeric-looking token stays a string and a list can be
// given comma-separated.
func decodeValue(key, text string, def any) (any, error) {
	switch def.(type) {
	case string:
		return text, nil
	case bool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return nil, fmt.Errorf("%s expects true or false, got %q", key, text)
		}
		return b, nil
	case float64:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("%s expects a number, got %q", key, text)
		}
		return f, nil
	case []any:
		var list []any
		if err := json.Unmarshal([]byte(text), &list); err == nil {
			return list, nil
		}
		list = list[:0]
		for _, item := range strings.Split(text, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
		return list, nil
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return text, nil
	}
	return v, nil
}

// checks hold the constraints the service relies on beyond a value's JSON
// type.
var checks = map[string]func(any) error{
	"log_level":                     oneOf("debug", "info", "warn", "error"),
	"llm.provider":                  oneOf("gemini", "openai"),
	"llm.temperature":               between(0, 2),
	"llm.top_p":                     between(0, 1),
	"pipeline.acceptance_threshold": between(0, 1),
	"pipeline.max_attempts":         atLeast(1),
	"pipeline.turn_timeout":         duration,
	"session.max_concurrent":        atLeast(1),
	"session.idle_ttl":              duration,
	"session.sweep_schedule":        schedule,
	"storage.backend":               oneOf("file", "sqlite", "redis"),
	"storage.redis.db":              atLeast(0),
}

// Check validates value for key. Unknown keys are rejected.
func Check(key string, value any) error {
	if _, ok := knownKeys()[key]; !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}
	if check := checks[key]; check != nil {
		if err := check(value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// Validate checks every constrained setting of c.
func (c *Config) Validate() error {
	settings, err := Settings(c, false)
	if err != nil {
		return err
	}
	var errs []error
	for _, s := range settings {
		if check := checks[s.Key]; check != nil {
			if err := check(s.Value); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s.Key, err))
			}
		}
	}
	return errors.Join(errs...)
}

// oneOf accepts the listed names or an empty value, which selects the
// built-in default.
func oneOf(allowed ...string) func(any) error {
	return func(v any) error {
		s, _ := v.(string)
		if s != "" && !slices.Contains(allowed, s) {
			return fmt.Errorf("must be one of %s, got %v", strings.Join(allowed, ", "), v)
		}
		return nil
	}
}

func between(lo, hi float64) func(any) error {
	return func(v any) error {
		f, ok := v.(float64)
		if !ok || f < lo || f > hi {
			return fmt.Errorf("must be between %g and %g, got %v", lo, hi, v)
		}
		return nil
	}
}

func atLeast(lo float64) func(any) error {
	return func(v any) error {
		f, ok := v.(float64)
		if !ok || f < lo || f != float64(int64(f)) {
			return fmt.Errorf("must be a whole number of at least %g, got %v", lo, v)
		}
		return nil
	}
}

// duration accepts an empty value, which selects the built-in default.
func duration(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fmt.Errorf("must be a positive duration such as 90s or 24h, got %q", s)
	}
	return nil
}

func schedule(v any) error {
	s, _ := v.(string)
	return scheduler.ValidSchedule(s)
}
