// Package lang holds the user-facing message catalog. Catalogs live in a
// single YAML file keyed by language; the active language is selected in
// the file itself.
package lang

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	mu       sync.RWMutex
	messages = map[string]string{}
)

func Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	active := "en"
	if v, ok := raw["active_language"].(string); ok && v != "" {
		active = v
	}

	block, ok := raw[active].(map[string]interface{})
	if !ok {
		block, ok = raw["en"].(map[string]interface{})
		if !ok {
			return fmt.Errorf("%s: no %q or \"en\" language block", path, active)
		}
	}

	m := make(map[string]string, len(block))
	for k, v := range block {
		if s, ok := v.(string); ok {
			m[k] = s
		}
	}

	mu.Lock()
	messages = m
	mu.Unlock()
	return nil
}

// T looks up a message and substitutes {placeholder} pairs. A missing
// key renders as {key} so untranslated strings are visible, not fatal.
func T(key string, pairs ...string) string {
	mu.RLock()
	s, ok := messages[key]
	mu.RUnlock()

	if !ok {
		return "{" + key + "}"
	}

	for j := 0; j+1 < len(pairs); j += 2 {
		s = strings.ReplaceAll(s, "{"+pairs[j]+"}", pairs[j+1])
	}
	return s
}
