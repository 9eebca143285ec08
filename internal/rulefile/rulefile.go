// Package rulefile reads and writes a host's rule set on disk. Load accepts
// JSON, YAML and TOML; Save writes JSON or YAML depending on the extension.
package rulefile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jason-s-yu/sipsync/internal/models"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Loader is the file-backed rule loader handed to a host.
type Loader struct{}

func (Loader) Load(path string) (models.GameRules, error) { return Load(path) }

func (Loader) Save(rules models.GameRules, path string) error { return Save(rules, path) }

// Load reads a rule file. Punishment type names are matched
// case-insensitively and the result is validated.
func Load(path string) (models.GameRules, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("json")
	}
	if err := v.ReadInConfig(); err != nil {
		return models.GameRules{}, fmt.Errorf("reading rule file %s: %w", path, err)
	}

	var rules models.GameRules
	if err := v.Unmarshal(&rules); err != nil {
		return models.GameRules{}, fmt.Errorf("parsing rule file %s: %w", path, err)
	}
	for i := range rules.Rules {
		t := &rules.Rules[i].PunishmentType
		if err := t.UnmarshalText([]byte(*t)); err != nil {
			return models.GameRules{}, fmt.Errorf("rule file %s: rule %d: %w", path, i, err)
		}
	}
	if err := rules.Validate(); err != nil {
		return models.GameRules{}, fmt.Errorf("rule file %s: %w", path, err)
	}
	return rules, nil
}

// Save writes rules to path, creating parent directories as needed.
func Save(rules models.GameRules, path string) error {
	if err := rules.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid rules: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(rules)
	case ".json", "":
		data, err = json.MarshalIndent(rules, "", "  ")
	default:
		return fmt.Errorf("cannot save rules as %q; use .json or .yaml", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("encoding rules: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating rule directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing rule file %s: %w", path, err)
	}
	return nil
}
