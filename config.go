package writlet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio"
	"github.com/jellydator/ttlcache/v3"

	defaults "github.com/Paranoid-AF/writlet/default"
)

// Setting keys. Values are stored as strings and parsed where they are used.
const (
	KeyEndpoint      = "OPENAI_ENDPOINT"
	KeyAPIKey        = "OPENAI_API_KEY"
	KeyModel         = "MODEL"
	KeyAPIStyle      = "API_STYLE"
	KeyMaxWords      = "MAX_GENERATION_WORDS"
	KeyPreviousChars = "CONTEXT_PREVIOUS_CHARS"
	KeyNextChars     = "CONTEXT_NEXT_CHARS"
	KeyTemperature   = "TEMPERATURE"
	KeyInstructions  = "AUTOCOMPLETE_ADDITIONAL_INSTRUCTIONS"
)

// SettingKeys lists every known key in display order.
var SettingKeys = []string{
	KeyEndpoint,
	KeyAPIKey,
	KeyModel,
	KeyAPIStyle,
	KeyMaxWords,
	KeyPreviousChars,
	KeyNextChars,
	KeyTemperature,
	KeyInstructions,
}

// IsMultiline reports whether a key's value should be edited in a
// multi-line box.
func IsMultiline(key string) bool {
	return key == KeyInstructions
}

// ConfigDir returns the config directory path.
// Resolution order: $WRITLET_CONFIG_DIR > $XDG_CONFIG_HOME/writlet > ~/.config/writlet
func ConfigDir() string {
	if dir := os.Getenv("WRITLET_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "writlet")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "writlet-config")
	}
	return filepath.Join(home, ".config", "writlet")
}

// SettingsPath returns the full path to the settings file.
func SettingsPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// PromptPath returns the custom autocomplete prompt file path.
func PromptPath() string {
	return filepath.Join(ConfigDir(), "prompt.md")
}

// DataDir returns the data directory path.
// Resolution order: $WRITLET_DATA_DIR > $XDG_DATA_HOME/writlet > ~/.local/share/writlet
func DataDir() string {
	if dir := os.Getenv("WRITLET_DATA_DIR"); dir != "" {
		return dir
	}
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "writlet")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "writlet-data")
	}
	return filepath.Join(home, ".local", "share", "writlet")
}

// CallLogPath returns the call log database path.
// $WRITLET_DB_PATH overrides the default location under DataDir.
func CallLogPath() string {
	if path := os.Getenv("WRITLET_DB_PATH"); path != "" {
		return path
	}
	return filepath.Join(DataDir(), "calls.db")
}

// DefaultSettings returns the default mapping from the embedded
// default_config.json, with the autocomplete instructions taken from a
// custom prompt.md when one exists.
func DefaultSettings() map[string]string {
	var m map[string]string
	if err := json.Unmarshal(defaults.DefaultConfigJSON, &m); err != nil {
		panic("writlet: invalid embedded default_config.json: " + err.Error())
	}
	m[KeyInstructions] = defaultInstructions()
	return m
}

// DefaultSettingsList returns the default mapping as a field list in
// display order.
func DefaultSettingsList() []Setting {
	return settingsInOrder(DefaultSettings())
}

// defaultInstructions returns the custom prompt file content when present,
// otherwise the embedded default prompt.
func defaultInstructions() string {
	data, err := os.ReadFile(PromptPath())
	if err != nil {
		return defaults.DefaultPrompt
	}
	return string(data)
}

// settingsCacheTTL bounds how long a read can serve a stale value after an
// external edit of the settings file. Writes through the store invalidate
// immediately.
const settingsCacheTTL = 2 * time.Second

// Store is a durable string-to-string settings store backed by a JSON file.
// Reads go through a short-TTL cache; every write persists the full mapping
// atomically (temp file + rename).
type Store struct {
	path  string
	cache *ttlcache.Cache[string, string]
}

// NewStore creates a store persisting to the given file path.
func NewStore(path string) *Store {
	c := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](settingsCacheTTL),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go c.Start()
	return &Store{path: path, cache: c}
}

// Close stops the cache's expiration loop.
func (s *Store) Close() {
	s.cache.Stop()
}

// Path returns the settings file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns the value for key. The second result is false when the key is
// unknown and absent from the file.
func (s *Store) Get(key string) (string, bool) {
	if item := s.cache.Get(key); item != nil {
		return item.Value(), true
	}
	m, err := s.load()
	if err != nil {
		return "", false
	}
	for k, v := range m {
		s.cache.Set(k, v, ttlcache.DefaultTTL)
	}
	v, ok := m[key]
	return v, ok
}

// All returns every setting in display order: known keys first, then any
// extra keys from the file in sorted order.
func (s *Store) All() ([]Setting, error) {
	m, err := s.load()
	if err != nil {
		return nil, err
	}
	return settingsInOrder(m), nil
}

// Set durably persists one key. The full mapping is rewritten atomically.
func (s *Store) Set(key, value string) error {
	m, err := s.load()
	if err != nil {
		return err
	}
	m[key] = value
	if err := s.persist(m); err != nil {
		return err
	}
	s.cache.DeleteAll()
	return nil
}

// SetAll durably persists every given field in a single atomic rewrite.
func (s *Store) SetAll(settings []Setting) error {
	m, err := s.load()
	if err != nil {
		return err
	}
	for _, f := range settings {
		m[f.Key] = f.Value
	}
	if err := s.persist(m); err != nil {
		return err
	}
	s.cache.DeleteAll()
	return nil
}

// load reads the settings file, seeding it with defaults on first use.
// Keys missing from an existing file are filled in from defaults without
// rewriting the file.
func (s *Store) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			m := DefaultSettings()
			if err := s.persist(m); err != nil {
				return nil, err
			}
			return m, nil
		}
		return nil, err
	}

	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}

	for k, v := range DefaultSettings() {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	return m, nil
}

// persist writes the full mapping to a temporary file and renames it over
// the canonical path, so a crash mid-write leaves the previous file intact.
func (s *Store) persist(m map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(s.path, append(data, '\n'), 0o600)
}

// settingsInOrder converts a mapping to a Setting slice in display order.
func settingsInOrder(m map[string]string) []Setting {
	known := make(map[string]bool, len(SettingKeys))
	out := make([]Setting, 0, len(m))
	for _, k := range SettingKeys {
		known[k] = true
		if v, ok := m[k]; ok {
			out = append(out, Setting{Key: k, Value: v, Multiline: IsMultiline(k)})
		}
	}
	var extra []string
	for k := range m {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		out = append(out, Setting{Key: k, Value: m[k]})
	}
	return out
}

// ResolveEndpoint returns the API endpoint URL.
// Priority: $WRITLET_ENDPOINT env > stored value.
func ResolveEndpoint(s *Store) string {
	if url := os.Getenv("WRITLET_ENDPOINT"); url != "" {
		return url
	}
	if s != nil {
		v, _ := s.Get(KeyEndpoint)
		return v
	}
	return ""
}

// ResolveAPIKey returns the API key.
// Priority: $WRITLET_API_KEY env > stored value.
func ResolveAPIKey(s *Store) string {
	if key := os.Getenv("WRITLET_API_KEY"); key != "" {
		return key
	}
	if s != nil {
		v, _ := s.Get(KeyAPIKey)
		return v
	}
	return ""
}

// ResolveModel returns the model name.
// Priority: $WRITLET_MODEL env > stored value.
func ResolveModel(s *Store) string {
	if model := os.Getenv("WRITLET_MODEL"); model != "" {
		return model
	}
	if s != nil {
		v, _ := s.Get(KeyModel)
		return v
	}
	return ""
}

// ValidateSettings checks a field list for potential issues and returns
// warnings.
func ValidateSettings(settings []Setting) []string {
	var warnings []string
	for _, f := range settings {
		switch f.Key {
		case KeyEndpoint:
			if f.Value != "" && !strings.HasPrefix(f.Value, "http://") && !strings.HasPrefix(f.Value, "https://") {
				warnings = append(warnings, KeyEndpoint+" does not look like an HTTP(S) URL: "+f.Value)
			}
		case KeyAPIStyle:
			if f.Value != "chat" && f.Value != "completion" {
				warnings = append(warnings, KeyAPIStyle+" must be \"chat\" or \"completion\", got: "+f.Value)
			}
		case KeyTemperature:
			if _, err := strconv.ParseFloat(f.Value, 64); err != nil {
				warnings = append(warnings, KeyTemperature+" is not a number: "+f.Value)
			}
		case KeyMaxWords, KeyPreviousChars, KeyNextChars:
			if _, err := strconv.Atoi(f.Value); err != nil {
				warnings = append(warnings, f.Key+" is not an integer: "+f.Value)
			}
		}
	}
	return warnings
}
