package scenario

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// DefaultFileName is the scenario file for the default language.
	DefaultFileName = "config.yaml"
	// DefaultLanguage is used when no language is configured.
	DefaultLanguage = "en"
)

// Catalog holds one validated Config per language.
type Catalog struct {
	defaultLang string
	configs     map[string]*Config
}

// NewCatalog builds a catalog from already-loaded configs. The default language
// must be present.
func NewCatalog(defaultLang string, configs map[string]*Config) (*Catalog, error) {
	if defaultLang == "" {
		defaultLang = DefaultLanguage
	}
	if _, ok := configs[defaultLang]; !ok {
		return nil, fmt.Errorf("no scenario config for default language %q", defaultLang)
	}
	c := &Catalog{defaultLang: defaultLang, configs: make(map[string]*Config, len(configs))}
	for lng, cfg := range configs {
		cfg.Language = lng
		c.configs[lng] = cfg
	}
	return c, nil
}

// LoadCatalog reads config.yaml as the default language and every
// config-<lng>.yaml next to it as an additional language.
func LoadCatalog(dir, defaultLang string) (*Catalog, error) {
	if defaultLang == "" {
		defaultLang = DefaultLanguage
	}
	slog.Debug("scenario.LoadCatalog: loading scenario directory", "dir", dir, "default_language", defaultLang)

	if !Exists(dir) {
		return nil, fmt.Errorf("no %s in scenario directory %s", DefaultFileName, dir)
	}
	configs := make(map[string]*Config)
	base, err := LoadFile(filepath.Join(dir, DefaultFileName))
	if err != nil {
		return nil, err
	}
	configs[defaultLang] = base

	matches, err := filepath.Glob(filepath.Join(dir, "config-*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list scenario files: %w", err)
	}
	for _, path := range matches {
		lng := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "config-"), ".yaml")
		if lng == "" || lng == defaultLang {
			slog.Warn("scenario.LoadCatalog: skipping scenario file", "path", path)
			continue
		}
		cfg, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		configs[lng] = cfg
	}

	cat, err := NewCatalog(defaultLang, configs)
	if err != nil {
		return nil, err
	}
	slog.Info("Scenario catalog loaded", "languages", cat.Languages())
	return cat, nil
}

// Get returns the config for lng, falling back to the default language.
func (c *Catalog) Get(lng string) *Config {
	if cfg, ok := c.configs[lng]; ok {
		return cfg
	}
	return c.configs[c.defaultLang]
}

// Resolve maps a requested language to the one Get would serve.
func (c *Catalog) Resolve(lng string) string {
	if _, ok := c.configs[lng]; ok {
		return lng
	}
	return c.defaultLang
}

// Default returns the default language's config.
func (c *Catalog) Default() *Config {
	return c.configs[c.defaultLang]
}

// DefaultLanguage returns the catalog's default language code.
func (c *Catalog) DefaultLanguage() string {
	return c.defaultLang
}

// Languages returns the loaded language codes, sorted.
func (c *Catalog) Languages() []string {
	langs := make([]string, 0, len(c.configs))
	for lng := range c.configs {
		langs = append(langs, lng)
	}
	sort.Strings(langs)
	return langs
}

// Exists reports whether dir holds a default scenario file.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, DefaultFileName))
	return err == nil
}
