// Package library loads source libraries from disk. A library is a directory
// holding a library.yaml manifest and .sem source files.
package library

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

const (
	ManifestFile  = "library.yaml"
	SourceExt     = ".sem"
	defaultSource = "src"
)

// Manifest is the parsed library.yaml.
type Manifest struct {
	Name         string   `yaml:"name"`
	Version      string   `yaml:"version"`
	LangVersion  string   `yaml:"langVersion"`
	Dependencies []string `yaml:"dependencies"`
	Sources      string   `yaml:"sources"`
	Tests        string   `yaml:"tests"`
	Repository   string   `yaml:"repository"`
}

// ReadManifest parses the manifest of the library rooted at dir. A manifest
// without a name takes the directory name.
func ReadManifest(dir string) (Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		m.Name = filepath.Base(dir)
	}
	if m.Sources == "" {
		m.Sources = defaultSource
	}
	if m.Version != "" {
		if _, err := semver.NewVersion(m.Version); err != nil {
			return Manifest{}, fmt.Errorf("manifest %s: invalid version %q: %w", path, m.Version, err)
		}
	}
	if m.LangVersion != "" {
		if _, err := semver.NewConstraint(m.LangVersion); err != nil {
			return Manifest{}, fmt.Errorf("manifest %s: invalid langVersion %q: %w", path, m.LangVersion, err)
		}
	}
	return m, nil
}

// SupportsLanguage reports whether the manifest accepts language version lang.
// An empty constraint accepts everything.
func (m Manifest) SupportsLanguage(lang *semver.Version) bool {
	if m.LangVersion == "" || lang == nil {
		return true
	}
	c, err := semver.NewConstraint(m.LangVersion)
	if err != nil {
		return false
	}
	return c.Check(lang)
}

func hasManifest(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ManifestFile))
	return err == nil && !info.IsDir()
}
