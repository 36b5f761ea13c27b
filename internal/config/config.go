/*
Copyright 2025 Pextra Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config resolves the control-plane profile used by pce commands.
//
// Values are taken, in order of precedence, from command-line flags, the
// environment, and a YAML profile file.
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	// ProfileEnv names an alternative default profile file.
	ProfileEnv = "PCE_PROFILE"

	defaultProfileDir  = ".pce"
	defaultProfileFile = "profile.yaml"
	defaultTimeout     = 60 * time.Second
)

// Profile describes how to reach a control plane.
type Profile struct {
	Name string `yaml:"name"`
	// URL is the CloudAPI endpoint, or file:///path for a local OCI image
	// layout.
	URL      string `yaml:"url"`
	Account  string `yaml:"account"`
	KeyID    string `yaml:"keyId"`
	KeyPath  string `yaml:"keyPath"`
	Insecure bool   `yaml:"insecure"`
	// ObjectsRoot is where a local store writes exported objects.
	ObjectsRoot string        `yaml:"objectsRoot"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Overrides are profile values given on the command line. Empty fields do
// not override.
type Overrides struct {
	URL      string
	Account  string
	KeyID    string
	KeyPath  string
	Insecure bool
}

// DefaultPath returns the profile file used when none is given.
func DefaultPath() string {
	if p := os.Getenv(ProfileEnv); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(defaultProfileDir, defaultProfileFile)
	}
	return filepath.Join(home, defaultProfileDir, defaultProfileFile)
}

// Load reads a profile file. A missing file is only an error when required
// is set.
func Load(path string, required bool) (*Profile, error) {
	p := &Profile{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return p, nil
		}
		return nil, errors.Wrapf(err, "reading profile %s", path)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, errors.Wrapf(err, "parsing profile %s", path)
	}
	return p, nil
}

// Resolve loads the profile at path (DefaultPath when empty), then applies
// the environment and the flag overrides, and validates the result.
func Resolve(path string, ov Overrides) (*Profile, error) {
	required := path != ""
	if path == "" {
		path = DefaultPath()
	}
	p, err := Load(path, required)
	if err != nil {
		return nil, err
	}
	p.ApplyEnv(os.Getenv)
	p.Apply(ov)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ApplyEnv overrides profile values from the environment. Each value is
// looked up with the PCE_, TRITON_ and SDC_ prefixes, first match wins.
func (p *Profile) ApplyEnv(getenv func(string) string) {
	lookup := func(key string) string {
		for _, prefix := range []string{"PCE_", "TRITON_", "SDC_"} {
			if v := getenv(prefix + key); v != "" {
				return v
			}
		}
		return ""
	}
	if v := lookup("URL"); v != "" {
		p.URL = v
	}
	if v := lookup("ACCOUNT"); v != "" {
		p.Account = v
	}
	if v := lookup("KEY_ID"); v != "" {
		p.KeyID = v
	}
	if v := getenv("PCE_KEY_PATH"); v != "" {
		p.KeyPath = v
	}
	if v := lookup("TLS_INSECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			p.Insecure = b
		}
	}
}

// Apply overrides profile values with the non-empty flag values.
func (p *Profile) Apply(ov Overrides) {
	if ov.URL != "" {
		p.URL = ov.URL
	}
	if ov.Account != "" {
		p.Account = ov.Account
	}
	if ov.KeyID != "" {
		p.KeyID = ov.KeyID
	}
	if ov.KeyPath != "" {
		p.KeyPath = ov.KeyPath
	}
	if ov.Insecure {
		p.Insecure = true
	}
}

// LocalDir returns the image layout directory of a file:// profile.
func (p *Profile) LocalDir() (string, bool) {
	u, err := url.Parse(p.URL)
	if err != nil || u.Scheme != "file" {
		return "", false
	}
	dir := u.Path
	if dir == "" {
		dir = u.Opaque
	}
	return filepath.Clean(dir), dir != ""
}

// RequestTimeout returns the configured timeout or the default.
func (p *Profile) RequestTimeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return defaultTimeout
}

// Validate checks that the profile can be used to open a session.
func (p *Profile) Validate() error {
	if p.URL == "" {
		return errors.New("no control plane URL configured (use --url, PCE_URL or a profile)")
	}
	u, err := url.Parse(p.URL)
	if err != nil {
		return errors.Wrapf(err, "invalid URL %q", p.URL)
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		if _, ok := p.LocalDir(); !ok {
			return errors.Errorf("invalid local store URL %q", p.URL)
		}
		return nil
	case "http", "https":
	default:
		return errors.Errorf("unsupported URL scheme %q in %q", u.Scheme, p.URL)
	}
	if u.Host == "" {
		return errors.Errorf("invalid URL %q: missing host", p.URL)
	}
	if p.Account == "" {
		return errors.New("no account configured (use --account, PCE_ACCOUNT or a profile)")
	}
	if p.KeyID == "" {
		return errors.New("no key id configured (use --key-id, PCE_KEY_ID or a profile)")
	}
	return nil
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
