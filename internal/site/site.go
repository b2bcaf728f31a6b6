package site

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

const (
	// Origin is the absolute URL the site is published under.
	Origin = "https://knoxmajor.github.io"
	// CIKey is the environment variable that marks a continuous integration build.
	CIKey = "CI"
	// CIBasePath is the prefix used when the site is built in CI for GitHub Pages.
	CIBasePath = "/stoneware/"
	// RootBasePath is the prefix used for local builds.
	RootBasePath = "/"
)

type envResolver struct{}

// New creates a Resolver keyed on the CI environment variable.
func New() Resolver {
	return envResolver{}
}

func (envResolver) Resolve(env map[string]string) Settings {
	return Resolve(env)
}

// Resolve computes the settings for the given environment snapshot.
// A missing or empty CI value selects the root base path; any other value,
// including "false", selects CIBasePath.
func Resolve(env map[string]string) Settings {
	base := RootBasePath
	if IsCI(env) {
		base = CIBasePath
	}
	return Settings{
		SiteOrigin: Origin,
		BasePath:   base,
	}
}

// IsCI reports whether env carries a non-empty CI indicator.
func IsCI(env map[string]string) bool {
	return env[CIKey] != ""
}

// FromProcess resolves settings from the current process environment.
func FromProcess() Settings {
	return Resolve(ParseEnviron(os.Environ()))
}

// ParseEnviron converts KEY=VALUE pairs into a map. Entries without '=' are
// skipped and later duplicates overwrite earlier ones.
func ParseEnviron(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		env[key] = value
	}
	return env
}

// URL returns the canonical root of the site.
func (s Settings) URL() string {
	return strings.TrimSuffix(s.SiteOrigin, "/") + s.BasePath
}

// Resolve returns the absolute URL of a site-relative path.
func (s Settings) Resolve(p string) string {
	return s.URL() + strings.TrimLeft(p, "/")
}

// Validate checks settings that did not come from Resolve, such as values
// decoded from a request body.
func (s Settings) Validate() error {
	u, err := url.Parse(s.SiteOrigin)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOrigin, err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return ErrInvalidOrigin
	}
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return ErrInvalidOrigin
	}
	if !strings.HasPrefix(s.BasePath, "/") || !strings.HasSuffix(s.BasePath, "/") {
		return ErrInvalidBasePath
	}
	return nil
}
