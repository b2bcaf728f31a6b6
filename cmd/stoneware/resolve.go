package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/knoxmajor/stoneware/internal/envfile"
	"github.com/knoxmajor/stoneware/internal/site"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
	formatEnv  = "env"
)

var errSettingsMismatch = errors.New("settings do not match the current environment")

type resolveOptions struct {
	EnvFile string
	Format  string
	Path    string
	ForceCI bool
}

func (o resolveOptions) settings(environ []string) (site.Settings, error) {
	env := site.ParseEnviron(environ)
	if o.EnvFile != "" {
		fileEnv, err := envfile.Load(o.EnvFile)
		if err != nil {
			return site.Settings{}, err
		}
		env = envfile.Merge(env, fileEnv)
	}
	if o.ForceCI {
		env[site.CIKey] = "true"
	}
	return site.New().Resolve(env), nil
}

// runResolve prints the settings for environ in the requested format, or the
// absolute URL of opts.Path when it is set.
func runResolve(w io.Writer, environ []string, opts resolveOptions) error {
	settings, err := opts.settings(environ)
	if err != nil {
		return err
	}

	if opts.Path != "" {
		if _, err := fmt.Fprintln(w, settings.Resolve(opts.Path)); err != nil {
			return fmt.Errorf("write url: %w", err)
		}
		return nil
	}

	switch opts.Format {
	case "", formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(settings); err != nil {
			return fmt.Errorf("encode JSON: %w", err)
		}
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(settings); err != nil {
			return fmt.Errorf("encode YAML: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encode YAML: %w", err)
		}
	case formatEnv:
		if _, err := fmt.Fprintf(w, "SITE=%s\nBASE=%s\n", settings.SiteOrigin, settings.BasePath); err != nil {
			return fmt.Errorf("write env: %w", err)
		}
	default:
		return fmt.Errorf("unsupported format %q", opts.Format)
	}
	return nil
}

// runCheck validates a settings file written by an earlier resolve (JSON is
// accepted since it is valid YAML) and compares it with the current settings.
func runCheck(w io.Writer, environ []string, path string, opts resolveOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read settings file: %w", err)
	}

	var stored site.Settings
	if err := yaml.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("parse settings file %s: %w", path, err)
	}
	if err := stored.Validate(); err != nil {
		return fmt.Errorf("settings file %s: %w", path, err)
	}

	want, err := opts.settings(environ)
	if err != nil {
		return err
	}
	if stored != want {
		return fmt.Errorf("%w: file has %s, expected %s", errSettingsMismatch, stored.URL(), want.URL())
	}

	if _, err := fmt.Fprintf(w, "ok %s\n", stored.URL()); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
