// SPDX-License-Identifier: MPL-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	// FormatCUE renders the config as a CUE file.
	FormatCUE Format = "cue"
	// FormatTOML renders the config as TOML.
	FormatTOML Format = "toml"
	// FormatJSON renders the config as indented JSON.
	FormatJSON Format = "json"
)

// ErrUnknownFormat is returned by Render for unsupported formats.
var ErrUnknownFormat = errors.New("unknown config format")

// Format names a config rendering.
type Format string

// Render encodes cfg in the requested format. Callers that print the result
// should pass cfg.Redacted().
func Render(cfg *Config, format Format) (string, error) {
	switch format {
	case FormatCUE, "":
		return GenerateCUE(cfg), nil
	case FormatTOML:
		data, err := toml.Marshal(cfg)
		if err != nil {
			return "", fmt.Errorf("encoding config as TOML: %w", err)
		}
		return string(data), nil
	case FormatJSON:
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encoding config as JSON: %w", err)
		}
		return string(data) + "\n", nil
	default:
		return "", fmt.Errorf("%w: %q (valid: cue, toml, json)", ErrUnknownFormat, string(format))
	}
}

// GenerateCUE generates a CUE representation of the configuration
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// upkeep configuration\n")
	sb.WriteString("// Environment variables prefixed with UPKEEP_ override these values,\n")
	sb.WriteString("// e.g. UPKEEP_HTTP_API_TIMEOUT=45s.\n\n")

	fmt.Fprintf(&sb, "repository: %q\n", cfg.Repository)
	fmt.Fprintf(&sb, "asset_prefix: %q\n", cfg.AssetPrefix)
	fmt.Fprintf(&sb, "current_version: %q\n", cfg.CurrentVersion)
	fmt.Fprintf(&sb, "include_prereleases: %v\n", cfg.IncludePrereleases)
	if cfg.APIBaseURL != "" {
		fmt.Fprintf(&sb, "api_base_url: %q\n", cfg.APIBaseURL)
	}
	if cfg.DataDir != "" {
		fmt.Fprintf(&sb, "data_dir: %q\n", cfg.DataDir)
	}

	sb.WriteString("\nhttp: {\n")
	fmt.Fprintf(&sb, "\tapi_timeout: %q\n", cfg.HTTP.APITimeout.String())
	fmt.Fprintf(&sb, "\tdownload_timeout: %q\n", cfg.HTTP.DownloadTimeout.String())
	fmt.Fprintf(&sb, "\trequests_per_second: %v\n", cfg.HTTP.RequestsPerSecond)
	if cfg.HTTP.UserAgent != "" {
		fmt.Fprintf(&sb, "\tuser_agent: %q\n", cfg.HTTP.UserAgent)
	}
	sb.WriteString("}\n")

	sb.WriteString("\nlog: {\n")
	fmt.Fprintf(&sb, "\tlevel: %q\n", cfg.Log.Level)
	fmt.Fprintf(&sb, "\tformat: %q\n", cfg.Log.Format)
	sb.WriteString("}\n")

	sb.WriteString("\ninstall: {\n")
	if cfg.Install.TargetDir != "" {
		fmt.Fprintf(&sb, "\ttarget_dir: %q\n", cfg.Install.TargetDir)
	}
	fmt.Fprintf(&sb, "\tstrip_single_root: %v\n", cfg.Install.StripSingleRoot)
	sb.WriteString("}\n")

	if len(cfg.Credential.Secrets) > 0 || cfg.Credential.Salt != "" {
		sb.WriteString("\ncredential: {\n")
		if len(cfg.Credential.Secrets) > 0 {
			sb.WriteString("\tsecrets: [\n")
			for _, s := range cfg.Credential.Secrets {
				fmt.Fprintf(&sb, "\t\t%q,\n", s)
			}
			sb.WriteString("\t]\n")
		}
		if cfg.Credential.Salt != "" {
			fmt.Fprintf(&sb, "\tsalt: %q\n", cfg.Credential.Salt)
		}
		sb.WriteString("}\n")
	}

	if len(cfg.Instances) > 0 {
		sb.WriteString("\ninstances: {\n")
		for _, id := range slices.Sorted(maps.Keys(cfg.Instances)) {
			inst := cfg.Instances[id]
			fmt.Fprintf(&sb, "\t%q: {\n", id)
			fmt.Fprintf(&sb, "\t\trepository: %q\n", inst.Repository)
			fmt.Fprintf(&sb, "\t\tasset_prefix: %q\n", inst.AssetPrefix)
			fmt.Fprintf(&sb, "\t\tcurrent_version: %q\n", inst.CurrentVersion)
			if inst.IncludePrereleases {
				sb.WriteString("\t\tinclude_prereleases: true\n")
			}
			if inst.APIBaseURL != "" {
				fmt.Fprintf(&sb, "\t\tapi_base_url: %q\n", inst.APIBaseURL)
			}
			sb.WriteString("\t}\n")
		}
		sb.WriteString("}\n")
	}

	return sb.String()
}
