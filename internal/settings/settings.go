// Package settings merges a project's ".cw-settings" input, if present,
// onto handler-provided defaults to produce the ProjectInfo used for a
// build. Settings always win over defaults, field by field: each field has
// its own override rule (appPorts single-slot replace, slash
// normalization, all-or-nothing sequence validation) that a generic
// struct-overlay merge can't express.
package settings

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cwstudio/projectcore/internal/projectinfo"
	"github.com/cwstudio/projectcore/internal/util/sets"
)

// HandlerDefaults is what a Handler contributes before settings are applied.
type HandlerDefaults struct {
	AppPorts        []string
	DebugPort       string
	IgnoredPaths    []string
	ContextRoot     string
	HealthCheck     string
	MavenProfiles   []string
	MavenProperties []string
}

// RawSettings mirrors the ".cw-settings" JSON document (IProjectSettings).
// InternalPort and InternalDebugPort are accepted as either a JSON number
// or string and coerced to string, per the create procedure.
type RawSettings struct {
	InternalPort      string   `json:"-"`
	InternalDebugPort string   `json:"-"`
	IgnoredPaths      []string `json:"ignoredPaths,omitempty"`
	ContextRoot       string   `json:"contextRoot,omitempty"`
	HealthCheck       string   `json:"healthCheck,omitempty"`
	MavenProfiles     []string `json:"mavenProfiles,omitempty"`
	MavenProperties   []string `json:"mavenProperties,omitempty"`
	WatchedFiles      struct {
		IncludeFiles []string `json:"includeFiles,omitempty"`
		ExcludeFiles []string `json:"excludeFiles,omitempty"`
	} `json:"watchedFiles,omitempty"`
}

type rawSettingsWire struct {
	InternalPort      json.RawMessage `json:"internalPort,omitempty"`
	InternalDebugPort json.RawMessage `json:"internalDebugPort,omitempty"`
	IgnoredPaths      []string        `json:"ignoredPaths,omitempty"`
	ContextRoot       string          `json:"contextRoot,omitempty"`
	HealthCheck       string          `json:"healthCheck,omitempty"`
	MavenProfiles     []string        `json:"mavenProfiles,omitempty"`
	MavenProperties   []string        `json:"mavenProperties,omitempty"`
	WatchedFiles      struct {
		IncludeFiles []string `json:"includeFiles,omitempty"`
		ExcludeFiles []string `json:"excludeFiles,omitempty"`
	} `json:"watchedFiles,omitempty"`
}

// ParseRawSettings parses a ".cw-settings" file's contents. internalPort and
// internalDebugPort may appear as either a JSON number or a JSON string in
// the source document; both are coerced to plain strings here.
func ParseRawSettings(data []byte) (*RawSettings, error) {
	var wire rawSettingsWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parse .cw-settings: %w", err)
	}
	return &RawSettings{
		InternalPort:      coerceToString(wire.InternalPort),
		InternalDebugPort: coerceToString(wire.InternalDebugPort),
		IgnoredPaths:      wire.IgnoredPaths,
		ContextRoot:       wire.ContextRoot,
		HealthCheck:       wire.HealthCheck,
		MavenProfiles:     wire.MavenProfiles,
		MavenProperties:   wire.MavenProperties,
		WatchedFiles:      wire.WatchedFiles,
	}, nil
}

// coerceToString strips surrounding quotes from a raw JSON scalar (string or
// number) so "8080" and 8080 both yield "8080".
func coerceToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	return strings.Trim(string(raw), `"`)
}

// Merge produces the ProjectInfo base fields for (projectID, projectType,
// location), applying defaults first and settings last. base must already
// carry the identity fields (ProjectID/ProjectType/Location/AutoBuildEnabled)
// set by the caller; Merge only touches the fields settings can influence.
func Merge(base *projectinfo.Info, defaults HandlerDefaults, raw *RawSettings, log *slog.Logger) *projectinfo.Info {
	if log == nil {
		log = slog.Default()
	}

	info := base.Clone()

	// appPorts: internalPort, if present, replaces any handler default.
	// Otherwise fall back to the handler's default app port(s).
	if raw != nil && raw.InternalPort != "" {
		info.AppPorts = []string{raw.InternalPort}
	} else if len(defaults.AppPorts) > 0 {
		info.AppPorts = append([]string(nil), defaults.AppPorts...)
	} else {
		info.AppPorts = nil
	}

	// debugPort: prior value wins over the handler default, then settings'
	// internalDebugPort overrides if present and non-empty after trim.
	if info.DebugPort == "" {
		info.DebugPort = defaults.DebugPort
	}
	if raw != nil {
		trimmed := strings.TrimSpace(raw.InternalDebugPort)
		if trimmed != "" {
			info.DebugPort = trimmed
		}
	}

	// ignoredPaths: handler default wins over nothing; settings override
	// if they yield a non-empty set of non-empty entries.
	ignoredPaths := filterNonEmpty(defaults.IgnoredPaths)
	if raw != nil {
		if fromSettings := filterNonEmpty(raw.IgnoredPaths); len(fromSettings) > 0 {
			ignoredPaths = fromSettings
		}
	}
	info.IgnoredPaths = sets.New(ignoredPaths...)

	// contextRoot / healthCheck: settings win when present, else handler
	// default; both get the same slash normalization.
	contextRoot := defaults.ContextRoot
	healthCheck := defaults.HealthCheck
	if raw != nil {
		if raw.ContextRoot != "" {
			contextRoot = raw.ContextRoot
		}
		if raw.HealthCheck != "" {
			healthCheck = raw.HealthCheck
		}
	}
	info.ContextRoot = normalizeSlashes(contextRoot)
	info.HealthCheck = normalizeSlashes(healthCheck)

	// mavenProfiles / mavenProperties: settings win when non-empty, else
	// handler default; either way the list is all-or-nothing.
	info.MavenProfiles = rejectIfAnyEmpty("mavenProfiles", pick(raw, func(r *RawSettings) []string { return r.MavenProfiles }, defaults.MavenProfiles), log)
	info.MavenProperties = rejectIfAnyEmpty("mavenProperties", pick(raw, func(r *RawSettings) []string { return r.MavenProperties }, defaults.MavenProperties), log)

	// watchedFiles.includeFiles/excludeFiles → watchedFiles/ignoredFiles.
	if raw != nil {
		if include := rejectIfAnyEmpty("watchedFiles.includeFiles", raw.WatchedFiles.IncludeFiles, log); len(include) > 0 {
			info.WatchedFiles = sets.New(include...)
		}
		if exclude := rejectIfAnyEmpty("watchedFiles.excludeFiles", raw.WatchedFiles.ExcludeFiles, log); len(exclude) > 0 {
			info.IgnoredFiles = sets.New(exclude...)
		}
	}

	return info
}

func pick(raw *RawSettings, field func(*RawSettings) []string, fallback []string) []string {
	if raw != nil {
		if v := field(raw); len(v) > 0 {
			return v
		}
	}
	return fallback
}

func filterNonEmpty(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// rejectIfAnyEmpty enforces the "non-empty sequence, all elements non-empty
// after trim, else the whole setting is rejected" rule.
func rejectIfAnyEmpty(field string, vals []string, log *slog.Logger) []string {
	if len(vals) == 0 {
		return nil
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			log.Warn("rejecting setting: element is empty after trim", slog.String("field", field))
			return nil
		}
		out = append(out, trimmed)
	}
	return out
}

func normalizeSlashes(p string) string {
	if p == "" {
		return ""
	}
	return "/" + strings.Trim(p, "/")
}
