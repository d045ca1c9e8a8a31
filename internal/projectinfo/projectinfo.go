// Package projectinfo implements the Project Info Store: the single owner
// of each project's on-disk JSON document and the write-through cache in
// front of it. Handlers and the scheduler never touch the JSON file
// directly; they go through a Store.
package projectinfo

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cwstudio/projectcore/internal/logfields"
	"github.com/cwstudio/projectcore/internal/util/sets"
)

// Info is the canonical per-project record.
type Info struct {
	ProjectID        string   `json:"projectID"`
	ProjectType      string   `json:"projectType"`
	Location         string   `json:"location"`
	ExtensionID      string   `json:"extensionID,omitempty"`
	AutoBuildEnabled bool     `json:"autoBuildEnabled"`
	StartMode        string   `json:"startMode,omitempty"`
	AppPorts         []string `json:"appPorts,omitempty"`
	DebugPort        string   `json:"debugPort,omitempty"`
	ContextRoot      string   `json:"contextRoot,omitempty"`
	HealthCheck      string   `json:"healthCheck,omitempty"`

	WatchedFiles sets.Set[string] `json:"watchedFiles,omitempty"`
	IgnoredFiles sets.Set[string] `json:"ignoredFiles,omitempty"`
	IgnoredPaths sets.Set[string] `json:"ignoredPaths,omitempty"`

	MavenProfiles   []string `json:"mavenProfiles,omitempty"`
	MavenProperties []string `json:"mavenProperties,omitempty"`
}

// Clone returns a deep-enough copy for cache isolation: the slices/sets are
// reallocated so a caller mutating the returned value cannot corrupt the
// cached entry.
func (i *Info) Clone() *Info {
	if i == nil {
		return nil
	}
	out := *i
	out.AppPorts = append([]string(nil), i.AppPorts...)
	out.MavenProfiles = append([]string(nil), i.MavenProfiles...)
	out.MavenProperties = append([]string(nil), i.MavenProperties...)
	out.WatchedFiles = i.WatchedFiles.Clone()
	out.IgnoredFiles = i.IgnoredFiles.Clone()
	out.IgnoredPaths = i.IgnoredPaths.Clone()
	return &out
}

// New returns an Info with AutoBuildEnabled defaulted true, per invariant.
func New(projectID, projectType, location string) *Info {
	return &Info{
		ProjectID:        projectID,
		ProjectType:      projectType,
		Location:         location,
		AutoBuildEnabled: true,
		WatchedFiles:     sets.New[string](),
		IgnoredFiles:     sets.New[string](),
		IgnoredPaths:     sets.New[string](),
	}
}

type cacheEntry struct {
	info *Info
}

// Store is the write-through cache in front of the per-project JSON files.
// Cache is keyed by infoFile path, matching the ownership model: the Store
// is the only component that reads or writes these files.
type Store struct {
	mu    sync.RWMutex
	cache map[string]*cacheEntry
	log   *slog.Logger
}

// NewStore creates an empty Store.
func NewStore(log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{cache: make(map[string]*cacheEntry), log: log}
}

// Save updates the cache entry keyed by infoFile and, if persist, writes the
// JSON document to disk asynchronously. Disk write errors are logged, never
// returned: the cache remains authoritative regardless of disk state.
func (s *Store) Save(infoFile string, info *Info, persist bool) {
	clone := info.Clone()

	s.mu.Lock()
	s.cache[infoFile] = &cacheEntry{info: clone}
	s.mu.Unlock()

	if !persist {
		return
	}

	go s.writeToDisk(infoFile, clone)
}

func (s *Store) writeToDisk(infoFile string, info *Info) {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		s.log.Error("marshal project info", logfields.ProjectID(info.ProjectID), logfields.Path(infoFile), logfields.Err(err))
		return
	}

	if err := os.MkdirAll(filepath.Dir(infoFile), 0o750); err != nil {
		s.log.Error("create project info dir", logfields.ProjectID(info.ProjectID), logfields.Path(infoFile), logfields.Err(err))
		return
	}

	tmp := infoFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		s.log.Error("write project info", logfields.ProjectID(info.ProjectID), logfields.Path(infoFile), logfields.Err(err))
		return
	}
	if err := os.Rename(tmp, infoFile); err != nil {
		s.log.Error("finalize project info write", logfields.ProjectID(info.ProjectID), logfields.Path(infoFile), logfields.Err(err))
	}
}

// Load returns the project info for infoFile: a cache hit returns a clone
// of the cached value; a cache miss reads the file from disk, populates the
// cache, and returns it. A disk read failure is treated as "not found" —
// the second return value is false — and is logged unless quiet.
func (s *Store) Load(infoFile string, quiet bool) (*Info, bool) {
	s.mu.RLock()
	entry, ok := s.cache[infoFile]
	s.mu.RUnlock()
	if ok {
		return entry.info.Clone(), true
	}

	data, err := os.ReadFile(infoFile)
	if err != nil {
		if !quiet {
			s.log.Warn("read project info", logfields.Path(infoFile), logfields.Err(err))
		}
		return nil, false
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		if !quiet {
			s.log.Warn("parse project info", logfields.Path(infoFile), logfields.Err(err))
		}
		return nil, false
	}
	if info.WatchedFiles == nil {
		info.WatchedFiles = sets.New[string]()
	}
	if info.IgnoredFiles == nil {
		info.IgnoredFiles = sets.New[string]()
	}
	if info.IgnoredPaths == nil {
		info.IgnoredPaths = sets.New[string]()
	}

	s.mu.Lock()
	s.cache[infoFile] = &cacheEntry{info: &info}
	s.mu.Unlock()

	return info.Clone(), true
}

// Update reads the current info for infoFile, mutates a single field named
// by key, and writes the result back (caching it and persisting to disk).
// appPorts is special-cased: the new value replaces the single existing
// slot rather than appending, preserving the len<=1 invariant.
func (s *Store) Update(infoFile, key string, value any) error {
	info, ok := s.Load(infoFile, true)
	if !ok {
		return fmt.Errorf("project info not found: %s", infoFile)
	}

	if err := applyField(info, key, value); err != nil {
		return err
	}

	s.Save(infoFile, info, true)
	return nil
}

func applyField(info *Info, key string, value any) error {
	switch key {
	case "projectType":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("projectType: expected string, got %T", value)
		}
		info.ProjectType = v
	case "extensionID":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("extensionID: expected string, got %T", value)
		}
		info.ExtensionID = v
	case "autoBuildEnabled":
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("autoBuildEnabled: expected bool, got %T", value)
		}
		info.AutoBuildEnabled = v
	case "startMode":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("startMode: expected string, got %T", value)
		}
		info.StartMode = v
	case "appPorts":
		// pop then push: replace the single slot, never append.
		var port string
		switch v := value.(type) {
		case string:
			port = v
		case nil:
			info.AppPorts = nil
			return nil
		default:
			return fmt.Errorf("appPorts: expected string, got %T", value)
		}
		if port == "" {
			info.AppPorts = nil
		} else {
			info.AppPorts = []string{port}
		}
	case "debugPort":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("debugPort: expected string, got %T", value)
		}
		info.DebugPort = v
	case "watchedFiles":
		v, ok := value.([]string)
		if !ok {
			return fmt.Errorf("watchedFiles: expected []string, got %T", value)
		}
		info.WatchedFiles = sets.New(v...)
	case "contextRoot":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("contextRoot: expected string, got %T", value)
		}
		info.ContextRoot = normalizePath(v)
	case "healthCheck":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("healthCheck: expected string, got %T", value)
		}
		info.HealthCheck = normalizePath(v)
	default:
		return fmt.Errorf("unknown project info field: %s", key)
	}
	return nil
}

// normalizePath enforces invariant 3: exactly one leading slash, no
// trailing slash.
func normalizePath(p string) string {
	if p == "" {
		return ""
	}
	p = "/" + strings.Trim(p, "/")
	if p == "/" {
		return p
	}
	return p
}

// Evict removes the cache entry for infoFile. Used on project delete.
func (s *Store) Evict(infoFile string) {
	s.mu.Lock()
	delete(s.cache, infoFile)
	s.mu.Unlock()
}
