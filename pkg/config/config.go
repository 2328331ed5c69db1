package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hope140/strmsync/pkg/plog"
	"github.com/hope140/strmsync/pkg/util"
)

// ConfigFileName is the default name of the configuration file.
const ConfigFileName = "strmsync.config.json"

// DuplicatePolicy governs behavior when a destination file already occupies
// the target path.
type DuplicatePolicy string

const (
	// DuplicateSkip hashes both sides and copies only when contents differ.
	DuplicateSkip DuplicatePolicy = "skip"
	// DuplicateOverwrite deletes the existing destination file and copies.
	DuplicateOverwrite DuplicatePolicy = "overwrite"
)

// ErrInvalidDuplicatePolicy is returned by Validate for any on_duplicate
// value outside {skip, overwrite}. It is a fatal configuration error and is
// surfaced before any file processing begins.
var ErrInvalidDuplicatePolicy = errors.New("invalid value for 'on_duplicate': use 'skip' or 'overwrite'")

// FolderPair names one source tree and the destination tree it mirrors into.
type FolderPair struct {
	SrcFolder string `json:"src_folder"`
	DstFolder string `json:"dst_folder"`
}

// TrashConfig controls the archive-before-delete safety net for files
// removed by the deletion sweeps.
type TrashConfig struct {
	Enabled bool   `json:"enabled"`
	Dir     string `json:"dir"`
	Format  string `json:"format"`
}

// Config is the full run configuration, loaded once at startup and read-only
// for the run's duration.
type Config struct {
	FolderPairs []FolderPair `json:"folder_pairs"`

	// ExcludeExts lists file extensions never mirrored (typically the video
	// extensions, which are projected as pointer files instead).
	ExcludeExts []string `json:"exclude_exts"`
	// ExcludePatterns lists additional glob patterns (doublestar syntax)
	// matched against the source-relative path.
	ExcludePatterns []string `json:"exclude_patterns"`

	MaxSizeMB   int64           `json:"max_size_mb"`
	OnDuplicate DuplicatePolicy `json:"on_duplicate"`

	WebdavBaseURL string   `json:"webdav_base_url"`
	ExcludePrefix string   `json:"exclude_prefix"`
	VideoExts     []string `json:"video_exts"`

	// TimeoutSeconds bounds each hash computation and flags abnormally slow
	// copies after the fact.
	TimeoutSeconds int `json:"timeout"`

	ForceProcessSubfolders []string `json:"force_process_subfolders"`

	LogLevel  string `json:"log_level"`
	StateFile string `json:"state_file"`

	Trash TrashConfig `json:"trash"`
}

// NewDefault creates and returns a Config struct with sensible default
// values. Folder pairs are intentionally empty to force user configuration.
func NewDefault() Config {
	return Config{
		FolderPairs:            []FolderPair{},
		ExcludeExts:            []string{".mkv", ".mp4", ".ts"},
		ExcludePatterns:        []string{},
		MaxSizeMB:              100,
		OnDuplicate:            DuplicateOverwrite,
		WebdavBaseURL:          "",
		ExcludePrefix:          "",
		VideoExts:              []string{".mkv", ".mp4", ".ts"},
		TimeoutSeconds:         10,
		ForceProcessSubfolders: []string{},
		LogLevel:               "info",
		StateFile:              "", // Defaults to the state file next to the config.
		Trash: TrashConfig{
			Enabled: false,
			Dir:     "",
			Format:  "tar.zst",
		},
	}
}

// Load reads the configuration from path. A missing file yields the default
// configuration without an error (Validate will then reject the empty folder
// pairs); a file that exists but fails to parse is an error.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("could not determine absolute path for config %s: %w", path, err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDefault(), nil
		}
		return Config{}, fmt.Errorf("error opening config file %s: %w", absPath, err)
	}
	defer file.Close()

	plog.Info("Loading configuration", "path", absPath)
	// Start with default values, then overwrite with the file's content.
	// This makes the config loading resilient to missing fields in the JSON file.
	cfg := NewDefault()
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", absPath, err)
	}

	return cfg, nil
}

// Generate creates or overwrites a default config file at the given path.
func Generate(cfg Config, path string) error {
	jsonData, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}

	if err := os.WriteFile(path, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	plog.Info("Successfully saved config file", "path", path)
	return nil
}

// Validate checks the configuration for logical errors and inconsistencies,
// normalizing paths and extensions in place. It must be called before any
// file processing begins.
func (c *Config) Validate() error {
	switch c.OnDuplicate {
	case DuplicateSkip, DuplicateOverwrite:
	default:
		return fmt.Errorf("%w (got %q)", ErrInvalidDuplicatePolicy, c.OnDuplicate)
	}

	if len(c.FolderPairs) == 0 {
		return fmt.Errorf("no folder_pairs configured")
	}
	for i := range c.FolderPairs {
		pair := &c.FolderPairs[i]
		if pair.SrcFolder == "" {
			return fmt.Errorf("folder_pairs[%d]: src_folder cannot be empty", i)
		}
		if pair.DstFolder == "" {
			return fmt.Errorf("folder_pairs[%d]: dst_folder cannot be empty", i)
		}

		var err error
		if pair.SrcFolder, err = util.ExpandPath(pair.SrcFolder); err != nil {
			return fmt.Errorf("folder_pairs[%d]: could not expand src_folder: %w", i, err)
		}
		if pair.DstFolder, err = util.ExpandPath(pair.DstFolder); err != nil {
			return fmt.Errorf("folder_pairs[%d]: could not expand dst_folder: %w", i, err)
		}
		pair.SrcFolder = filepath.Clean(pair.SrcFolder)
		pair.DstFolder = filepath.Clean(pair.DstFolder)

		if pair.SrcFolder == pair.DstFolder {
			return fmt.Errorf("folder_pairs[%d]: src_folder and dst_folder cannot be the same", i)
		}
	}

	if c.MaxSizeMB < 0 {
		return fmt.Errorf("max_size_mb cannot be negative")
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 10
	}

	for i, ext := range c.ExcludeExts {
		c.ExcludeExts[i] = util.NormalizeExt(ext)
	}
	for i, ext := range c.VideoExts {
		c.VideoExts[i] = util.NormalizeExt(ext)
	}

	c.WebdavBaseURL = strings.TrimRight(c.WebdavBaseURL, "/")
	if len(c.VideoExts) > 0 && c.WebdavBaseURL == "" {
		return fmt.Errorf("webdav_base_url is required when video_exts is non-empty")
	}

	if c.ExcludePrefix != "" {
		var err error
		if c.ExcludePrefix, err = util.ExpandPath(c.ExcludePrefix); err != nil {
			return fmt.Errorf("could not expand exclude_prefix: %w", err)
		}
		c.ExcludePrefix = filepath.Clean(c.ExcludePrefix)
	}

	for i, prefix := range c.ForceProcessSubfolders {
		expanded, err := util.ExpandPath(prefix)
		if err != nil {
			return fmt.Errorf("force_process_subfolders[%d]: %w", i, err)
		}
		c.ForceProcessSubfolders[i] = filepath.Clean(expanded)
	}

	if c.Trash.Enabled {
		switch c.Trash.Format {
		case "tar.gz", "tar.zst":
		default:
			return fmt.Errorf("trash.format must be 'tar.gz' or 'tar.zst', got %q", c.Trash.Format)
		}
		if c.Trash.Dir == "" {
			return fmt.Errorf("trash.dir is required when trash.enabled is set")
		}
		var err error
		if c.Trash.Dir, err = util.ExpandPath(c.Trash.Dir); err != nil {
			return fmt.Errorf("could not expand trash.dir: %w", err)
		}
		c.Trash.Dir = filepath.Clean(c.Trash.Dir)
	}

	return nil
}

// Timeout returns the configured per-operation bound as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
