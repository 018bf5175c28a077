package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/openmined/bucketsync/internal/blob"
	"github.com/openmined/bucketsync/internal/cache"
	"github.com/openmined/bucketsync/internal/ignore"
	"github.com/openmined/bucketsync/internal/keys"
	"github.com/openmined/bucketsync/internal/utils"
	"github.com/spf13/viper"
)

const EnvPrefix = "BUCKETSYNC"

var (
	ErrInvalidSettings = errors.New("invalid settings")
	ErrReadSettings    = errors.New("cannot read settings")
)

// Settings is the settings document for one run.
type Settings struct {
	AccessKeyID     string   `mapstructure:"access_key_id"`
	SecretAccessKey string   `mapstructure:"secret_access_key"`
	Bucket          string   `mapstructure:"bucket"`
	BucketACL       string   `mapstructure:"bucket_acl"`
	ObjectACL       string   `mapstructure:"object_acl"`
	Roots           []string `mapstructure:"roots"`
	RelativePaths   bool     `mapstructure:"relative_paths"`
	Ignore          []string `mapstructure:"ignore"`
	Cache           string   `mapstructure:"cache"`
	CacheBackend    string   `mapstructure:"cache_backend"`
	Region          string   `mapstructure:"region"`
	Endpoint        string   `mapstructure:"endpoint"`

	// Path is the file the settings were read from.
	Path string `mapstructure:"-"`

	rules *ignore.RuleSet
	addr  *keys.Addressing
}

// Load reads a YAML settings document, applies BUCKETSYNC_* environment
// overrides and defaults, and validates the result.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("region", blob.DefaultRegion)
	v.SetDefault("cache_backend", cache.BackendSQLite)
	v.SetDefault("relative_paths", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only applies to keys viper already knows about
	for _, key := range []string{"access_key_id", "secret_access_key", "bucket", "bucket_acl", "object_acl", "cache", "endpoint"} {
		v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrReadSettings, path, err)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrReadSettings, path, err)
	}
	s.Path = v.ConfigFileUsed()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate normalizes paths and checks every field. It is safe to call more
// than once.
func (s *Settings) Validate() error {
	if s.AccessKeyID == "" || s.SecretAccessKey == "" {
		return invalid("access_key_id and secret_access_key are required")
	}
	if s.Bucket == "" {
		return invalid("bucket is required")
	}
	if len(s.Roots) == 0 {
		return invalid("at least one root is required")
	}
	if s.Region == "" {
		s.Region = blob.DefaultRegion
	}
	if s.CacheBackend == "" {
		s.CacheBackend = cache.BackendSQLite
	}

	roots := make([]string, 0, len(s.Roots))
	for _, root := range s.Roots {
		expanded, err := utils.ExpandPath(root)
		if err != nil {
			return invalid("root %q: %v", root, err)
		}
		if !filepath.IsAbs(expanded) {
			return invalid("root %q must be an absolute path", root)
		}
		roots = append(roots, expanded)
	}
	addr, err := keys.New(roots, s.RelativePaths)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	s.Roots = addr.Roots()
	s.addr = addr

	rules, err := ignore.Compile(s.Ignore)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	s.rules = rules

	if s.Cache != "" {
		cachePath, err := utils.ResolvePath(s.Cache)
		if err != nil {
			return invalid("cache: %v", err)
		}
		s.Cache = cachePath
	}
	if !cache.ValidBackend(s.CacheBackend) {
		return invalid("unknown cache_backend %q", s.CacheBackend)
	}

	if s.Endpoint != "" && !utils.IsValidURL(s.Endpoint) {
		return invalid("endpoint %q is not an http(s) URL", s.Endpoint)
	}
	return nil
}

// CacheEnabled reports whether a cache location was configured.
func (s *Settings) CacheEnabled() bool {
	return s.Cache != ""
}

func (s *Settings) Rules() *ignore.RuleSet {
	return s.rules
}

func (s *Settings) Addressing() *keys.Addressing {
	return s.addr
}

func (s *Settings) S3Config() *blob.S3Config {
	return &blob.S3Config{
		BucketName: s.Bucket,
		Region:     s.Region,
		AccessKey:  s.AccessKeyID,
		SecretKey:  s.SecretAccessKey,
		Endpoint:   s.Endpoint,
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSettings, fmt.Sprintf(format, args...))
}
