// Package config loads hybridcache settings from the environment and builds
// the component graph from them.
//
// Every variable lives under the HYBRIDCACHE_ prefix, nested by section:
//
//	HYBRIDCACHE_NAMESPACE=app:prod
//	HYBRIDCACHE_REMOTE_TTL=30m
//	HYBRIDCACHE_REDIS_MODE=sentinel
//	HYBRIDCACHE_REDIS_ADDRS=10.0.0.1:26379,10.0.0.2:26379
//	HYBRIDCACHE_REDIS_MASTER_NAME=mymaster
//	HYBRIDCACHE_LOCK_ADDRS=10.0.1.1:6379,10.0.1.2:6379,10.0.1.3:6379
//	HYBRIDCACHE_BLOOM_ENABLED=true
//
// A .env file in the working directory is read first when present; real
// environment variables win over it. LoadFile adds a YAML file on top, with
// the same sections in snake_case (local_ttl, redis.master_name, ...).
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const Prefix = "HYBRIDCACHE"

// Redis deployment modes.
const (
	ModeSingle   = "single"
	ModeSentinel = "sentinel"
	ModeCluster  = "cluster"
)

// Value codecs.
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
	CodecCBOR    = "cbor"
)

// Local tier implementations.
const (
	LocalRistretto = "ristretto"
	LocalBigcache  = "bigcache"
)

type Config struct {
	Enabled          bool          `default:"true" yaml:"enabled"`
	Namespace        string        `yaml:"namespace"`
	HashKeys         bool          `split_words:"true" yaml:"hash_keys"`
	LocalTTL         time.Duration `split_words:"true" default:"5m" yaml:"local_ttl"`
	RemoteTTL        time.Duration `split_words:"true" default:"30m" yaml:"remote_ttl"`
	NegativeTTL      time.Duration `split_words:"true" default:"1m" yaml:"negative_ttl"`
	NegativeCaching  bool          `split_words:"true" default:"true" yaml:"negative_caching"`
	SlidingRemoteTTL bool          `split_words:"true" yaml:"sliding_remote_ttl"`

	Codec CodecConfig `yaml:"codec"`
	Local LocalConfig `yaml:"local"`
	Redis RedisConfig `yaml:"redis"`
	Lock  LockConfig  `yaml:"lock"`
	Bloom BloomConfig `yaml:"bloom"`
	Sync  SyncConfig  `yaml:"sync"`
}

type CodecConfig struct {
	Name string `default:"json" yaml:"name"`
	// MaxDecodeBytes and MaxEncodeBytes wrap the codec in a size limit; 0 disables.
	MaxDecodeBytes int  `split_words:"true" yaml:"max_decode_bytes"`
	MaxEncodeBytes int  `split_words:"true" yaml:"max_encode_bytes"`
	JSONTags       bool `split_words:"true" yaml:"json_tags"` // msgpack only
}

type LocalConfig struct {
	Enabled  bool   `default:"true" yaml:"enabled"`
	Provider string `default:"ristretto" yaml:"provider"`

	// ristretto
	NumCounters int64 `split_words:"true" default:"1000000" yaml:"num_counters"`
	MaxCost     int64 `split_words:"true" default:"268435456" yaml:"max_cost"`
	BufferItems int64 `split_words:"true" default:"64" yaml:"buffer_items"`
	WaitOnSet   bool  `split_words:"true" yaml:"wait_on_set"`
	Metrics     bool  `yaml:"metrics"`

	// bigcache
	LifeWindow         time.Duration `split_words:"true" default:"5m" yaml:"life_window"`
	Shards             int           `default:"1024" yaml:"shards"`
	HardMaxCacheSizeMB int           `split_words:"true" yaml:"hard_max_cache_size_mb"`
}

type RedisConfig struct {
	Enabled      bool          `default:"true" yaml:"enabled"`
	Mode         string        `default:"single" yaml:"mode"`
	Addrs        []string      `default:"localhost:6379" yaml:"addrs"`
	MasterName   string        `split_words:"true" yaml:"master_name"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `split_words:"true" yaml:"pool_size"`
	DialTimeout  time.Duration `split_words:"true" default:"5s" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `split_words:"true" default:"3s" yaml:"read_timeout"`
	WriteTimeout time.Duration `split_words:"true" default:"3s" yaml:"write_timeout"`
}

type LockConfig struct {
	Enabled bool          `default:"true" yaml:"enabled"`
	TTL     time.Duration `default:"10s" yaml:"ttl"`
	// Addrs lists independent single-node endpoints for the quorum lock.
	// Empty means lock on the main Redis deployment alone.
	Addrs             []string      `yaml:"addrs"`
	RetryCount        int           `split_words:"true" default:"3" yaml:"retry_count"`
	RetryDelay        time.Duration `split_words:"true" default:"200ms" yaml:"retry_delay"`
	DriftFactor       float64       `split_words:"true" default:"0.01" yaml:"drift_factor"`
	FailOnUnavailable bool          `split_words:"true" yaml:"fail_on_unavailable"`
}

type BloomConfig struct {
	Enabled           bool    `yaml:"enabled"`
	InProcess         bool    `split_words:"true" yaml:"in_process"`
	ExpectedElements  int64   `split_words:"true" default:"1000000" yaml:"expected_elements"`
	FalsePositiveRate float64 `split_words:"true" default:"0.0001" yaml:"false_positive_rate"`
	KeyPrefix         string  `split_words:"true" default:"bloomfilter" yaml:"key_prefix"`
}

type SyncConfig struct {
	Enabled        bool          `default:"true" yaml:"enabled"`
	Channel        string        `default:"hybridcache:sync" yaml:"channel"`
	Workers        int           `default:"1" yaml:"workers"`
	QueueSize      int           `split_words:"true" default:"1024" yaml:"queue_size"`
	PublishTimeout time.Duration `split_words:"true" default:"2s" yaml:"publish_timeout"`
	StaleAfter     time.Duration `split_words:"true" default:"60s" yaml:"stale_after"`
}

// Load reads envFiles (or ./.env when none are given and it exists) into the
// process environment, then decodes HYBRIDCACHE_* variables and validates.
func Load(envFiles ...string) (*Config, error) {
	cfg, err := fromEnv(envFiles)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile is Load followed by a YAML overlay from path. Keys present in the
// file win over the environment; absent keys keep their env or default value.
func LoadFile(path string, envFiles ...string) (*Config, error) {
	cfg, err := fromEnv(envFiles)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv(envFiles []string) (*Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("config: env file: %w", err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.LocalTTL <= 0 || c.RemoteTTL <= 0 || c.NegativeTTL <= 0 {
		errs = append(errs, errors.New("LOCAL_TTL, REMOTE_TTL and NEGATIVE_TTL must be > 0"))
	}
	if !c.Local.Enabled && !c.Redis.Enabled {
		errs = append(errs, errors.New("at least one of LOCAL_ENABLED and REDIS_ENABLED must be true"))
	}
	errs = append(errs, c.Codec.validate(), c.Local.validate(), c.Redis.validate())
	if c.Redis.Enabled {
		errs = append(errs, c.Lock.validate(), c.Bloom.validate(), c.Sync.validate())
	} else if c.Bloom.Enabled && !c.Bloom.InProcess {
		errs = append(errs, errors.New("BLOOM_ENABLED needs REDIS_ENABLED or BLOOM_IN_PROCESS"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c *CodecConfig) validate() error {
	switch c.Name {
	case CodecJSON, CodecMsgpack, CodecCBOR:
	default:
		return fmt.Errorf("CODEC_NAME must be json, msgpack or cbor, got %q", c.Name)
	}
	if c.MaxDecodeBytes < 0 || c.MaxEncodeBytes < 0 {
		return errors.New("CODEC_MAX_DECODE_BYTES and CODEC_MAX_ENCODE_BYTES must be >= 0")
	}
	return nil
}

func (l *LocalConfig) validate() error {
	if !l.Enabled {
		return nil
	}
	switch l.Provider {
	case LocalRistretto:
		if l.NumCounters <= 0 || l.MaxCost <= 0 || l.BufferItems <= 0 {
			return errors.New("LOCAL_NUM_COUNTERS, LOCAL_MAX_COST and LOCAL_BUFFER_ITEMS must be > 0")
		}
	case LocalBigcache:
		if l.LifeWindow <= 0 {
			return errors.New("LOCAL_LIFE_WINDOW must be > 0")
		}
		if l.Shards <= 0 || l.Shards&(l.Shards-1) != 0 {
			return fmt.Errorf("LOCAL_SHARDS must be a power of two, got %d", l.Shards)
		}
	default:
		return fmt.Errorf("LOCAL_PROVIDER must be %q or %q, got %q", LocalRistretto, LocalBigcache, l.Provider)
	}
	return nil
}

func (r *RedisConfig) validate() error {
	if !r.Enabled {
		return nil
	}
	if len(r.Addrs) == 0 {
		return errors.New("REDIS_ADDRS cannot be empty")
	}
	switch r.Mode {
	case ModeSingle:
		if len(r.Addrs) != 1 {
			return fmt.Errorf("REDIS_MODE=single takes one address, got %d", len(r.Addrs))
		}
	case ModeSentinel:
		if r.MasterName == "" {
			return errors.New("REDIS_MODE=sentinel requires REDIS_MASTER_NAME")
		}
	case ModeCluster:
	default:
		return fmt.Errorf("REDIS_MODE must be single, sentinel or cluster, got %q", r.Mode)
	}
	if r.DB < 0 {
		return errors.New("REDIS_DB must be >= 0")
	}
	return nil
}

func (l *LockConfig) validate() error {
	if !l.Enabled {
		return nil
	}
	if l.TTL <= 0 {
		return errors.New("LOCK_TTL must be > 0")
	}
	if l.DriftFactor < 0 || l.DriftFactor >= 1 {
		return fmt.Errorf("LOCK_DRIFT_FACTOR must be in [0,1), got %v", l.DriftFactor)
	}
	return nil
}

func (b *BloomConfig) validate() error {
	if !b.Enabled {
		return nil
	}
	if b.ExpectedElements <= 0 {
		return errors.New("BLOOM_EXPECTED_ELEMENTS must be > 0")
	}
	if !(b.FalsePositiveRate > 0 && b.FalsePositiveRate < 1) {
		return fmt.Errorf("BLOOM_FALSE_POSITIVE_RATE must be in (0,1), got %v", b.FalsePositiveRate)
	}
	return nil
}

func (s *SyncConfig) validate() error {
	if !s.Enabled {
		return nil
	}
	if s.Channel == "" {
		return errors.New("SYNC_CHANNEL cannot be empty")
	}
	return nil
}
