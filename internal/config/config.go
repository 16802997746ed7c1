// Package config reads listingsync settings from flags, the environment
// (prefix LISTINGSYNC_) and .env files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/unkn0wn-root/listingsync/index"
	"github.com/unkn0wn-root/listingsync/listing"
)

const (
	// Wrap is the number of characters to wrap flag help at.
	Wrap int = 50

	EnvPrefix = "listingsync"
)

type Config struct {
	Redis struct {
		Addr     string
		Password string
		DB       int
	}
	Cache struct {
		Backend      string // redis | ristretto | bigcache
		TTL          time.Duration
		Namespace    string
		AttemptLimit int
		Codec        string // json | cbor | msgpack
		MaxDecode    int
	}
	PostgresDSN string
	Index       struct {
		Backend   string // elastic | memory
		Addresses []string
		Username  string
		Password  string
		Names     index.Names
		Refresh   bool
	}
	Queue struct {
		List    string
		Channel string
	}
	Versions    string // off | local | redis
	LogLevel    string
	LogBackend  string // zap | logrus | zerolog | slog
	MetricsAddr string
}

// Init loads .env files and makes viper read matching environment variables.
func Init() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// SetupFlags adds every setting as a persistent flag of cmd.
func SetupFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("config", "", WrapString("Optional config file (yaml, json or toml); flags and environment win over it"))

	f.String("redis-addr", "localhost:6379", WrapString("Address of the redis server holding the cache and the queue"))
	f.String("redis-password", "", WrapString("Password of the redis server"))
	f.Int("redis-db", 0, WrapString("Redis database number"))

	f.String("cache-backend", "redis", WrapString("Where cached listings live (redis, ristretto, bigcache). In-process backends are for single replicas; the queue always needs redis"))
	f.Duration("cache-ttl", 10*time.Minute, WrapString("Lifetime of a cached listing"))
	f.String("cache-namespace", "", WrapString("Prefix of every cache key"))
	f.Int("cache-attempts", 10, WrapString("Retries of a contended cache write before giving up"))
	f.String("cache-codec", "json", WrapString("Encoding of cached and queued listings (json, cbor, msgpack)"))
	f.Int("cache-max-decode", 1<<20, WrapString("Largest cached blob in bytes that will be decoded; 0 disables the check"))

	f.String("postgres-dsn", "", WrapString("DSN of the PostgreSQL system of record"))

	f.String("index-backend", "elastic", WrapString("Search index (elastic, memory). memory keeps documents in process and is for local runs"))
	f.String("index-addresses", "http://localhost:9200", WrapString("Comma-separated Elasticsearch addresses"))
	f.String("index-username", "", WrapString("Elasticsearch user"))
	f.String("index-password", "", WrapString("Elasticsearch password"))
	f.String("index-names", "listings=listings", WrapString("Comma-separated key=index pairs mapping logical index keys to physical index names"))
	f.Bool("index-refresh", false, WrapString("Make every index write visible to search before returning"))

	f.String("queue-list", "listings_queue", WrapString("List that receives every saved listing"))
	f.String("queue-channel", "listings", WrapString("Channel notified of every saved listing"))

	f.String("versions", "off", WrapString("External index versioning of saves (off, local, redis)"))
	f.String("log-level", "info", WrapString("Log level (debug, info, warn, error)"))
	f.String("log-backend", "zap", WrapString("Logging library (zap, logrus, zerolog, slog)"))
	f.String("metrics-addr", "", WrapString("Address to serve prometheus metrics on, e.g. :9090; empty disables"))
}

// BindCommandFlags binds a command's flags to viper.
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return viper.BindPFlags(cmd.InheritedFlags())
}

// Load reads the configuration from v, the global viper when nil.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.GetViper()
	}
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	c := &Config{}
	c.Redis.Addr = v.GetString("redis-addr")
	c.Redis.Password = v.GetString("redis-password")
	c.Redis.DB = v.GetInt("redis-db")

	c.Cache.Backend = v.GetString("cache-backend")
	c.Cache.TTL = v.GetDuration("cache-ttl")
	c.Cache.Namespace = v.GetString("cache-namespace")
	c.Cache.AttemptLimit = v.GetInt("cache-attempts")
	c.Cache.Codec = v.GetString("cache-codec")
	c.Cache.MaxDecode = v.GetInt("cache-max-decode")

	c.PostgresDSN = v.GetString("postgres-dsn")

	c.Index.Backend = v.GetString("index-backend")
	c.Index.Addresses = splitList(v.GetString("index-addresses"))
	c.Index.Username = v.GetString("index-username")
	c.Index.Password = v.GetString("index-password")
	c.Index.Refresh = v.GetBool("index-refresh")
	names, err := ParseNames(v.GetString("index-names"))
	if err != nil {
		return nil, err
	}
	c.Index.Names = names

	c.Queue.List = v.GetString("queue-list")
	c.Queue.Channel = v.GetString("queue-channel")

	c.Versions = v.GetString("versions")
	c.LogLevel = v.GetString("log-level")
	c.LogBackend = v.GetString("log-backend")
	c.MetricsAddr = v.GetString("metrics-addr")
	return c, nil
}

// ParseNames parses "key=index,key2=index2".
func ParseNames(s string) (index.Names, error) {
	names := index.Names{}
	for _, pair := range splitList(s) {
		k, v, ok := strings.Cut(pair, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("index names: malformed pair %q, want key=index", pair)
		}
		names[k] = v
	}
	return names, nil
}

var (
	ErrMissing = errors.New("config: required setting missing")
	ErrInvalid = errors.New("config: invalid setting")
)

// Validate checks the settings a running service cannot do without.
// needDB is false for commands that never touch the database.
func (c *Config) Validate(needDB bool) error {
	var errs []error
	missing := func(name string) { errs = append(errs, fmt.Errorf("%w: %s", ErrMissing, name)) }
	invalid := func(name, val string) { errs = append(errs, fmt.Errorf("%w: %s=%q", ErrInvalid, name, val)) }

	if c.Redis.Addr == "" {
		missing("redis-addr")
	}
	switch c.Cache.Backend {
	case "redis", "ristretto", "bigcache":
	default:
		invalid("cache-backend", c.Cache.Backend)
	}
	switch c.Cache.Codec {
	case "", "json", "cbor", "msgpack":
	default:
		invalid("cache-codec", c.Cache.Codec)
	}
	if c.Cache.TTL < 0 {
		invalid("cache-ttl", c.Cache.TTL.String())
	}
	if needDB && c.PostgresDSN == "" {
		missing("postgres-dsn")
	}
	switch c.Index.Backend {
	case "elastic":
		if len(c.Index.Addresses) == 0 {
			missing("index-addresses")
		}
	case "memory":
	default:
		invalid("index-backend", c.Index.Backend)
	}
	if _, err := c.Index.Names.Resolve(listing.IndexKey); err != nil {
		errs = append(errs, fmt.Errorf("%w: index-names: %w", ErrMissing, err))
	}
	switch c.Versions {
	case "", "off", "local", "redis":
	default:
		invalid("versions", c.Versions)
	}
	switch c.LogBackend {
	case "zap", "logrus", "zerolog", "slog":
	default:
		invalid("log-backend", c.LogBackend)
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// WrapString wraps text at Wrap characters.
func WrapString(text string) string {
	var lines []string
	var line strings.Builder
	width := 0

	for _, word := range strings.Fields(text) {
		if width > 0 && width+1+len(word) > Wrap {
			lines = append(lines, line.String())
			line.Reset()
			width = 0
		}
		if width > 0 {
			line.WriteString(" ")
			width++
		}
		line.WriteString(word)
		width += len(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}
