package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/listingsync/index"
)

func newViper(t *testing.T, args ...string) *viper.Viper {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	SetupFlags(cmd)
	require.NoError(t, cmd.PersistentFlags().Parse(args))

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	require.NoError(t, v.BindPFlags(cmd.PersistentFlags()))
	return v
}

func TestDefaults(t *testing.T) {
	c, err := Load(newViper(t))
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", c.Redis.Addr)
	assert.Equal(t, 10*time.Minute, c.Cache.TTL)
	assert.Equal(t, 10, c.Cache.AttemptLimit)
	assert.Equal(t, "json", c.Cache.Codec)
	assert.Equal(t, index.Names{"listings": "listings"}, c.Index.Names)
	assert.Equal(t, []string{"http://localhost:9200"}, c.Index.Addresses)
	assert.Equal(t, "listings_queue", c.Queue.List)

	err = c.Validate(true)
	require.ErrorIs(t, err, ErrMissing, "no postgres dsn")
	assert.NoError(t, c.Validate(false))
}

func TestEnvAndFlags(t *testing.T) {
	t.Setenv("LISTINGSYNC_POSTGRES_DSN", "postgres://db/listings")
	t.Setenv("LISTINGSYNC_CACHE_TTL", "90s")
	t.Setenv("LISTINGSYNC_INDEX_NAMES", "listings=listings-v2, offers=offers-v1")

	v := newViper(t, "--cache-codec=msgpack", "--index-addresses=http://a:9200,http://b:9200")
	c, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "postgres://db/listings", c.PostgresDSN)
	assert.Equal(t, 90*time.Second, c.Cache.TTL)
	assert.Equal(t, "msgpack", c.Cache.Codec)
	assert.Equal(t, []string{"http://a:9200", "http://b:9200"}, c.Index.Addresses)
	assert.Equal(t, index.Names{"listings": "listings-v2", "offers": "offers-v1"}, c.Index.Names)
	assert.NoError(t, c.Validate(true))
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listingsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redis-addr: cache:6380\nlog-backend: zerolog\n"), 0o600))

	c, err := Load(newViper(t, "--config="+path))
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", c.Redis.Addr)
	assert.Equal(t, "zerolog", c.LogBackend)
}

func TestValidateCollectsEverything(t *testing.T) {
	c, err := Load(newViper(t,
		"--redis-addr=",
		"--cache-backend=memcached",
		"--index-names=offers=offers",
		"--log-backend=glog",
	))
	require.NoError(t, err)

	err = c.Validate(false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissing))
	assert.True(t, errors.Is(err, ErrInvalid))
	for _, name := range []string{"redis-addr", "cache-backend", "index-names", "log-backend"} {
		assert.Contains(t, err.Error(), name)
	}
}

func TestParseNames(t *testing.T) {
	_, err := ParseNames("listings")
	assert.Error(t, err)
	_, err = ParseNames("=x")
	assert.Error(t, err)

	n, err := ParseNames("")
	require.NoError(t, err)
	assert.Empty(t, n)
}

func TestWrapString(t *testing.T) {
	out := WrapString(strings.Repeat("word ", 30))
	for _, line := range strings.Split(out, "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
}
