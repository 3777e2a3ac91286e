package pelconn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigBasic(t *testing.T) {
	config, err := ParseConfig("Host=db.example.com;Port=5433;Database=app;Username=svc;Password=hunter2")
	require.NoError(t, err)

	assert.Equal(t, "db.example.com", config.Host)
	assert.EqualValues(t, 5433, config.Port)
	assert.Equal(t, "app", config.Database)
	assert.Equal(t, "svc", config.User)
	assert.Equal(t, "hunter2", config.Password)
	assert.True(t, config.Pooling)
	assert.Equal(t, DefaultMaxPoolSize, config.MaxPoolSize)
}

func TestParseConfigIsCaseInsensitiveAndTrims(t *testing.T) {
	config, err := ParseConfig(" HOST = h ; username =u; PoOlInG = false ")
	require.NoError(t, err)
	assert.Equal(t, "h", config.Host)
	assert.Equal(t, "u", config.User)
	assert.False(t, config.Pooling)
}

func TestParseConfigPoolAndTimeoutKeys(t *testing.T) {
	config, err := ParseConfig("Host=h;Username=u;MinPoolSize=2;MaxPoolSize=7;Timeout=3;CommandTimeout=9;NoResetOnClose=true")
	require.NoError(t, err)
	assert.Equal(t, 2, config.MinPoolSize)
	assert.Equal(t, 7, config.MaxPoolSize)
	assert.Equal(t, 3*time.Second, config.AcquireTimeout)
	assert.Equal(t, 9*time.Second, config.CommandTimeout)
	assert.True(t, config.NoResetOnClose)
}

func TestParseConfigRuntimeParams(t *testing.T) {
	config, err := ParseConfig("Host=h;Username=u;SearchPath=audit,public;ApplicationName=pelican-test")
	require.NoError(t, err)
	assert.Equal(t, "audit,public", config.RuntimeParams["search_path"])
	assert.Equal(t, "pelican-test", config.RuntimeParams["application_name"])
}

func TestParseConfigMinGreaterThanMaxRejected(t *testing.T) {
	_, err := ParseConfig("Host=h;Username=u;MinPoolSize=9;MaxPoolSize=3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MinPoolSize")
}

func TestParseConfigPoolSizeLimit(t *testing.T) {
	_, err := ParseConfig("Host=h;Username=u;MinPoolSize=1025;MaxPoolSize=1025")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool size limit")

	_, err = ParseConfig("Host=h;Username=u;MaxPoolSize=1025")
	require.Error(t, err)
}

func TestParseConfigUnknownKeyRejected(t *testing.T) {
	_, err := ParseConfig("Host=h;Username=u;Bogus=1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown connection string key")
}

func TestParseConfigBadPort(t *testing.T) {
	_, err := ParseConfig("Host=h;Username=u;Port=banana")
	require.Error(t, err)
}

func TestParseConfigDatabaseDefaultsToUser(t *testing.T) {
	t.Setenv("PGDATABASE", "")
	config, err := ParseConfig("Host=h;Username=svc")
	require.NoError(t, err)
	assert.Equal(t, "svc", config.Database)
}

func TestParseConfigEncoding(t *testing.T) {
	config, err := ParseConfig("Host=h;Username=u;Encoding=UTF8")
	require.NoError(t, err)
	assert.Nil(t, config.Encoding, "UTF-8 is the pass-through fast path")

	config, err = ParseConfig("Host=h;Username=u;Encoding=latin1")
	require.NoError(t, err)
	assert.NotNil(t, config.Encoding)

	_, err = ParseConfig("Host=h;Username=u;Encoding=klingon")
	require.Error(t, err)
}

func TestParseConfigErrorRedactsPassword(t *testing.T) {
	_, err := ParseConfig("Host=h;Username=u;Password=topsecret;Bogus=1")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "topsecret")
}

func TestParseConfigQuotedValue(t *testing.T) {
	config, err := ParseConfig("Host=h;Username=u;Password='sp ace'")
	require.NoError(t, err)
	assert.Equal(t, "sp ace", config.Password)
}

func TestNetworkAddress(t *testing.T) {
	config := &Config{Host: "example.org", Port: 5432}
	network, addr := config.NetworkAddress()
	assert.Equal(t, "tcp", network)
	assert.Equal(t, "example.org:5432", addr)

	config = &Config{Host: "/var/run/postgresql", Port: 5432}
	network, addr = config.NetworkAddress()
	assert.Equal(t, "unix", network)
	assert.Equal(t, "/var/run/postgresql/.s.PGSQL.5432", addr)
}

func TestConnStringPreserved(t *testing.T) {
	cs := "Host=h;Username=u"
	config, err := ParseConfig(cs)
	require.NoError(t, err)
	assert.Equal(t, cs, config.ConnString())
}
