package pelconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgpassfile"
	"github.com/jackc/pgservicefile"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// PoolSizeLimit bounds MinPoolSize and MaxPoolSize.
const PoolSizeLimit = 1024

// Default pool and timeout settings, used when the connection string leaves
// them out.
const (
	DefaultMaxPoolSize    = 20
	DefaultAcquireTimeout = 15 * time.Second
	DefaultCommandTimeout = 30 * time.Second
)

// DialFunc dials the server. The default observes the context for both
// cancellation and deadline.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Config is the parsed form of a connection string plus programmatic hooks.
// Modifying a Config after it has been used to connect is undefined.
type Config struct {
	Host          string // host name or path to unix socket directory
	Port          uint16
	Database      string
	User          string
	Password      string
	TLSConfig     *tls.Config // nil disables TLS
	SSLRequired   bool        // fail instead of downgrading when the server refuses TLS
	DialFunc      DialFunc
	RuntimeParams map[string]string // forwarded in the startup packet (search_path, application_name, ...)

	MinPoolSize    int
	MaxPoolSize    int
	AcquireTimeout time.Duration // 0 means wait forever
	CommandTimeout time.Duration // 0 means no deadline
	Pooling        bool
	NoResetOnClose bool
	ResetCommand   string

	Encoding     encoding.Encoding // nil means UTF-8
	EncodingName string

	BufferSize int

	OnNotice       func(*Notice)
	OnNotification func(*Notification)
	Logger         Logger
	LogLevel       LogLevel

	connString string
}

// ConnString returns the string this Config was parsed from.
func (c *Config) ConnString() string { return c.connString }

// Copy returns a shallow copy safe to mutate before connecting.
func (c *Config) Copy() *Config {
	cp := *c
	cp.RuntimeParams = make(map[string]string, len(c.RuntimeParams))
	for k, v := range c.RuntimeParams {
		cp.RuntimeParams[k] = v
	}
	return &cp
}

// ParseConfig parses a semicolon-separated connection string of
// case-insensitive `Key=Value` pairs, e.g.
//
//	Host=localhost;Port=5432;Database=app;Username=app;Password=secret;MaxPoolSize=10
//
// Unset keys fall back to the PG* environment variables and libpq-ish
// defaults. A missing password is looked up in the passfile. The Service
// key merges settings from a pg service file before explicit keys apply.
func ParseConfig(connString string) (*Config, error) {
	settings := map[string]string{}

	// Environment defaults, lowest precedence.
	for env, key := range map[string]string{
		"PGHOST":     "host",
		"PGPORT":     "port",
		"PGDATABASE": "database",
		"PGUSER":     "username",
		"PGPASSWORD": "password",
		"PGPASSFILE": "passfile",
		"PGSERVICE":  "service",
		"PGAPPNAME":  "applicationname",
	} {
		if v := os.Getenv(env); v != "" {
			settings[key] = v
		}
	}

	explicit, err := parseKeyValuePairs(connString)
	if err != nil {
		return nil, err
	}

	// A service file sits between the environment and explicit keys.
	serviceName := settings["service"]
	if v, ok := explicit["service"]; ok {
		serviceName = v
	}
	if serviceName != "" {
		if err := mergeServiceSettings(settings, serviceName); err != nil {
			return nil, &parseConfigError{connString: connString, msg: "failed to read service " + serviceName, err: err}
		}
	}
	for k, v := range explicit {
		settings[k] = v
	}

	config := &Config{
		Host:           "localhost",
		Port:           5432,
		MaxPoolSize:    DefaultMaxPoolSize,
		AcquireTimeout: DefaultAcquireTimeout,
		CommandTimeout: DefaultCommandTimeout,
		Pooling:        true,
		ResetCommand:   "DISCARD ALL",
		RuntimeParams:  map[string]string{},
		connString:     connString,
	}

	parseErr := func(key, reason string) error {
		return &parseConfigError{connString: connString, msg: fmt.Sprintf("%s: %s", key, reason)}
	}

	for key, value := range settings {
		switch key {
		case "host", "server":
			config.Host = value
		case "port":
			port, err := strconv.ParseUint(value, 10, 16)
			if err != nil || port == 0 {
				return nil, parseErr("Port", "not a valid port number")
			}
			config.Port = uint16(port)
		case "database":
			config.Database = value
		case "username", "userid", "user":
			config.User = value
		case "password":
			config.Password = value
		case "passfile":
			// handled after the loop
		case "service":
			// handled above
		case "minpoolsize":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return nil, parseErr("MinPoolSize", "not a non-negative integer")
			}
			if n > PoolSizeLimit {
				return nil, parseErr("MinPoolSize", fmt.Sprintf("exceeds the pool size limit of %d", PoolSizeLimit))
			}
			config.MinPoolSize = n
		case "maxpoolsize":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return nil, parseErr("MaxPoolSize", "not a positive integer")
			}
			if n > PoolSizeLimit {
				return nil, parseErr("MaxPoolSize", fmt.Sprintf("exceeds the pool size limit of %d", PoolSizeLimit))
			}
			config.MaxPoolSize = n
		case "timeout":
			secs, err := strconv.Atoi(value)
			if err != nil || secs < 0 {
				return nil, parseErr("Timeout", "not a non-negative number of seconds")
			}
			config.AcquireTimeout = time.Duration(secs) * time.Second
		case "commandtimeout":
			secs, err := strconv.Atoi(value)
			if err != nil || secs < 0 {
				return nil, parseErr("CommandTimeout", "not a non-negative number of seconds")
			}
			config.CommandTimeout = time.Duration(secs) * time.Second
		case "pooling":
			b, err := parseBool(value)
			if err != nil {
				return nil, parseErr("Pooling", "not a boolean")
			}
			config.Pooling = b
		case "noresetonclose":
			b, err := parseBool(value)
			if err != nil {
				return nil, parseErr("NoResetOnClose", "not a boolean")
			}
			config.NoResetOnClose = b
		case "resetcommand":
			config.ResetCommand = value
		case "encoding", "clientencoding":
			enc, err := resolveEncoding(value)
			if err != nil {
				return nil, parseErr("Encoding", err.Error())
			}
			config.Encoding = enc
			config.EncodingName = value
		case "sslmode":
			switch strings.ToLower(value) {
			case "disable":
				config.TLSConfig = nil
			case "prefer":
				config.TLSConfig = &tls.Config{InsecureSkipVerify: true}
			case "require":
				config.TLSConfig = &tls.Config{InsecureSkipVerify: true}
				config.SSLRequired = true
			default:
				return nil, parseErr("SslMode", "must be disable, prefer, or require")
			}
		case "searchpath":
			config.RuntimeParams["search_path"] = value
		case "applicationname":
			config.RuntimeParams["application_name"] = value
		case "timezone":
			config.RuntimeParams["TimeZone"] = value
		default:
			return nil, parseErr(key, "unknown connection string key")
		}
	}

	if config.User == "" {
		osUser, err := user.Current()
		if err != nil {
			return nil, &parseConfigError{connString: connString, msg: "no Username and the OS user is unknown", err: err}
		}
		config.User = osUser.Username
	}
	if config.Database == "" {
		config.Database = config.User
	}
	if config.Password == "" {
		config.Password = lookupPassfile(settings["passfile"], config)
	}
	if config.MinPoolSize > config.MaxPoolSize {
		return nil, parseErr("MinPoolSize", fmt.Sprintf("%d exceeds MaxPoolSize %d", config.MinPoolSize, config.MaxPoolSize))
	}

	config.DialFunc = defaultDialFunc
	return config, nil
}

func parseKeyValuePairs(connString string) (map[string]string, error) {
	settings := map[string]string{}
	for _, pair := range strings.Split(connString, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		eq := strings.IndexByte(pair, '=')
		if eq < 1 {
			return nil, &parseConfigError{connString: connString, msg: fmt.Sprintf("%q is not a Key=Value pair", pair)}
		}
		key := strings.ToLower(strings.TrimSpace(pair[:eq]))
		value := strings.TrimSpace(pair[eq+1:])
		if v, ok := strings.CutPrefix(value, "'"); ok {
			value = strings.TrimSuffix(v, "'")
		}
		settings[key] = value
	}
	return settings, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

func resolveEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToUpper(strings.ReplaceAll(name, "-", "")) {
	case "", "UTF8":
		return nil, nil // fast path, no transcoding
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unknown encoding %q", name)
	}
	return enc, nil
}

func mergeServiceSettings(settings map[string]string, serviceName string) error {
	path := os.Getenv("PGSERVICEFILE")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		path = filepath.Join(home, ".pg_service.conf")
	}
	sf, err := pgservicefile.ReadServicefile(path)
	if err != nil {
		return err
	}
	service, err := sf.GetService(serviceName)
	if err != nil {
		return err
	}
	for k, v := range service.Settings {
		switch k {
		case "host":
			settings["host"] = v
		case "port":
			settings["port"] = v
		case "dbname":
			settings["database"] = v
		case "user":
			settings["username"] = v
		case "password":
			settings["password"] = v
		}
	}
	return nil
}

func lookupPassfile(path string, config *Config) string {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		path = filepath.Join(home, ".pgpass")
	}
	passfile, err := pgpassfile.ReadPassfile(path)
	if err != nil {
		return ""
	}
	return passfile.FindPassword(config.Host, strconv.Itoa(int(config.Port)), config.Database, config.User)
}

// NetworkAddress converts Host and Port into arguments for net.Dial. A Host
// beginning with / selects a unix domain socket.
func (c *Config) NetworkAddress() (network, address string) {
	if strings.HasPrefix(c.Host, "/") {
		network = "unix"
		address = filepath.Join(c.Host, ".s.PGSQL.") + strconv.FormatInt(int64(c.Port), 10)
	} else {
		network = "tcp"
		address = net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
	}
	return network, address
}

func defaultDialFunc(ctx context.Context, network, addr string) (net.Conn, error) {
	d := net.Dialer{KeepAlive: 5 * time.Minute}
	return d.DialContext(ctx, network, addr)
}
