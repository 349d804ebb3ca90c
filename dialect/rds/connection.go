package rds

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/ShadowCat567/amplify-category-api/dialect"
)

// Connection is the parsed form of a database connection string. The
// password is kept out of every generated resource; the lambda reads it
// from the secret store at runtime.
type Connection struct {
	Engine   dialect.DBType
	Host     string
	Port     int
	Database string
	User     string
	password string
}

// Default ports per engine.
const (
	DefaultMySQLPort    = 3306
	DefaultPostgresPort = 5432
)

// ParseConnectionURI parses a MySQL DSN or URL, or a Postgres URL or
// key/value string.
func ParseConnectionURI(engine dialect.DBType, uri string) (*Connection, error) {
	switch engine {
	case dialect.MySQL:
		return parseMySQL(uri)
	case dialect.Postgres:
		return parsePostgres(uri)
	default:
		return nil, fmt.Errorf("rds: %s is not a relational engine", engine)
	}
}

func parseMySQL(uri string) (*Connection, error) {
	dsn := uri
	if strings.HasPrefix(uri, "mysql://") {
		u, err := url.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("rds: parse mysql url: %w", err)
		}
		cfg := mysql.NewConfig()
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
		cfg.Net = "tcp"
		cfg.Addr = u.Host
		cfg.DBName = strings.TrimPrefix(u.Path, "/")
		dsn = cfg.FormatDSN()
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("rds: parse mysql dsn: %w", err)
	}
	c := &Connection{
		Engine:   dialect.MySQL,
		Database: cfg.DBName,
		User:     cfg.User,
		password: cfg.Passwd,
		Port:     DefaultMySQLPort,
	}
	if err := c.setAddr(cfg.Addr); err != nil {
		return nil, err
	}
	return c, nil
}

func parsePostgres(uri string) (*Connection, error) {
	opts := uri
	if strings.HasPrefix(uri, "postgres://") || strings.HasPrefix(uri, "postgresql://") {
		var err error
		if opts, err = pq.ParseURL(uri); err != nil {
			return nil, fmt.Errorf("rds: parse postgres url: %w", err)
		}
	}
	kv, err := parseKeyValues(opts)
	if err != nil {
		return nil, err
	}
	c := &Connection{
		Engine:   dialect.Postgres,
		Host:     kv["host"],
		Database: kv["dbname"],
		User:     kv["user"],
		password: kv["password"],
		Port:     DefaultPostgresPort,
	}
	if p := kv["port"]; p != "" {
		if c.Port, err = strconv.Atoi(p); err != nil {
			return nil, fmt.Errorf("rds: invalid port %q", p)
		}
	}
	if c.Host == "" {
		return nil, fmt.Errorf("rds: postgres connection has no host")
	}
	return c, nil
}

// parseKeyValues reads the k=v and k='quoted v' pairs of a Postgres
// connection string.
func parseKeyValues(s string) (map[string]string, error) {
	out := make(map[string]string)
	r := []rune(s)
	for i := 0; i < len(r); {
		for i < len(r) && r[i] == ' ' {
			i++
		}
		if i == len(r) {
			break
		}
		start := i
		for i < len(r) && r[i] != '=' {
			i++
		}
		if i == len(r) {
			return nil, fmt.Errorf("rds: missing value for %q", string(r[start:]))
		}
		key := strings.TrimSpace(string(r[start:i]))
		i++
		var val strings.Builder
		if i < len(r) && r[i] == '\'' {
			i++
			for ; i < len(r) && r[i] != '\''; i++ {
				if r[i] == '\\' && i+1 < len(r) {
					i++
				}
				val.WriteRune(r[i])
			}
			if i == len(r) {
				return nil, fmt.Errorf("rds: unterminated quote in value of %q", key)
			}
			i++
		} else {
			for ; i < len(r) && r[i] != ' '; i++ {
				val.WriteRune(r[i])
			}
		}
		out[key] = val.String()
	}
	return out, nil
}

func (c *Connection) setAddr(addr string) error {
	if addr == "" {
		return fmt.Errorf("rds: %s connection has no address", c.Engine)
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		c.Host = addr
		return nil
	}
	c.Host = host
	if port != "" {
		if c.Port, err = strconv.Atoi(port); err != nil {
			return fmt.Errorf("rds: invalid port %q", port)
		}
	}
	return nil
}

// HasPassword reports whether the connection string carried a password.
func (c *Connection) HasPassword() bool { return c.password != "" }

// String returns the connection without its password.
func (c *Connection) String() string {
	return fmt.Sprintf("%s://%s@%s:%d/%s", strings.ToLower(string(c.Engine)), c.User, c.Host, c.Port, c.Database)
}

// Secret names, relative to the secret prefix, read by the SQL lambda.
const (
	SecretHost     = "host"
	SecretPort     = "port"
	SecretDatabase = "database"
	SecretUsername = "username"
	SecretPassword = "password"
)

// SecretPaths returns the secret store path of every connection value.
func SecretPaths(prefix string) map[string]string {
	prefix = strings.TrimSuffix(prefix, "/")
	paths := make(map[string]string)
	for _, name := range []string{SecretHost, SecretPort, SecretDatabase, SecretUsername, SecretPassword} {
		paths[name] = prefix + "/" + name
	}
	return paths
}

// SecretValues returns the values to store under SecretPaths, password
// included. The caller writes them to the secret store.
func (c *Connection) SecretValues() map[string]string {
	return map[string]string{
		SecretHost:     c.Host,
		SecretPort:     strconv.Itoa(c.Port),
		SecretDatabase: c.Database,
		SecretUsername: c.User,
		SecretPassword: c.password,
	}
}
