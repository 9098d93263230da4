package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// ensureDSN builds a postgres URL from the PAYINTENTS_DB_HOST/USER/NAME
// family when PAYINTENTS_DB_DSN is unset.
func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	var missing []string
	for env, value := range map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	} {
		if value == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	user := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		user = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}
	dsn := url.URL{
		Scheme: "postgres",
		User:   user,
		Host:   net.JoinHostPort(db.LegacyHost, strconv.Itoa(db.LegacyPort)),
		Path:   db.LegacyName,
	}
	if db.LegacySSLMode != "" {
		dsn.RawQuery = url.Values{"sslmode": {db.LegacySSLMode}}.Encode()
	}
	db.DSN = dsn.String()
	return nil
}
