package database

import (
	"cmp"
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/parkwatch/internal/config"
)

// applicationName shows up in pg_stat_activity.
const applicationName = "parkwatch"

// BuildConnString builds a PostgreSQL URL from config. An empty password is
// left out so pgx can fall back to .pgpass.
func BuildConnString(cfg config.DBConfig) string {
	query := url.Values{}
	query.Set("sslmode", cmp.Or(cfg.SSLMode, "prefer"))
	query.Set("application_name", applicationName)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.User(cfg.User),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: query.Encode(),
	}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	return u.String()
}
