package history

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"
)

// DriverName is the SQLite driver with the REGEXP function registered.
const DriverName = "sqlite3_handover_verify"

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc("regexp", sqliteRegexp, true); err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "already exists") {
					return nil
				}
				return fmt.Errorf("register regexp SQL function: %w", err)
			}
			return nil
		},
	})
}

// maxCachedPatterns bounds the compiled pattern cache; list_runs patterns come
// from clients.
const maxCachedPatterns = 64

var (
	regexpCacheMu sync.Mutex
	regexpCache   = map[string]*regexp.Regexp{}
)

// sqliteRegexp backs "value REGEXP pattern", which SQLite rewrites to regexp(pattern, value).
func sqliteRegexp(pattern, value string) (bool, error) {
	regexpCacheMu.Lock()
	re, ok := regexpCache[pattern]
	if !ok {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			regexpCacheMu.Unlock()
			return false, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		if len(regexpCache) >= maxCachedPatterns {
			clear(regexpCache)
		}
		regexpCache[pattern] = re
	}
	regexpCacheMu.Unlock()
	return re.MatchString(value), nil
}
