package sqlstore

import (
	"net/url"
	"strings"
)

// sqliteDefaults are the go-sqlite3 DSN settings the ledger relies on: write
// transactions take the lock up front, waiters queue instead of failing, and
// foreign keys are enforced. Each entry lists the parameter and its aliases.
var sqliteDefaults = []struct {
	names []string
	value string
}{
	{[]string{"_txlock"}, "immediate"},
	{[]string{"_busy_timeout", "_timeout"}, "5000"},
	{[]string{"_foreign_keys", "_fk"}, "1"},
}

// SQLiteDSN adds the settings in sqliteDefaults that dsn does not set itself.
// Values already present are kept.
func SQLiteDSN(dsn string) string {
	base, rawQuery, _ := strings.Cut(dsn, "?")
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		q = url.Values{}
	}

	var add []string
	for _, d := range sqliteDefaults {
		set := false
		for _, name := range d.names {
			if q.Has(name) {
				set = true
				break
			}
		}
		if !set {
			add = append(add, d.names[0]+"="+d.value)
		}
	}
	if len(add) == 0 {
		return dsn
	}

	if rawQuery != "" {
		rawQuery += "&"
	}
	return base + "?" + rawQuery + strings.Join(add, "&")
}
