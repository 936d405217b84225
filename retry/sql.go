package retry

import (
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQL server error numbers that abort a transaction without it being at
// fault: re-running it usually succeeds.
const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// SQLTransient reports whether err is a lock conflict that a re-run of the
// whole transaction may resolve: a MySQL deadlock or lock wait timeout, or a
// busy/locked sqlite database.
func SQLTransient(err error) bool {
	if err == nil {
		return false
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDeadlock || me.Number == mysqlLockWaitTimeout
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// TxDefault retries transactions up to three times on [SQLTransient] errors.
func TxDefault() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   20 * time.Millisecond,
		MaxDelay:    250 * time.Millisecond,
		Jitter:      0.2,
		Retryable:   SQLTransient,
	}
}
