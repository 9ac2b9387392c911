// Package repository is the MySQL implementation of the reconciliation
// store.  Driver errors are translated into the sentinel values of the
// reconcile package so the coordinator never depends on MySQL details:
// a lookup that matches no row becomes reconcile.ErrRecordNotFound and a
// unique index violation (error 1062) becomes reconcile.ErrDuplicateKey.
package repository

import (
    "database/sql"
    "errors"

    "github.com/go-sql-driver/mysql"

    "github.com/iliyamo/venue-booking-payments/internal/reconcile"
)

// errDuplicateEntry is MySQL's ER_DUP_ENTRY.
const errDuplicateEntry = 1062

// translate maps driver errors onto the reconcile sentinels and returns
// every other error unchanged.
func translate(err error) error {
    if err == nil {
        return nil
    }
    if errors.Is(err, sql.ErrNoRows) {
        return reconcile.ErrRecordNotFound
    }
    var me *mysql.MySQLError
    if errors.As(err, &me) && me.Number == errDuplicateEntry {
        return reconcile.ErrDuplicateKey
    }
    return err
}
