// Package repository implements SQLite data access for inventory, stock
// movements, requisitions, purchase requests and procurement logs.
//
// Every method that takes a *sqlx.Tx runs on that transaction when it is
// non-nil and on the pool otherwise. Callers inside a write transaction must
// pass it: the pool holds a single connection, and the transaction owns it.
package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/storekeeper/storekeeper/internal/models"
	"github.com/storekeeper/storekeeper/internal/util"
)

func execer(db *sqlx.DB, tx *sqlx.Tx) sqlx.ExtContext {
	if tx != nil {
		return tx
	}
	return db
}

// where accumulates AND-ed conditions and their bind arguments.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.conds, " AND ")
}

// dateRange applies a range on a date or timestamp column. Dates are stored
// as 2006-01-02 and timestamps start with the date, so comparing against the
// day bounds works for both.
func (w *where) dateRange(column string, r models.DateRange) {
	if r.From != nil {
		w.add(column+" >= ?", util.FormatDate(*r.From))
	}
	if r.To != nil {
		w.add(column+" < ?", util.FormatDate(r.To.AddDate(0, 0, 1)))
	}
}

func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableTimestamp(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: util.FormatTimestamp(*t), Valid: true}
}

func nullableDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: util.FormatDate(*t), Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timestamp(s string) (time.Time, error) {
	t, err := util.ParseTimestamp(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func timestampPtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := timestamp(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func datePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := util.ParseDate(ns.String)
	if err != nil {
		return nil, fmt.Errorf("parsing date %q: %w", ns.String, err)
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func pageOf(page models.Pagination, total int) (int, int) {
	return page.CurrentPage(), page.TotalPages(total)
}
