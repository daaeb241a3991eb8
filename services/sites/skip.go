package sites

import (
	"time"

	"quasarr/internal/store"
)

// Two small per-site caches cut avoidable round trips: skip_login records
// sites whose read endpoints answer without a session, skip_flaresolverr
// records sites reachable without the challenge solver. Both are cleared the
// moment the shortcut stops working.
const (
	skipLoginTable  = "skip_login"
	skipSolverTable = "skip_flaresolverr"
)

func skipMarked(db *store.DB, table, site string) bool {
	_, ok := db.Retrieve(table, site)
	return ok
}

func markSkip(db *store.DB, table, site string) {
	_ = db.Store(table, site, time.Now().UTC().Format(time.RFC3339))
}

func clearSkip(db *store.DB, table, site string) {
	_ = db.Delete(table, site)
}

func SkipLogin(db *store.DB, site string) bool  { return skipMarked(db, skipLoginTable, site) }
func MarkSkipLogin(db *store.DB, site string)   { markSkip(db, skipLoginTable, site) }
func ClearSkipLogin(db *store.DB, site string)  { clearSkip(db, skipLoginTable, site) }
func SkipSolver(db *store.DB, site string) bool { return skipMarked(db, skipSolverTable, site) }
func MarkSkipSolver(db *store.DB, site string)  { markSkip(db, skipSolverTable, site) }
func ClearSkipSolver(db *store.DB, site string) { clearSkip(db, skipSolverTable, site) }
