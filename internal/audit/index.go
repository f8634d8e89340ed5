// Sidecar forensic index: an optional, rebuildable accelerator over the
// audit log, backed by modernc.org/sqlite (pure Go, no cgo — the same
// driver choice the examples corpus favors for embedded, cgo-free SQL
// storage). Grounded: the spec's own words pin this down precisely
// (§4.7 "a sidecar index is optional; a linear scan must always work as
// a fallback"). QueryByOrderID in replay.go is that fallback; Index is
// the accelerator built on top of it.
package audit

import (
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"github.com/rishav/hft-node/internal/model"
)

// Index is a rebuildable SQLite index of (order_id, file_offset,
// record_type) over an audit log, making QueryByOrderID O(log n)
// instead of a linear scan once built.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if absent) a SQLite index database at
// dbPath. The index is empty until Rebuild is called; it is never the
// source of truth, only an accelerator over the append-only log.
func OpenIndex(dbPath string) (*Index, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("audit: open index %s: %w", dbPath, err)
	}
	schema := `
CREATE TABLE IF NOT EXISTS audit_entries (
	order_id    INTEGER NOT NULL,
	file_offset INTEGER NOT NULL,
	record_type INTEGER NOT NULL,
	timestamp   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_order_id ON audit_entries(order_id);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Rebuild truncates and repopulates the index from the on-disk audit
// log at logPath, signed with key. It never trusts its own prior
// contents: a corrupted or stale index is always safe to drop and
// rebuild from the log, which remains authoritative.
func (idx *Index) Rebuild(logPath string, key []byte) (int, error) {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return 0, err
	}

	tx, err := idx.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("audit: begin index rebuild: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM audit_entries`); err != nil {
		return 0, fmt.Errorf("audit: clear index: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO audit_entries (order_id, file_offset, record_type, timestamp) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("audit: prepare index insert: %w", err)
	}
	defer stmt.Close()

	off := 0
	inserted := 0
	for off < len(data) {
		rec, n, decErr := Decode(data[off:], key)
		if decErr != nil {
			if decErr == ErrTruncated {
				break
			}
			return inserted, decErr
		}
		if orderID, ok, idErr := recordOrderIDValue(rec); idErr != nil {
			return inserted, idErr
		} else if ok {
			if _, err := stmt.Exec(orderID, off, int(rec.Type), rec.Timestamp); err != nil {
				return inserted, fmt.Errorf("audit: insert index row: %w", err)
			}
			inserted++
		}
		off += n
	}

	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("audit: commit index rebuild: %w", err)
	}
	return inserted, nil
}

// QueryByOrderID returns the (file_offset, record_type) pairs indexed
// for orderID, in ascending file order. The caller seeks to each offset
// in the log and decodes directly rather than re-scanning.
func (idx *Index) QueryByOrderID(orderID int64) ([]IndexEntry, error) {
	rows, err := idx.db.Query(
		`SELECT file_offset, record_type, timestamp FROM audit_entries WHERE order_id = ? ORDER BY file_offset ASC`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: query index: %w", err)
	}
	defer rows.Close()

	var out []IndexEntry
	for rows.Next() {
		var e IndexEntry
		var recType int
		if err := rows.Scan(&e.FileOffset, &recType, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("audit: scan index row: %w", err)
		}
		e.RecordType = RecordType(recType)
		out = append(out, e)
	}
	return out, rows.Err()
}

// IndexEntry is one row of the sidecar index.
type IndexEntry struct {
	FileOffset int64
	RecordType RecordType
	Timestamp  int64
}

func recordOrderIDValue(rec Record) (int64, bool, error) {
	switch rec.Type {
	case TypeOrderSubmit, TypeOrderCancel:
		var o model.Order
		if err := o.UnmarshalBinary(rec.Payload); err != nil {
			return 0, false, err
		}
		return o.OrderID, true, nil
	case TypeOrderReject, TypeRiskViolation:
		var e RiskEvidence
		if err := e.UnmarshalBinary(rec.Payload); err != nil {
			return 0, false, err
		}
		return e.Order.OrderID, true, nil
	case TypeFill:
		var f model.Fill
		if err := f.UnmarshalBinary(rec.Payload); err != nil {
			return 0, false, err
		}
		return f.OrderID, true, nil
	default:
		return 0, false, nil
	}
}
