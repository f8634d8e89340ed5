package audit

import (
	"fmt"
	"os"

	"github.com/rishav/hft-node/internal/model"
)

// Handler dispatches decoded records to type-specific callbacks during
// replay (spec §4.7 "Replay": "deterministically re-drive the recorded
// sequence of events through the same stage logic"). Any nil callback
// simply skips records of that type.
type Handler struct {
	OnOrderSubmit   func(ts int64, o model.Order) error
	OnOrderReject   func(ts int64, e RiskEvidence) error
	OnOrderCancel   func(ts int64, o model.Order) error
	OnFill          func(ts int64, f model.Fill) error
	OnRiskViolation func(ts int64, e RiskEvidence) error
	OnPnlUpdate     func(ts int64, p model.PositionSnapshot) error
	OnTick          func(ts int64, t model.MarketDataTick) error
	OnSystemEvent   func(ts int64, e SystemEvent) error
}

// Stats summarizes a completed (or halted) replay pass.
type Stats struct {
	RecordsRead   int
	BytesConsumed int64
	Truncated     bool // true if the file ended mid-record (tolerated)
}

// Replay reads the audit log at path from the beginning, verifying
// every record's HMAC with key and dispatching it to h in file order.
// It returns on the first tamper-evident record (ErrTamper, wrapped) —
// replay never proceeds past a record it cannot trust (spec §7: "a
// detected tamper halts replay immediately and is itself an auditable,
// fatal event"). A short final record (a crash mid-write) is tolerated
// and reported via Stats.Truncated rather than treated as an error.
func Replay(path string, key []byte, h Handler) (Stats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Stats{}, fmt.Errorf("audit: read %s: %w", path, err)
	}
	return ReplayBytes(data, key, h)
}

// ReplayBytes runs the same pass as Replay directly over an in-memory
// buffer, useful for tests and for verifying a log still held in a
// write buffer.
func ReplayBytes(data []byte, key []byte, h Handler) (Stats, error) {
	var stats Stats
	off := 0
	for off < len(data) {
		rec, n, err := Decode(data[off:], key)
		if err != nil {
			if err == ErrTruncated {
				stats.Truncated = true
				break
			}
			return stats, fmt.Errorf("audit: record %d at offset %d: %w", stats.RecordsRead, off, err)
		}
		if err := dispatch(rec, h); err != nil {
			return stats, fmt.Errorf("audit: handler for record %d (%s) at offset %d: %w", stats.RecordsRead, rec.Type, off, err)
		}
		off += n
		stats.RecordsRead++
		stats.BytesConsumed = int64(off)
	}
	return stats, nil
}

func dispatch(rec Record, h Handler) error {
	switch rec.Type {
	case TypeOrderSubmit:
		if h.OnOrderSubmit == nil {
			return nil
		}
		var o model.Order
		if err := o.UnmarshalBinary(rec.Payload); err != nil {
			return err
		}
		return h.OnOrderSubmit(rec.Timestamp, o)

	case TypeOrderReject:
		if h.OnOrderReject == nil {
			return nil
		}
		var e RiskEvidence
		if err := e.UnmarshalBinary(rec.Payload); err != nil {
			return err
		}
		return h.OnOrderReject(rec.Timestamp, e)

	case TypeOrderCancel:
		if h.OnOrderCancel == nil {
			return nil
		}
		var o model.Order
		if err := o.UnmarshalBinary(rec.Payload); err != nil {
			return err
		}
		return h.OnOrderCancel(rec.Timestamp, o)

	case TypeFill:
		if h.OnFill == nil {
			return nil
		}
		var f model.Fill
		if err := f.UnmarshalBinary(rec.Payload); err != nil {
			return err
		}
		return h.OnFill(rec.Timestamp, f)

	case TypeRiskViolation:
		if h.OnRiskViolation == nil {
			return nil
		}
		var e RiskEvidence
		if err := e.UnmarshalBinary(rec.Payload); err != nil {
			return err
		}
		return h.OnRiskViolation(rec.Timestamp, e)

	case TypePnlUpdate:
		if h.OnPnlUpdate == nil {
			return nil
		}
		var p model.PositionSnapshot
		if err := p.UnmarshalBinary(rec.Payload); err != nil {
			return err
		}
		return h.OnPnlUpdate(rec.Timestamp, p)

	case TypeTick:
		if h.OnTick == nil {
			return nil
		}
		var t model.MarketDataTick
		if err := t.UnmarshalBinary(rec.Payload); err != nil {
			return err
		}
		return h.OnTick(rec.Timestamp, t)

	case TypeSystemEvent:
		if h.OnSystemEvent == nil {
			return nil
		}
		var e SystemEvent
		if err := e.UnmarshalBinary(rec.Payload); err != nil {
			return err
		}
		return h.OnSystemEvent(rec.Timestamp, e)

	default:
		return fmt.Errorf("audit: unknown record type %d", rec.Type)
	}
}

// QueryByOrderID linear-scans data for every OrderSubmit, OrderReject,
// OrderCancel, RiskViolation, and Fill record referencing orderID, in
// file order. It
// is the fallback forensic path when no Index sidecar exists (spec
// §4.7: "a sidecar index is optional; a linear scan must always work
// as a fallback").
func QueryByOrderID(data []byte, key []byte, orderID int64) ([]Record, error) {
	var out []Record
	off := 0
	for off < len(data) {
		rec, n, err := Decode(data[off:], key)
		if err != nil {
			if err == ErrTruncated {
				break
			}
			return out, err
		}
		if matches, err := recordOrderID(rec, orderID); err != nil {
			return out, err
		} else if matches {
			out = append(out, rec)
		}
		off += n
	}
	return out, nil
}

func recordOrderID(rec Record, orderID int64) (bool, error) {
	switch rec.Type {
	case TypeOrderSubmit, TypeOrderCancel:
		var o model.Order
		if err := o.UnmarshalBinary(rec.Payload); err != nil {
			return false, err
		}
		return o.OrderID == orderID, nil
	case TypeOrderReject, TypeRiskViolation:
		var e RiskEvidence
		if err := e.UnmarshalBinary(rec.Payload); err != nil {
			return false, err
		}
		return e.Order.OrderID == orderID, nil
	case TypeFill:
		var f model.Fill
		if err := f.UnmarshalBinary(rec.Payload); err != nil {
			return false, err
		}
		return f.OrderID == orderID, nil
	default:
		return false, nil
	}
}
