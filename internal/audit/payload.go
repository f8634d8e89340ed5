package audit

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/rishav/hft-node/internal/model"
)

// checkIDWidth is the fixed width reserved for a risk.CheckID string in
// a RiskEvidence payload. Check IDs are short, fixed, machine-generated
// identifiers (e.g. "MaxPosition"); spec §4.7 requires fixed-layout
// payloads, so longer names are truncated and shorter ones
// zero-padded.
const checkIDWidth = 24

// RiskEvidence is the payload carried by an OrderReject or
// RiskViolation record: the order that triggered the check, plus the
// check's own evidence (spec §4.4 "Outputs": "an OrderReject audit
// entry with check_id and the evidence values").
type RiskEvidence struct {
	Order     model.Order
	CheckID   string
	Actual    float64
	Threshold float64
}

// riskEvidenceSize is model.OrderSize + checkIDWidth + 8 + 8.
const riskEvidenceSize = model.OrderSize + checkIDWidth + 16

// MarshalBinary packs a RiskEvidence payload.
func (e RiskEvidence) MarshalBinary() ([]byte, error) {
	orderBytes, err := e.Order.MarshalBinary()
	if err != nil {
		return nil, err
	}
	b := make([]byte, riskEvidenceSize)
	copy(b[0:model.OrderSize], orderBytes)
	off := model.OrderSize
	idBytes := []byte(e.CheckID)
	if len(idBytes) > checkIDWidth {
		idBytes = idBytes[:checkIDWidth]
	}
	copy(b[off:off+checkIDWidth], idBytes)
	off += checkIDWidth
	binary.LittleEndian.PutUint64(b[off:off+8], math.Float64bits(e.Actual))
	off += 8
	binary.LittleEndian.PutUint64(b[off:off+8], math.Float64bits(e.Threshold))
	return b, nil
}

// UnmarshalBinary unpacks a RiskEvidence payload.
func (e *RiskEvidence) UnmarshalBinary(b []byte) error {
	if len(b) != riskEvidenceSize {
		return fmt.Errorf("audit: RiskEvidence payload must be %d bytes, got %d", riskEvidenceSize, len(b))
	}
	if err := e.Order.UnmarshalBinary(b[0:model.OrderSize]); err != nil {
		return err
	}
	off := model.OrderSize
	raw := b[off : off+checkIDWidth]
	end := len(raw)
	for end > 0 && raw[end-1] == 0 {
		end--
	}
	e.CheckID = string(raw[:end])
	off += checkIDWidth
	e.Actual = math.Float64frombits(binary.LittleEndian.Uint64(b[off : off+8]))
	off += 8
	e.Threshold = math.Float64frombits(binary.LittleEndian.Uint64(b[off : off+8]))
	return nil
}

// SystemEvent is a free-form, variable-length operational note (process
// start/stop, kill-switch disengage, replay-tamper halt): spec §4.7
// allows type 255 for events that aren't one of the fixed wire
// entities.
type SystemEvent struct {
	Message string
}

// MarshalBinary packs a SystemEvent payload as raw UTF-8 bytes; its
// length is already carried by the enclosing record's payload_len
// field, so no extra framing is needed.
func (e SystemEvent) MarshalBinary() ([]byte, error) {
	return []byte(e.Message), nil
}

// UnmarshalBinary unpacks a SystemEvent payload.
func (e *SystemEvent) UnmarshalBinary(b []byte) error {
	e.Message = string(b)
	return nil
}
