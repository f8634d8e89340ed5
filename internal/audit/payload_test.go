package audit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rishav/hft-node/internal/model"
)

func TestRiskEvidence_RoundTrip(t *testing.T) {
	e := RiskEvidence{
		Order:     model.Order{Version: model.CurrentVersion, OrderID: 42, InstrumentID: 7, Side: model.SideBuy, Price: 100.5, Quantity: 10, Timestamp: 99, Sequence: 1},
		CheckID:   "MaxPosition",
		Actual:    510,
		Threshold: 500,
	}
	b, err := e.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, riskEvidenceSize)

	var got RiskEvidence
	require.NoError(t, got.UnmarshalBinary(b))
	require.Equal(t, e.Order, got.Order)
	require.Equal(t, e.CheckID, got.CheckID)
	require.Equal(t, e.Actual, got.Actual)
	require.Equal(t, e.Threshold, got.Threshold)
}

func TestRiskEvidence_CheckIDTruncatedBeyondWidth(t *testing.T) {
	e := RiskEvidence{CheckID: "ThisCheckIDNameIsDeliberatelyWayTooLongForTheField"}
	b, err := e.MarshalBinary()
	require.NoError(t, err)

	var got RiskEvidence
	require.NoError(t, got.UnmarshalBinary(b))
	require.Len(t, got.CheckID, checkIDWidth)
}

func TestSystemEvent_RoundTrip(t *testing.T) {
	e := SystemEvent{Message: "kill switch disengaged by operator"}
	b, err := e.MarshalBinary()
	require.NoError(t, err)

	var got SystemEvent
	require.NoError(t, got.UnmarshalBinary(b))
	require.Equal(t, e.Message, got.Message)
}
