package audit

import (
	"fmt"

	"go.uber.org/zap"
)

// RecoverPanic logs and audits a value recovered from a stage's
// per-item processing step, converting it into a SystemEvent record
// instead of letting it crash the process (SPEC_FULL.md's error
// handling section, grounded on the teacher's
// disruptor.EventProcessor.processRequest, which recovers around a
// single request instead of around the whole processor loop so one bad
// request doesn't take the processor down).
//
// Call from a deferred func that has already captured recover()'s
// result:
//
//	defer func() {
//		if r := recover(); r != nil {
//			audit.RecoverPanic(aw, log, "strategy", r)
//		}
//	}()
func RecoverPanic(aw *Writer, log *zap.Logger, stage string, r interface{}) {
	if log != nil {
		log.Error("recovered from panic in stage processing", zap.String("stage", stage), zap.Any("panic", r))
	}
	if aw == nil {
		return
	}
	msg := fmt.Sprintf("panic recovered in %s: %v", stage, r)
	if err := aw.Write(TypeSystemEvent, []byte(msg)); err != nil && log != nil {
		log.Warn("failed to audit recovered panic", zap.Error(err))
	}
}
