package worker

import (
	"context"

	"teamshots/internal/infra"
	"teamshots/internal/workflow"
)

// ProgressWriter persists the current step of a generation.
type ProgressWriter interface {
	MarkProgress(ctx context.Context, id, progress string, attempts int) error
}

// ProgressObserver mirrors non-terminal controller transitions onto the
// generation record. Terminal states are written by the worker itself.
func ProgressObserver(w ProgressWriter, logger *infra.Logger) workflow.Observer {
	log := infra.OrNop(logger)
	return workflow.ObserverFunc(func(ctx context.Context, t workflow.Transition) {
		if t.To.Terminal() {
			return
		}
		if err := w.MarkProgress(ctx, t.GenerationID, string(t.To), t.Attempt); err != nil {
			log.Warn().Err(err).Str("generation_id", t.GenerationID).Str("state", string(t.To)).Msg("worker: progress update failed")
		}
	})
}
