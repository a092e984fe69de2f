package engine

import (
	"github.com/rotisserie/eris"

	"github.com/lattice-ip/priorart-engine/internal/model"
)

// Event names an orchestration outcome that drives the run state machine.
type Event string

const (
	// EventDispatch fires once the variant rows exist and workers start.
	EventDispatch Event = "dispatch"
	// EventVariantsSettled fires when every dispatched variant finished.
	EventVariantsSettled Event = "variants_settled"
	// EventMergeDone fires after hits are merged and scored.
	EventMergeDone Event = "merge_done"
	// EventShortlistDone fires after the unified rows are persisted.
	EventShortlistDone Event = "shortlist_done"
	// EventFinish and EventFinishWarn end a run that got through every
	// phase, with or without recorded degradations.
	EventFinish     Event = "finish"
	EventFinishWarn Event = "finish_warn"
	// EventQuota ends the run on provider credit exhaustion.
	EventQuota Event = "quota"
	// EventFail ends the run on an invariant violation or unrecoverable error.
	EventFail Event = "fail"
)

// nextStatus is the pure transition function for the run lifecycle.
// Quota exhaustion and failure are reachable from every non-terminal
// state; all other events advance along the single forward chain.
// Terminal states admit nothing.
func nextStatus(current model.RunStatus, ev Event) (model.RunStatus, error) {
	if current.IsTerminal() {
		return "", eris.Errorf("engine: run already terminal in %s", current)
	}

	switch ev {
	case EventQuota:
		return model.RunStatusCreditExhausted, nil
	case EventFail:
		return model.RunStatusFailed, nil
	}

	switch {
	case current == model.RunStatusPending && ev == EventDispatch:
		return model.RunStatusRunningVariants, nil
	case current == model.RunStatusRunningVariants && ev == EventVariantsSettled:
		return model.RunStatusMerging, nil
	case current == model.RunStatusMerging && ev == EventMergeDone:
		return model.RunStatusShortlisting, nil
	case current == model.RunStatusShortlisting && ev == EventShortlistDone:
		return model.RunStatusFetchingDetails, nil
	case current == model.RunStatusFetchingDetails && ev == EventFinish:
		return model.RunStatusCompleted, nil
	case current == model.RunStatusFetchingDetails && ev == EventFinishWarn:
		return model.RunStatusCompletedWarn, nil
	}

	return "", eris.Errorf("engine: no transition from %s on %s", current, ev)
}
