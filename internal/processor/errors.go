package processor

import "github.com/pkg/errors"

// errSlotsNotYetWritten is returned by waitSlotsFetched while the epoch's
// Slot rows at or above the indexing floor have not all been written yet
// (32 rows unless the epoch starts below the floor). It is retried like any
// other step error; if it is still unsatisfied after MaxStepRetries the
// epoch fails and the next orchestrator pass re-selects it.
var errSlotsNotYetWritten = errors.New("processor: epoch slots not yet fully written")
