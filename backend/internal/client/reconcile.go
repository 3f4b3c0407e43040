package client

import (
	"encoding/json"
	"log"
	"sync"

	"sheetServer/backend/internal/sheet"
)

// Reconciler applies inbound sheet state to the view. It classifies each
// update against the last fingerprint it has seen: breaking changes
// rebuild the whole view, small changes patch control values in place
// while leaving the focused control alone.
type Reconciler struct {
	mu     sync.Mutex
	view   View
	gmHash string
}

func NewReconciler(view View) *Reconciler {
	return &Reconciler{view: view}
}

// ApplySheetData handles the join response: always a full rebuild.
func (r *Reconciler) ApplySheetData(setByGM, setByPlayer json.RawMessage, gmHash string) {
	r.mu.Lock()
	r.gmHash = gmHash
	r.mu.Unlock()
	r.view.Rebuild(setByGM, setByPlayer)
}

// ApplyUpdate handles a broadcast update from the room (possibly the echo
// of this client's own update).
func (r *Reconciler) ApplyUpdate(setByGM, setByPlayer json.RawMessage, gmHash string) {
	r.mu.Lock()
	verdict := sheet.Classify(r.gmHash, gmHash)
	r.gmHash = gmHash
	r.mu.Unlock()

	if verdict == sheet.ChangeBreaking {
		r.view.Rebuild(setByGM, setByPlayer)
		return
	}

	values, err := flattenValues(setByPlayer)
	if err != nil {
		log.Printf("reconcile: unparsable player portion, dropped: %v", err)
		return
	}
	if len(values) != r.view.ControlCount() {
		// repeatable sub-items were added or removed, which a small change
		// cannot express; patching would leave stale controls behind
		r.view.Rebuild(setByGM, setByPlayer)
		return
	}
	focused := r.view.FocusedKey()
	for key, value := range values {
		if key == focused {
			// the local in-progress edit wins; the next broadcast cycle
			// settles this control once the user moves on
			continue
		}
		if !r.view.SetValue(key, value) {
			// a control the update expects is missing, so the layout does
			// not match what "small" implies; rebuild rather than patch a
			// mismatched view
			r.view.Rebuild(setByGM, setByPlayer)
			return
		}
	}
}

// noteLocalHash records the fingerprint of a locally sent update so the
// echoed broadcast classifies as small.
func (r *Reconciler) noteLocalHash(gmHash string) {
	r.mu.Lock()
	r.gmHash = gmHash
	r.mu.Unlock()
}

// KnownHash reports the last fingerprint seen, for diagnostics.
func (r *Reconciler) KnownHash() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gmHash
}
