package sync

// Decide maps (local, remote, state) to exactly one Action. It is a pure,
// total function: no I/O, no side effects, safe to call off the hot path in
// tests with synthetic inputs.
//
// threshold is the mtime-skew window from SyncConfig.ChangeThreshold.
// pushOnly/pullOnly apply the direction gates from §4.5: a demoted PULL or
// DELETE_LOCAL (under push_only) or PUSH/DELETE_REMOTE (under pull_only)
// becomes SKIP rather than being dropped silently, so callers can still see
// and log what was gated.
func Decide(path string, local, remote *PathFingerprint, state *StateEntry, threshold float64, pushOnly, pullOnly bool) Action {
	a := decide(path, local, remote, state, threshold)
	if pushOnly && (a.Kind == ActionPull || a.Kind == ActionDeleteLocal) {
		a.Kind = ActionSkip
	}
	if pullOnly && (a.Kind == ActionPush || a.Kind == ActionDeleteRemote) {
		a.Kind = ActionSkip
	}
	return a
}

func decide(path string, local, remote *PathFingerprint, state *StateEntry, threshold float64) Action {
	base := Action{Path: path, Local: local, Remote: remote, State: state}

	switch {
	case local == nil && remote == nil:
		base.Kind = ActionSkip
		return base

	case local != nil && remote == nil:
		if state == nil {
			base.Kind = ActionPush
		} else {
			base.Kind = ActionDeleteLocal
		}
		return base

	case local == nil && remote != nil:
		if state == nil {
			base.Kind = ActionPull
		} else {
			base.Kind = ActionDeleteRemote
		}
		return base
	}

	// Both present from here on.
	if state == nil {
		if sameValue(local, remote, threshold) {
			base.Kind = ActionSkip // caller adopts both as synced; see decideAdoption
		} else {
			base.Kind = ActionConflict
		}
		return base
	}

	localChanged := changed(local, state, threshold)
	remoteChanged := changed(remote, state, threshold)

	switch {
	case localChanged && remoteChanged:
		base.Kind = ActionConflict
	case localChanged:
		base.Kind = ActionPush
	case remoteChanged:
		base.Kind = ActionPull
	default:
		base.Kind = ActionSkip
	}
	return base
}

// sameValue reports whether two present fingerprints agree within the
// change-threshold window — used only for the no-prior-state "first sight"
// case, where there is no stored entry to diff against.
func sameValue(a, b *PathFingerprint, threshold float64) bool {
	if a.Size != b.Size {
		return false
	}
	delta := a.MTime - b.MTime
	if delta < 0 {
		delta = -delta
	}
	return delta <= threshold
}

// AdoptsBothAsSynced reports whether a SKIP verdict for a first-sight path
// (both present, no prior StateEntry) should write a new StateEntry rather
// than being a true no-op. The orchestrator checks this after Decide returns
// ActionSkip with State == nil and both sides present.
func AdoptsBothAsSynced(a Action) bool {
	return a.Kind == ActionSkip && a.State == nil && a.Local != nil && a.Remote != nil
}
