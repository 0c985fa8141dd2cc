// Package diff computes structured deltas between a local canonical record
// and its remote counterpart. It is pure and in-memory; all persistence
// happens in the caller.
package diff

import (
	"reflect"
	"strings"
	"time"

	"github.com/teleregnet/syncbridge/record"
)

// Kind classifies how one field diverged between the two sides.
type Kind string

const (
	KindUnchanged  Kind = "unchanged"
	KindLocalOnly  Kind = "local_only"
	KindRemoteOnly Kind = "remote_only"
	KindConflict   Kind = "conflict"
	KindConverged  Kind = "converged"
)

// Action is the record-level outcome of a diff.
type Action string

const (
	// ActionCreate means the record exists only remotely and should be
	// inserted locally.
	ActionCreate Action = "create"

	// ActionUpdate means the local record needs directed updates,
	// recorded conflicts, or a baseline advance.
	ActionUpdate Action = "update"

	// ActionNone means the two sides already agree.
	ActionNone Action = "none"
)

// FieldChange describes one field-level divergence.
type FieldChange struct {
	Field       string
	Kind        Kind
	LocalValue  any
	RemoteValue any
}

// Result is the structured delta for one record pair.
type Result struct {
	Action Action

	// Updates are remote-only changes the orchestrator applies
	// automatically with no conflict.
	Updates []FieldChange

	// Conflicts are fields changed on both sides to different values.
	Conflicts []FieldChange

	// Converged are fields both sides changed to the same value; no write
	// is needed but the baseline must advance.
	Converged []string
}

// HasWork reports whether the result requires any store activity.
func (r Result) HasWork() bool {
	return r.Action != ActionNone
}

// Diff compares one local record against its matching remote record.
//
// A nil local means the record exists only remotely: the result is
// ActionCreate and the caller inserts it. A local record with no baseline
// (first sync) gets create-merge semantics: remote values seed fields the
// local side has not populated, and populated local fields are never
// overwritten.
//
// With a baseline, each field present on the remote side is classified
// against the last-synced value. Records present only locally are left
// untouched; deletion never propagates through diffing.
func Diff(local *record.SyncRecord, remote record.RemoteRecord) Result {
	if local == nil {
		return Result{Action: ActionCreate}
	}

	if local.Baseline == nil {
		return firstSyncMerge(local, remote)
	}

	res := Result{Action: ActionNone}
	for field, remoteVal := range remote.Fields {
		localVal := local.Fields[field]
		baseVal := local.Baseline[field]

		localChanged := !equalValues(localVal, baseVal)
		remoteChanged := !equalValues(remoteVal, baseVal)

		switch {
		case !localChanged && !remoteChanged:
			// Neither side moved since the last sync.
		case remoteChanged && !localChanged:
			res.Updates = append(res.Updates, FieldChange{
				Field:       field,
				Kind:        KindRemoteOnly,
				LocalValue:  localVal,
				RemoteValue: remoteVal,
			})
		case localChanged && !remoteChanged:
			// Local edit not yet pushed; leave it alone.
		case equalValues(localVal, remoteVal):
			res.Converged = append(res.Converged, field)
		default:
			res.Conflicts = append(res.Conflicts, FieldChange{
				Field:       field,
				Kind:        KindConflict,
				LocalValue:  localVal,
				RemoteValue: remoteVal,
			})
		}
	}

	if len(res.Updates) > 0 || len(res.Conflicts) > 0 || len(res.Converged) > 0 {
		res.Action = ActionUpdate
	}
	return res
}

// firstSyncMerge seeds missing local fields from the remote snapshot without
// clobbering manually curated values. It always reports ActionUpdate: even
// when every populated local field diverges from the remote, the baseline
// must be recorded so the next sync can classify those divergences.
func firstSyncMerge(local *record.SyncRecord, remote record.RemoteRecord) Result {
	res := Result{Action: ActionUpdate}
	for field, remoteVal := range remote.Fields {
		localVal, ok := local.Fields[field]
		if ok && !isEmpty(localVal) {
			if equalValues(localVal, remoteVal) {
				res.Converged = append(res.Converged, field)
			}
			continue
		}
		res.Updates = append(res.Updates, FieldChange{
			Field:       field,
			Kind:        KindRemoteOnly,
			LocalValue:  localVal,
			RemoteValue: remoteVal,
		})
	}
	return res
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}

// equalValues is the conservative comparison used for change detection.
// Strings compare after trimming, times by Equal, numbers by value across
// int/float representations, everything else by DeepEqual. False-positive
// conflicts are preferred over silent data loss.
func equalValues(a, b any) bool {
	if a == nil && b == nil {
		return true
	}

	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.TrimSpace(as) == strings.TrimSpace(bs)
		}
	}

	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Equal(bt)
		}
	}

	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
	}

	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}
