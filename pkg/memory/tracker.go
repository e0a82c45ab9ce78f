package memory

import (
	"context"
	"fmt"
	"sort"
)

// ReindexPolicy selects how a forced reindex retires stale records
type ReindexPolicy string

const (
	// PolicyDiff compares content hashes and applies only the needed deletes and inserts
	PolicyDiff ReindexPolicy = "diff"
	// PolicyLegacy replaces whole documents and appends to incremental sources
	PolicyLegacy ReindexPolicy = "legacy"
)

// IsValid reports whether p is a known policy
func (p ReindexPolicy) IsValid() bool {
	return p == PolicyDiff || p == PolicyLegacy
}

// Action is the outcome chosen for a source
type Action string

const (
	ActionSkip    Action = "skip"
	ActionInsert  Action = "insert"
	ActionReplace Action = "replace"
	ActionAppend  Action = "append"
	ActionDiff    Action = "diff"
	ActionEmpty   Action = "empty"
	ActionRetire  Action = "retire"
)

// Plan describes the writes needed to bring one source identity up to date
type Plan struct {
	Action Action
	// Insert holds the units that must be embedded and written
	Insert []Chunk
	// Delete holds chunk ids to retire before inserting
	Delete []string
	// DeleteAll retires every record of the identity before inserting
	DeleteAll bool
	// IgnoreConflicts selects insert-or-ignore writes
	IgnoreConflicts bool
	// Unchanged counts persisted units kept as they are
	Unchanged int
}

// Tracker decides whether a source needs (re)embedding
type Tracker struct {
	policy ReindexPolicy
}

// NewTracker creates a tracker for the given reindex policy
func NewTracker(policy ReindexPolicy) (*Tracker, error) {
	if policy == "" {
		policy = PolicyDiff
	}
	if !policy.IsValid() {
		return nil, &ConfigurationError{
			Op:  "reindex policy",
			Err: fmt.Errorf("unknown policy %q (must be diff or legacy)", policy),
		}
	}
	return &Tracker{policy: policy}, nil
}

// Policy returns the configured reindex policy
func (t *Tracker) Policy() ReindexPolicy {
	return t.policy
}

// Plan inspects the persisted state of src inside tx and returns the writes
// needed for units.
func (t *Tracker) Plan(ctx context.Context, tx StoreTx, src Source, units []Chunk, force bool) (Plan, error) {
	if !force {
		exists, err := tx.Exists(ctx, src.Type, src.ID)
		if err != nil {
			return Plan{}, storeError("exists", err)
		}
		if exists {
			return Plan{Action: ActionSkip}, nil
		}
		return Plan{Action: ActionInsert, Insert: units, IgnoreConflicts: true}, nil
	}

	if t.policy == PolicyLegacy {
		if src.Type.WholeDocument() {
			return Plan{Action: ActionReplace, Insert: units, DeleteAll: true}, nil
		}
		return Plan{Action: ActionAppend, Insert: units, IgnoreConflicts: true}, nil
	}

	persisted, err := tx.ChunkHashes(ctx, src.Type, src.ID)
	if err != nil {
		return Plan{}, storeError("chunk hashes", err)
	}

	return diffPlan(persisted, units), nil
}

// diffPlan compares persisted chunk hashes with the current units
func diffPlan(persisted map[string]string, units []Chunk) Plan {
	plan := Plan{Action: ActionDiff}

	current := make(map[string]struct{}, len(units))
	for _, u := range units {
		current[u.ChunkID] = struct{}{}

		hash, ok := persisted[u.ChunkID]
		switch {
		case !ok:
			plan.Insert = append(plan.Insert, u)
		case hash != u.Hash():
			plan.Delete = append(plan.Delete, u.ChunkID)
			plan.Insert = append(plan.Insert, u)
		default:
			plan.Unchanged++
		}
	}

	for id := range persisted {
		if _, ok := current[id]; !ok {
			plan.Delete = append(plan.Delete, id)
		}
	}
	sort.Strings(plan.Delete)

	return plan
}
