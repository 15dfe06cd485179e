package domain

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Objectives maps each configured objective name to whether the learner has
// demonstrated it. The key set is fixed when the session is created.
type Objectives map[string]bool

// ObjectiveUpdate is a sparse update. A key that is absent leaves the stored
// value alone; a key that is present overwrites it, including with false.
type ObjectiveUpdate map[string]bool

// NewObjectives returns an objective set with every key initialized to false.
func NewObjectives(keys []string) Objectives {
	o := make(Objectives, len(keys))
	for _, k := range keys {
		o[k] = false
	}
	return o
}

// Merge applies an update. Each present key is overwritten with the update's
// value. Keys outside the configured set are ignored and returned.
func (o Objectives) Merge(update ObjectiveUpdate) (ignored []string) {
	for k, v := range update {
		if _, ok := o[k]; !ok {
			ignored = append(ignored, k)
			continue
		}
		o[k] = v
	}
	slices.Sort(ignored)
	return ignored
}

// IsComplete reports whether every configured objective is true.
// An empty set is never complete.
func (o Objectives) IsComplete() bool {
	if len(o) == 0 {
		return false
	}
	for _, v := range o {
		if !v {
			return false
		}
	}
	return true
}

// Keys returns the objective names in sorted order.
func (o Objectives) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Clone returns an independent copy.
func (o Objectives) Clone() Objectives {
	if o == nil {
		return nil
	}
	c := make(Objectives, len(o))
	for k, v := range o {
		c[k] = v
	}
	return c
}

// ParseObjectiveUpdate decodes a tool invocation input into a sparse update.
// Only keys in allowed are considered. Values that are not JSON booleans are
// skipped and reported in dropped.
func ParseObjectiveUpdate(input json.RawMessage, allowed []string) (update ObjectiveUpdate, dropped []string, err error) {
	update = ObjectiveUpdate{}
	if len(input) == 0 {
		return update, nil, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(input, &raw); err != nil {
		return update, nil, fmt.Errorf("decode objective update: %w", err)
	}

	for _, key := range allowed {
		v, ok := raw[key]
		if !ok {
			continue
		}
		var b bool
		if err := json.Unmarshal(v, &b); err != nil || string(v) == "null" {
			dropped = append(dropped, key)
			continue
		}
		update[key] = b
	}
	return update, dropped, nil
}
