package gate

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Key identifies one entry in the context bag. Collaborators declare keys
// for the artifacts they publish (spec completeness, plan approval, pool
// load, ...); the engine treats keys as opaque.
type Key string

// Keys published by the built-in collaborators. External collaborators
// declare their own.
const (
	KeySpecComplete   Key = "spec.complete"
	KeyPlanApproved   Key = "plan.approved"
	KeyTasksTotal     Key = "tasks.total"
	KeyTasksCompleted Key = "tasks.completed"
	KeyTasksFailed    Key = "tasks.failed"
	KeyPoolIdle       Key = "pool.idle"
	KeyPoolBusy       Key = "pool.busy"
	KeyPoolFailed     Key = "pool.failed"
	KeyFleetWorkload  Key = "fleet.workload"
)

// Kind is the closed set of value shapes a context entry may hold.
type Kind string

const (
	KindBool   Kind = "bool"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindString Kind = "string"
)

// Value is a typed variant. Exactly the field matching Kind is meaningful.
type Value struct {
	Kind   Kind    `json:"kind"`
	Bool   bool    `json:"bool,omitempty"`
	Int    int64   `json:"int,omitempty"`
	Float  float64 `json:"float,omitempty"`
	String string  `json:"string,omitempty"`
}

// Context is the key/value seam between the gate engine and whatever its
// requirements examine. It is the only sanctioned way for a requirement
// to read cross-component state.
type Context struct {
	mu     sync.RWMutex
	values map[Key]Value
}

func NewContext() *Context {
	return &Context{values: make(map[Key]Value)}
}

func (c *Context) SetBool(k Key, v bool)     { c.set(k, Value{Kind: KindBool, Bool: v}) }
func (c *Context) SetInt(k Key, v int64)     { c.set(k, Value{Kind: KindInt, Int: v}) }
func (c *Context) SetFloat(k Key, v float64) { c.set(k, Value{Kind: KindFloat, Float: v}) }
func (c *Context) SetString(k Key, v string) { c.set(k, Value{Kind: KindString, String: v}) }

func (c *Context) set(k Key, v Value) {
	c.mu.Lock()
	c.values[k] = v
	c.mu.Unlock()
}

// Get returns the raw variant for a key.
func (c *Context) Get(k Key) (Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[k]
	return v, ok
}

// Bool returns the boolean at k, or false when absent or of another kind.
func (c *Context) Bool(k Key) bool {
	v, ok := c.Get(k)
	return ok && v.Kind == KindBool && v.Bool
}

// Int returns the integer at k, or 0 when absent or of another kind.
func (c *Context) Int(k Key) int64 {
	v, ok := c.Get(k)
	if !ok || v.Kind != KindInt {
		return 0
	}
	return v.Int
}

// Float returns the float at k; integers are widened. Absent keys are 0.
func (c *Context) Float(k Key) float64 {
	v, ok := c.Get(k)
	if !ok {
		return 0
	}
	switch v.Kind {
	case KindFloat:
		return v.Float
	case KindInt:
		return float64(v.Int)
	default:
		return 0
	}
}

// String returns the string at k, or "".
func (c *Context) String(k Key) string {
	v, ok := c.Get(k)
	if !ok || v.Kind != KindString {
		return ""
	}
	return v.String
}

// Delete removes a key.
func (c *Context) Delete(k Key) {
	c.mu.Lock()
	delete(c.values, k)
	c.mu.Unlock()
}

// Export returns a copy of all entries.
func (c *Context) Export() map[Key]Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[Key]Value, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Replace swaps the full contents (used by Engine.Import).
func (c *Context) Replace(values map[Key]Value) {
	c.mu.Lock()
	c.values = make(map[Key]Value, len(values))
	for k, v := range values {
		c.values[k] = v
	}
	c.mu.Unlock()
}

// MarshalJSON/UnmarshalJSON serialize the bag for snapshots.
func (c *Context) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Export())
}

func (c *Context) UnmarshalJSON(b []byte) error {
	var values map[Key]Value
	if err := json.Unmarshal(b, &values); err != nil {
		return fmt.Errorf("gate context: %w", err)
	}
	c.Replace(values)
	return nil
}
