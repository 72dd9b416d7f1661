package config

import (
	"context"
	"fmt"
	"sync"

	"github.com/SamuraiBuddha/claude-flow-sub002/internal/gate"
)

// CheckRef names a registered check and its parameters as written in the
// config file.
type CheckRef struct {
	Name  string  `yaml:"name"`
	Key   string  `yaml:"key,omitempty"`
	Value float64 `yaml:"value,omitempty"`
}

// CheckBuilder turns a CheckRef into a bound gate check.
type CheckBuilder func(ref CheckRef) (gate.CheckFunc, error)

var (
	checksMu      sync.RWMutex
	checkRegistry = map[string]CheckBuilder{}
)

// RegisterCheck adds a named check builder. Built-in names may be
// overridden; registration after daemon start is not supported.
func RegisterCheck(name string, b CheckBuilder) {
	checksMu.Lock()
	checkRegistry[name] = b
	checksMu.Unlock()
}

// BuildCheck resolves a CheckRef through the registry.
func BuildCheck(ref CheckRef) (gate.CheckFunc, error) {
	checksMu.RLock()
	b, ok := checkRegistry[ref.Name]
	checksMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown check %q", ref.Name)
	}
	return b(ref)
}

func needKey(ref CheckRef) error {
	if ref.Key == "" {
		return fmt.Errorf("check %q requires a key", ref.Name)
	}
	return nil
}

func init() {
	// flag: the boolean context key is true.
	RegisterCheck("flag", func(ref CheckRef) (gate.CheckFunc, error) {
		if err := needKey(ref); err != nil {
			return nil, err
		}
		k := gate.Key(ref.Key)
		return func(ctx context.Context, gctx *gate.Context) (bool, error) {
			return gctx.Bool(k), nil
		}, nil
	})
	// int_at_least: the integer context key is >= value.
	RegisterCheck("int_at_least", func(ref CheckRef) (gate.CheckFunc, error) {
		if err := needKey(ref); err != nil {
			return nil, err
		}
		k, min := gate.Key(ref.Key), int64(ref.Value)
		return func(ctx context.Context, gctx *gate.Context) (bool, error) {
			return gctx.Int(k) >= min, nil
		}, nil
	})
	// int_at_most: the integer context key is <= value.
	RegisterCheck("int_at_most", func(ref CheckRef) (gate.CheckFunc, error) {
		if err := needKey(ref); err != nil {
			return nil, err
		}
		k, max := gate.Key(ref.Key), int64(ref.Value)
		return func(ctx context.Context, gctx *gate.Context) (bool, error) {
			return gctx.Int(k) <= max, nil
		}, nil
	})
	// float_at_most: the float context key is <= value (ints widen).
	RegisterCheck("float_at_most", func(ref CheckRef) (gate.CheckFunc, error) {
		if err := needKey(ref); err != nil {
			return nil, err
		}
		k, max := gate.Key(ref.Key), ref.Value
		return func(ctx context.Context, gctx *gate.Context) (bool, error) {
			return gctx.Float(k) <= max, nil
		}, nil
	})
	// tasks_complete: every counted task completed and none failed.
	RegisterCheck("tasks_complete", func(ref CheckRef) (gate.CheckFunc, error) {
		return func(ctx context.Context, gctx *gate.Context) (bool, error) {
			total := gctx.Int(gate.KeyTasksTotal)
			done := gctx.Int(gate.KeyTasksCompleted)
			failed := gctx.Int(gate.KeyTasksFailed)
			return total > 0 && done == total && failed == 0, nil
		}, nil
	})
	// manual: never passes on its own; satisfied via gate override.
	RegisterCheck("manual", func(ref CheckRef) (gate.CheckFunc, error) {
		return func(ctx context.Context, gctx *gate.Context) (bool, error) {
			return false, nil
		}, nil
	})
}
