package gate

import (
	"context"
	"testing"
)

func TestSnapshot_roundtrip(t *testing.T) {
	e := New(DefaultConfig(), nil)
	e.Context().SetBool(KeySpecComplete, true)
	e.Context().SetInt(KeyTasksTotal, 7)
	if err := e.Register(simpleGate("a", nil, req("r", 1, true, pass))); err != nil {
		t.Fatal(err)
	}
	if err := e.Register(simpleGate("b", []string{"a"}, req("r", 1, true, pass))); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Check(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}

	data, err := e.MarshalSnapshot()
	if err != nil {
		t.Fatalf("MarshalSnapshot: %v", err)
	}

	// Restore into a fresh engine that has the same gates registered, so
	// checks re-bind by requirement id.
	restored := New(DefaultConfig(), nil)
	if err := restored.Register(simpleGate("a", nil, req("r", 1, true, pass))); err != nil {
		t.Fatal(err)
	}
	if err := restored.Register(simpleGate("b", []string{"a"}, req("r", 1, true, pass))); err != nil {
		t.Fatal(err)
	}
	if err := restored.UnmarshalSnapshot(data); err != nil {
		t.Fatalf("UnmarshalSnapshot: %v", err)
	}

	st, ok := restored.State("a")
	if !ok || st.Status != StatusPassed || st.PassCount != 1 {
		t.Errorf("restored a: %+v", st)
	}
	if !restored.Context().Bool(KeySpecComplete) || restored.Context().Int(KeyTasksTotal) != 7 {
		t.Error("context bag not restored")
	}
	// Re-bound check still runs: b's dependency is passed, so b passes.
	res, err := restored.Check(context.Background(), "b")
	if err != nil {
		t.Fatalf("Check after import: %v", err)
	}
	if res.Status != StatusPassed {
		t.Errorf("b after import: %+v", res)
	}
}

func TestImport_unboundCheckFails(t *testing.T) {
	src := New(DefaultConfig(), nil)
	if err := src.Register(simpleGate("g", nil, req("r", 1, true, pass))); err != nil {
		t.Fatal(err)
	}
	snap := src.Export()

	// Import into an engine that never registered "g": no check to re-bind.
	dst := New(DefaultConfig(), nil)
	dst.Import(snap)

	res, err := dst.Check(context.Background(), "g")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Status != StatusFailed {
		t.Errorf("status: %s", res.Status)
	}
	if res.Requirements[0].Error != "no check bound" {
		t.Errorf("error: %q", res.Requirements[0].Error)
	}
}

func TestImport_missingStateDefaultsPending(t *testing.T) {
	src := New(DefaultConfig(), nil)
	if err := src.Register(simpleGate("g", nil, req("r", 1, true, pass))); err != nil {
		t.Fatal(err)
	}
	snap := src.Export()
	delete(snap.States, "g")

	dst := New(DefaultConfig(), nil)
	dst.Import(snap)
	st, ok := dst.State("g")
	if !ok || st.Status != StatusPending {
		t.Errorf("state: %+v ok=%v", st, ok)
	}
}
