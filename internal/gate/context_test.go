package gate

import (
	"encoding/json"
	"testing"
)

func TestContext_typedAccess(t *testing.T) {
	c := NewContext()
	c.SetBool(KeyPlanApproved, true)
	c.SetInt(KeyTasksTotal, 12)
	c.SetFloat(KeyFleetWorkload, 0.4)
	c.SetString("phase", "implementation")

	if !c.Bool(KeyPlanApproved) {
		t.Error("Bool")
	}
	if c.Int(KeyTasksTotal) != 12 {
		t.Error("Int")
	}
	if c.Float(KeyFleetWorkload) != 0.4 {
		t.Error("Float")
	}
	// Integers widen when read as float.
	if c.Float(KeyTasksTotal) != 12 {
		t.Error("Float widening")
	}
	if c.String("phase") != "implementation" {
		t.Error("String")
	}

	// Kind mismatches read as zero values, never panic.
	if c.Bool(KeyTasksTotal) || c.Int(KeyPlanApproved) != 0 || c.String(KeyTasksTotal) != "" {
		t.Error("kind mismatch must read as zero value")
	}

	c.Delete(KeyTasksTotal)
	if _, ok := c.Get(KeyTasksTotal); ok {
		t.Error("Delete")
	}
}

func TestContext_jsonRoundtrip(t *testing.T) {
	c := NewContext()
	c.SetBool(KeySpecComplete, true)
	c.SetFloat(KeyFleetWorkload, 0.75)

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	restored := NewContext()
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !restored.Bool(KeySpecComplete) || restored.Float(KeyFleetWorkload) != 0.75 {
		t.Errorf("restored: %+v", restored.Export())
	}
}
