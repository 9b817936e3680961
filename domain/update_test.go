package domain

import (
	"errors"
	"math"
	"testing"
)

func ptrString(s string) *string       { return &s }
func ptrBool(b bool) *bool             { return &b }
func ptrFloat(f float64) *float64      { return &f }
func ptrPriority(p Priority) *Priority { return &p }
func ptrColor(c ColorTag) *ColorTag    { return &c }
func ptrStrings(v ...string) *[]string { return &v }

func TestDiffOneChangePerDifferingField(t *testing.T) {
	cur := Task{ID: "t1", Title: "a", Description: "d", ListID: "l1", Priority: PriorityLow, Position: 1}
	upd := TaskUpdate{
		Title:       ptrString("b"),
		Description: ptrString("d"),
		Priority:    ptrPriority(PriorityHigh),
		Position:    ptrFloat(1),
		ColorTag:    ptrColor(ColorRed),
	}
	next, changes := Diff(cur, upd)
	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %#v", changes)
	}
	want := []FieldChange{
		{Field: FieldTitle, Previous: "a", New: "b"},
		{Field: FieldPriority, Previous: "low", New: "high"},
		{Field: FieldColorTag, Previous: "", New: "red"},
	}
	for i, w := range want {
		if changes[i] != w {
			t.Fatalf("change %d: got %#v want %#v", i, changes[i], w)
		}
	}
	if next.Title != "b" || next.Priority != PriorityHigh || next.ColorTag != ColorRed || next.Description != "d" {
		t.Fatalf("unexpected merged task: %#v", next)
	}
	if cur.Title != "a" {
		t.Fatalf("input task modified")
	}
}

func TestDiffAssigneesCompareAsSet(t *testing.T) {
	cur := Task{AssignedTo: []string{"u2", "u1"}}
	_, changes := Diff(cur, TaskUpdate{AssignedTo: ptrStrings("u1", "u2", "u1")})
	if len(changes) != 0 {
		t.Fatalf("reordered membership should not change: %#v", changes)
	}
	next, changes := Diff(cur, TaskUpdate{AssignedTo: ptrStrings("u3", "u1")})
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %#v", changes)
	}
	if changes[0].Previous != `["u1","u2"]` || changes[0].New != `["u1","u3"]` {
		t.Fatalf("unexpected serialization: %#v", changes[0])
	}
	if len(next.AssignedTo) != 2 || next.AssignedTo[0] != "u1" || next.AssignedTo[1] != "u3" {
		t.Fatalf("unexpected assignees: %v", next.AssignedTo)
	}
}

func TestDiffSerializesScalars(t *testing.T) {
	cur := Task{Position: 2, Completed: false}
	_, changes := Diff(cur, TaskUpdate{Position: ptrFloat(2.5), Completed: ptrBool(true)})
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %#v", changes)
	}
	if changes[0].Previous != "2" || changes[0].New != "2.5" {
		t.Fatalf("unexpected position values: %#v", changes[0])
	}
	if changes[1].Previous != "false" || changes[1].New != "true" {
		t.Fatalf("unexpected completed values: %#v", changes[1])
	}
}

func TestTaskUpdateValidate(t *testing.T) {
	cases := map[string]TaskUpdate{
		"empty title":    {Title: ptrString("  ")},
		"priority":       {Priority: ptrPriority("urgent")},
		"color":          {ColorTag: ptrColor("pink")},
		"nan position":   {Position: ptrFloat(math.NaN())},
		"inf position":   {Position: ptrFloat(math.Inf(1))},
		"empty list":     {ListID: ptrString("")},
		"empty assignee": {AssignedTo: ptrStrings("u1", "")},
	}
	for name, upd := range cases {
		err := upd.Validate()
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field == "" {
			t.Fatalf("%s: expected field in error, got %v", name, err)
		}
	}
	ok := TaskUpdate{Title: ptrString("x"), Priority: ptrPriority(PriorityLow), ColorTag: ptrColor("")}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
