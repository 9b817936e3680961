package domain

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// TaskUpdate is a partial update. Nil fields are left untouched.
// completedAt is derived from Completed and cannot be set directly.
type TaskUpdate struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	ListID      *string   `json:"listId,omitempty"`
	AssignedTo  *[]string `json:"assignedTo,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	ColorTag    *ColorTag `json:"colorTag,omitempty"`
	Position    *float64  `json:"position,omitempty"`
	Completed   *bool     `json:"completed,omitempty"`
}

// Empty reports whether the update sets no field at all.
func (u TaskUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.ListID == nil && u.AssignedTo == nil &&
		u.Priority == nil && u.ColorTag == nil && u.Position == nil && u.Completed == nil
}

// Validate checks field values before the update is diffed.
func (u TaskUpdate) Validate() error {
	if u.Title != nil && strings.TrimSpace(*u.Title) == "" {
		return invalid(FieldTitle, "must not be empty")
	}
	if u.ListID != nil && *u.ListID == "" {
		return invalid(FieldListID, "must not be empty")
	}
	if u.Priority != nil && !u.Priority.Valid() {
		return invalid(FieldPriority, "unknown priority "+strconv.Quote(string(*u.Priority)))
	}
	if u.ColorTag != nil && !u.ColorTag.Valid() {
		return invalid(FieldColorTag, "unknown color "+strconv.Quote(string(*u.ColorTag)))
	}
	if u.Position != nil && (math.IsNaN(*u.Position) || math.IsInf(*u.Position, 0)) {
		return invalid(FieldPosition, "must be a finite number")
	}
	if u.AssignedTo != nil {
		for _, id := range *u.AssignedTo {
			if id == "" {
				return invalid(FieldAssignedTo, "contains an empty id")
			}
		}
	}
	return nil
}

// FieldChange is one differing field between a stored task and an update.
type FieldChange struct {
	Field    string
	Previous string
	New      string
}

// Diff applies u to cur and returns the merged task together with one
// FieldChange per field whose value actually changed, in a fixed field
// order. cur is not modified. completedAt is not touched here.
func Diff(cur Task, u TaskUpdate) (Task, []FieldChange) {
	next := cur
	next.AssignedTo = append([]string(nil), cur.AssignedTo...)
	var changes []FieldChange
	str := func(field string, dst *string, v *string) {
		if v == nil || *dst == *v {
			return
		}
		changes = append(changes, FieldChange{Field: field, Previous: *dst, New: *v})
		*dst = *v
	}

	str(FieldTitle, &next.Title, u.Title)
	str(FieldDescription, &next.Description, u.Description)
	str(FieldListID, &next.ListID, u.ListID)
	if u.AssignedTo != nil {
		prev := NormalizeAssignees(cur.AssignedTo)
		want := NormalizeAssignees(*u.AssignedTo)
		if !equalStrings(prev, want) {
			changes = append(changes, FieldChange{Field: FieldAssignedTo, Previous: encodeAssignees(prev), New: encodeAssignees(want)})
			next.AssignedTo = want
		}
	}
	if u.Priority != nil && next.Priority != *u.Priority {
		changes = append(changes, FieldChange{Field: FieldPriority, Previous: string(next.Priority), New: string(*u.Priority)})
		next.Priority = *u.Priority
	}
	if u.ColorTag != nil && next.ColorTag != *u.ColorTag {
		changes = append(changes, FieldChange{Field: FieldColorTag, Previous: string(next.ColorTag), New: string(*u.ColorTag)})
		next.ColorTag = *u.ColorTag
	}
	if u.Position != nil && next.Position != *u.Position {
		changes = append(changes, FieldChange{Field: FieldPosition, Previous: formatNumber(next.Position), New: formatNumber(*u.Position)})
		next.Position = *u.Position
	}
	if u.Completed != nil && next.Completed != *u.Completed {
		changes = append(changes, FieldChange{Field: FieldCompleted, Previous: strconv.FormatBool(next.Completed), New: strconv.FormatBool(*u.Completed)})
		next.Completed = *u.Completed
	}
	return next, changes
}

// NormalizeAssignees returns the sorted set of non-empty ids in ids.
func NormalizeAssignees(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func encodeAssignees(ids []string) string {
	b, _ := json.Marshal(ids)
	return string(b)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
