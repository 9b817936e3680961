package domain

import "time"

// Priority ranks a task within its list.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// ColorTag is the colour label shared by tasks and boards. The empty tag
// means "no colour".
type ColorTag string

const (
	ColorBlue   ColorTag = "blue"
	ColorGreen  ColorTag = "green"
	ColorYellow ColorTag = "yellow"
	ColorRed    ColorTag = "red"
	ColorPurple ColorTag = "purple"
	ColorOrange ColorTag = "orange"
)

// Valid reports whether c is empty or one of the six known colours.
func (c ColorTag) Valid() bool {
	switch c {
	case "", ColorBlue, ColorGreen, ColorYellow, ColorRed, ColorPurple, ColorOrange:
		return true
	}
	return false
}

// Task represents a single card on a board.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	ListID      string     `json:"listId"`
	AssignedTo  []string   `json:"assignedTo"`
	Priority    Priority   `json:"priority"`
	ColorTag    ColorTag   `json:"colorTag,omitempty"`
	Position    float64    `json:"position"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// NewTask carries the fields a client may set when creating a task.
type NewTask struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ListID      string   `json:"listId"`
	AssignedTo  []string `json:"assignedTo"`
	Priority    Priority `json:"priority"`
	ColorTag    ColorTag `json:"colorTag"`
}

// TaskQuery filters and pages a task listing. BoardID takes precedence
// over ListID.
type TaskQuery struct {
	BoardID    string
	ListID     string
	Priority   Priority
	AssignedTo string
	Completed  *bool
	Page       int
	Limit      int
}

// TaskPage is one page of a task listing.
type TaskPage struct {
	Tasks []Task `json:"tasks"`
	Total int    `json:"total"`
	Page  int    `json:"page"`
	Pages int    `json:"pages"`
}

const (
	DefaultTaskPageSize = 20
	MaxTaskPageSize     = 100
	SearchLimit         = 20
)
