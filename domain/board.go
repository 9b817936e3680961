package domain

import "time"

// DefaultListTitles are created, in order, with every new board.
var DefaultListTitles = []string{"Backlog", "To Do", "In Progress", "Done"}

// Board is a named collection of lists shared by its members.
type Board struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Color     ColorTag  `json:"color"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasMember reports whether userID is a member of the board.
func (b Board) HasMember(userID string) bool {
	for _, m := range b.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// List is an ordered column of tasks within a board.
type List struct {
	ID       string `json:"id"`
	BoardID  string `json:"boardId"`
	Title    string `json:"title"`
	Position int    `json:"position"`
}
