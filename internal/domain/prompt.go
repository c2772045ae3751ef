package domain

import "time"

// PromptPreset is a curated editing instruction offered to every user.
type PromptPreset struct {
	ID          string
	Name        string
	Description string
	Prompt      string
	Category    string
	Icon        string
	Order       int
	IsActive    bool
}

// CustomPrompt is a user-authored editing instruction.
type CustomPrompt struct {
	ID          string
	UserID      string
	Name        string
	Description string
	Prompt      string
	Category    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
