package storage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert collides with an existing primary key.
var ErrDuplicate = errors.New("already exists")

// Title is one of the closed set of interview archetypes.
type Title string

const (
	TitleJuniorDeveloper    Title = "Junior Developer Interview"
	TitleSeniorDeveloper    Title = "Senior Developer Interview"
	TitleFullStackDeveloper Title = "Full Stack Developer Interview"
	TitleFrontendDeveloper  Title = "Frontend Developer Interview"
	TitleBackendDeveloper   Title = "Backend Developer Interview"
	TitleSystemArchitect    Title = "System Architect Interview"
	TitleTechnicalLead      Title = "Technical Lead Interview"
)

var titles = []Title{
	TitleJuniorDeveloper,
	TitleSeniorDeveloper,
	TitleFullStackDeveloper,
	TitleFrontendDeveloper,
	TitleBackendDeveloper,
	TitleSystemArchitect,
	TitleTechnicalLead,
}

// Titles returns every accepted interview title.
func Titles() []Title {
	return append([]Title(nil), titles...)
}

func (t Title) Valid() bool {
	for _, v := range titles {
		if v == t {
			return true
		}
	}
	return false
}

type Skill string

const (
	SkillJavaScript Skill = "JavaScript"
	SkillTypeScript Skill = "TypeScript"
	SkillReact      Skill = "React"
	SkillNodeJS     Skill = "NodeJS"
	SkillPython     Skill = "Python"
)

var skills = []Skill{SkillJavaScript, SkillTypeScript, SkillReact, SkillNodeJS, SkillPython}

// Skills returns every accepted skill.
func Skills() []Skill {
	return append([]Skill(nil), skills...)
}

func (s Skill) Valid() bool {
	for _, v := range skills {
		if v == s {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusCreated    Status = "created"
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is one immutable transcript entry. Timestamp is milliseconds since the epoch.
type Message struct {
	MessageID   string `json:"messageId"`
	InterviewID string `json:"interviewId"`
	Role        Role   `json:"role"`
	Content     string `json:"content"`
	Timestamp   int64  `json:"timestamp"`
}

// InterviewSummary is an interview header without its transcript.
type InterviewSummary struct {
	InterviewID string  `json:"interviewId"`
	Title       Title   `json:"title"`
	Skills      []Skill `json:"skills"`
	Status      Status  `json:"status"`
	CreatedAt   int64   `json:"createdAt"`
	UpdatedAt   int64   `json:"updatedAt"`
}

// InterviewDetail is an interview header plus its full transcript in append order.
type InterviewDetail struct {
	InterviewSummary
	Messages []Message `json:"messages"`
}

// NewMessage is the input to AppendMessage.
type NewMessage struct {
	InterviewID string
	MessageID   string
	Role        Role
	Content     string
}

// ValidationError reports caller input the store refuses to persist.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StorageError wraps any failure of the underlying database.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// normalizeSkills validates skills and collapses duplicates, keeping first-seen order.
func normalizeSkills(in []Skill) ([]Skill, error) {
	if len(in) == 0 {
		return nil, &ValidationError{Field: "skills", Reason: "at least one skill is required"}
	}
	seen := make(map[Skill]bool, len(in))
	out := make([]Skill, 0, len(in))
	for _, s := range in {
		if !s.Valid() {
			return nil, &ValidationError{Field: "skills", Reason: fmt.Sprintf("unknown skill %q", s)}
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}

func validateTitle(t Title) error {
	if strings.TrimSpace(string(t)) == "" {
		return &ValidationError{Field: "title", Reason: "title is required"}
	}
	if !t.Valid() {
		return &ValidationError{Field: "title", Reason: fmt.Sprintf("unknown title %q", t)}
	}
	return nil
}
