package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var ctx = context.Background()

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fixedClock returns a clock that advances by step on every call.
func fixedClock(start time.Time, step time.Duration) func() time.Time {
	var calls atomic.Int64
	return func() time.Time {
		n := calls.Add(1) - 1
		return start.Add(time.Duration(n) * step)
	}
}

func createTestInterview(t *testing.T, s *Store) string {
	t.Helper()
	id, err := s.CreateInterview(ctx, TitleJuniorDeveloper, []Skill{SkillJavaScript})
	if err != nil {
		t.Fatalf("CreateInterview: %v", err)
	}
	return id
}

// TestInitializeIdempotent reopens the same database file and verifies rows survive
// and migrations are not re-applied.
func TestInitializeIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	id := createTestInterview(t, s1)
	if _, err := s1.AppendMessage(ctx, NewMessage{InterviewID: id, MessageID: "m1", Role: RoleUser, Content: "hello"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s1.Initialize(ctx); err != nil {
		t.Fatalf("second Initialize on open store: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}

	list, err := s2.ListInterviews(ctx)
	if err != nil {
		t.Fatalf("ListInterviews: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len(interviews) = %d, want 1", len(list))
	}
	detail, err := s2.GetInterview(ctx, id)
	if err != nil {
		t.Fatalf("GetInterview: %v", err)
	}
	if len(detail.Messages) != 1 {
		t.Errorf("len(messages) = %d, want 1", len(detail.Messages))
	}
}

// TestSchemaObjectsExist verifies tables and the message lookup index are created.
func TestSchemaObjectsExist(t *testing.T) {
	s := openTestStore(t)

	objects := []struct{ typ, name string }{
		{"table", "interviews"},
		{"table", "messages"},
		{"index", "idx_messages_interviewId"},
	}
	for _, o := range objects {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?", o.typ, o.name).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", o.name, err)
		}
		if count != 1 {
			t.Errorf("%s %q not found in sqlite_master", o.typ, o.name)
		}
	}
}

func TestCreateInterview(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	s := openTestStore(t, WithClock(fixedClock(start, 0)))

	id, err := s.CreateInterview(ctx, TitleJuniorDeveloper, []Skill{SkillJavaScript, SkillReact, SkillJavaScript})
	if err != nil {
		t.Fatalf("CreateInterview: %v", err)
	}

	got, err := s.GetInterview(ctx, id)
	if err != nil {
		t.Fatalf("GetInterview: %v", err)
	}
	if got.Status != StatusCreated {
		t.Errorf("Status = %q, want %q", got.Status, StatusCreated)
	}
	if got.Title != TitleJuniorDeveloper {
		t.Errorf("Title = %q, want %q", got.Title, TitleJuniorDeveloper)
	}
	if len(got.Skills) != 2 || got.Skills[0] != SkillJavaScript || got.Skills[1] != SkillReact {
		t.Errorf("Skills = %v, want [JavaScript React]", got.Skills)
	}
	if got.CreatedAt != start.UnixMilli() || got.UpdatedAt != got.CreatedAt {
		t.Errorf("CreatedAt/UpdatedAt = %d/%d, want both %d", got.CreatedAt, got.UpdatedAt, start.UnixMilli())
	}
	if got.Messages == nil || len(got.Messages) != 0 {
		t.Errorf("Messages = %#v, want empty non-nil slice", got.Messages)
	}
}

func TestCreateInterviewUniqueIDs(t *testing.T) {
	s := openTestStore(t)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		id := createTestInterview(t, s)
		if seen[id] {
			t.Fatalf("duplicate interview id %q", id)
		}
		seen[id] = true
	}

	list, err := s.ListInterviews(ctx)
	if err != nil {
		t.Fatalf("ListInterviews: %v", err)
	}
	for _, iv := range list {
		if !seen[iv.InterviewID] {
			t.Errorf("unexpected interview %q in list", iv.InterviewID)
		}
		if iv.Status != StatusCreated {
			t.Errorf("interview %q status = %q, want created", iv.InterviewID, iv.Status)
		}
	}
}

func TestCreateInterviewValidation(t *testing.T) {
	s := openTestStore(t)

	tests := []struct {
		name   string
		title  Title
		skills []Skill
		field  string
	}{
		{"missing title", "", []Skill{SkillPython}, "title"},
		{"unknown title", "Intern Interview", []Skill{SkillPython}, "title"},
		{"no skills", TitleTechnicalLead, nil, "skills"},
		{"unknown skill", TitleTechnicalLead, []Skill{"COBOL"}, "skills"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateInterview(ctx, tt.title, tt.skills)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("error = %v, want *ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}

	list, err := s.ListInterviews(ctx)
	if err != nil {
		t.Fatalf("ListInterviews: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("len(interviews) = %d, want 0 after rejected inserts", len(list))
	}
}

func TestListInterviewsNewestFirst(t *testing.T) {
	s := openTestStore(t, WithClock(fixedClock(time.UnixMilli(1_700_000_000_000), time.Second)))

	a := createTestInterview(t, s)
	b := createTestInterview(t, s)

	list, err := s.ListInterviews(ctx)
	if err != nil {
		t.Fatalf("ListInterviews: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(interviews) = %d, want 2", len(list))
	}
	if list[0].InterviewID != b || list[1].InterviewID != a {
		t.Errorf("order = [%s %s], want [%s %s]", list[0].InterviewID, list[1].InterviewID, b, a)
	}
}

// TestListInterviewsSameMillisecond verifies insertion order breaks createdAt ties.
func TestListInterviewsSameMillisecond(t *testing.T) {
	s := openTestStore(t, WithClock(fixedClock(time.UnixMilli(1_700_000_000_000), 0)))

	a := createTestInterview(t, s)
	b := createTestInterview(t, s)

	list, err := s.ListInterviews(ctx)
	if err != nil {
		t.Fatalf("ListInterviews: %v", err)
	}
	if list[0].InterviewID != b || list[1].InterviewID != a {
		t.Errorf("order = [%s %s], want [%s %s]", list[0].InterviewID, list[1].InterviewID, b, a)
	}
}

func TestListInterviewsEmpty(t *testing.T) {
	s := openTestStore(t)

	list, err := s.ListInterviews(ctx)
	if err != nil {
		t.Fatalf("ListInterviews: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("ListInterviews = %#v, want empty non-nil slice", list)
	}
}

func TestGetInterviewNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetInterview(ctx, "does-not-exist")
	if err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// TestAppendMessageOrder appends with an identical timestamp so only insertion order
// can keep the transcript stable.
func TestAppendMessageOrder(t *testing.T) {
	s := openTestStore(t, WithClock(fixedClock(time.UnixMilli(1_700_000_000_000), 0)))
	id := createTestInterview(t, s)

	ids := []string{"m-z", "m-a", "m-m", "m-b"}
	for i, mid := range ids {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if _, err := s.AppendMessage(ctx, NewMessage{InterviewID: id, MessageID: mid, Role: role, Content: fmt.Sprintf("msg %d", i)}); err != nil {
			t.Fatalf("AppendMessage(%s): %v", mid, err)
		}
	}

	got, err := s.GetInterview(ctx, id)
	if err != nil {
		t.Fatalf("GetInterview: %v", err)
	}
	if len(got.Messages) != len(ids) {
		t.Fatalf("len(messages) = %d, want %d", len(got.Messages), len(ids))
	}
	for i, m := range got.Messages {
		if m.MessageID != ids[i] {
			t.Errorf("messages[%d] = %q, want %q", i, m.MessageID, ids[i])
		}
		if m.InterviewID != id {
			t.Errorf("messages[%d].InterviewID = %q, want %q", i, m.InterviewID, id)
		}
	}
}

func TestAppendMessageScoping(t *testing.T) {
	s := openTestStore(t)
	a := createTestInterview(t, s)
	b := createTestInterview(t, s)

	if _, err := s.AppendMessage(ctx, NewMessage{InterviewID: a, MessageID: "a1", Role: RoleUser, Content: "for a"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	got, err := s.GetInterview(ctx, b)
	if err != nil {
		t.Fatalf("GetInterview: %v", err)
	}
	if len(got.Messages) != 0 {
		t.Errorf("interview b has %d messages, want 0", len(got.Messages))
	}
}

func TestAppendMessageReturnsRecord(t *testing.T) {
	now := time.UnixMilli(1_700_000_123_456)
	s := openTestStore(t, WithClock(func() time.Time { return now }))
	id := createTestInterview(t, s)

	msg, err := s.AppendMessage(ctx, NewMessage{InterviewID: id, MessageID: "m1", Role: RoleSystem, Content: "rules"})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	want := Message{MessageID: "m1", InterviewID: id, Role: RoleSystem, Content: "rules", Timestamp: now.UnixMilli()}
	if msg != want {
		t.Errorf("AppendMessage = %+v, want %+v", msg, want)
	}
}

func TestAppendMessageErrors(t *testing.T) {
	s := openTestStore(t)
	id := createTestInterview(t, s)

	if _, err := s.AppendMessage(ctx, NewMessage{InterviewID: id, MessageID: "m1", Role: RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	t.Run("duplicate id", func(t *testing.T) {
		_, err := s.AppendMessage(ctx, NewMessage{InterviewID: id, MessageID: "m1", Role: RoleUser, Content: "again"})
		if !errors.Is(err, ErrDuplicate) {
			t.Fatalf("error = %v, want ErrDuplicate", err)
		}
		var se *StorageError
		if !errors.As(err, &se) {
			t.Errorf("error = %T, want *StorageError", err)
		}
	})

	t.Run("unknown interview", func(t *testing.T) {
		_, err := s.AppendMessage(ctx, NewMessage{InterviewID: "nope", MessageID: "m2", Role: RoleUser, Content: "hi"})
		if err != ErrNotFound {
			t.Fatalf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("unknown role", func(t *testing.T) {
		_, err := s.AppendMessage(ctx, NewMessage{InterviewID: id, MessageID: "m3", Role: "narrator", Content: "hi"})
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != "role" {
			t.Fatalf("error = %v, want role ValidationError", err)
		}
	})

	t.Run("missing message id", func(t *testing.T) {
		_, err := s.AppendMessage(ctx, NewMessage{InterviewID: id, Role: RoleUser, Content: "hi"})
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != "messageId" {
			t.Fatalf("error = %v, want messageId ValidationError", err)
		}
	})

	got, err := s.GetInterview(ctx, id)
	if err != nil {
		t.Fatalf("GetInterview: %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "hi" {
		t.Errorf("messages = %+v, want only the first append", got.Messages)
	}
}

func TestSetStatus(t *testing.T) {
	s := openTestStore(t, WithClock(fixedClock(time.UnixMilli(1_700_000_000_000), time.Second)))
	id := createTestInterview(t, s)

	if err := s.SetStatus(ctx, id, StatusInProgress); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	got, err := s.GetInterview(ctx, id)
	if err != nil {
		t.Fatalf("GetInterview: %v", err)
	}
	if got.Status != StatusInProgress {
		t.Errorf("Status = %q, want %q", got.Status, StatusInProgress)
	}
	if got.UpdatedAt <= got.CreatedAt {
		t.Errorf("UpdatedAt = %d, want > CreatedAt %d", got.UpdatedAt, got.CreatedAt)
	}

	if err := s.SetStatus(ctx, id, "paused"); err == nil {
		t.Error("SetStatus(paused) succeeded, want ValidationError")
	}
	if err := s.SetStatus(ctx, "missing", StatusCompleted); err != ErrNotFound {
		t.Errorf("SetStatus(missing) = %v, want ErrNotFound", err)
	}
}

// TestGetInterviewCorruptRow verifies structurally invalid stored data surfaces as a StorageError.
func TestGetInterviewCorruptRow(t *testing.T) {
	s := openTestStore(t)

	_, err := s.db.Exec(`INSERT INTO interviews (interviewId, title, skills, status, createdAt, updatedAt)
		VALUES ('bad', 'Junior Developer Interview', '["JavaScript"]', 'created', 0, 0)`)
	if err != nil {
		t.Fatalf("inserting corrupt row: %v", err)
	}

	_, err = s.GetInterview(ctx, "bad")
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StorageError", err)
	}
	if _, err := s.ListInterviews(ctx); !errors.As(err, &se) {
		t.Fatalf("ListInterviews error = %v, want *StorageError", err)
	}
}

func TestReadRejectsUnknownEnumValues(t *testing.T) {
	tests := []struct {
		name   string
		title  string
		skills string
		status string
	}{
		{"title", "Astronaut Interview", `["JavaScript"]`, "created"},
		{"skill", "Junior Developer Interview", `["COBOL"]`, "created"},
		{"no skills", "Junior Developer Interview", `[]`, "created"},
		{"status", "Junior Developer Interview", `["JavaScript"]`, "archived"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openTestStore(t)
			_, err := s.db.Exec(`INSERT INTO interviews (interviewId, title, skills, status, createdAt, updatedAt)
				VALUES ('bad', ?, ?, ?, 1, 1)`, tt.title, tt.skills, tt.status)
			if err != nil {
				t.Fatalf("inserting row: %v", err)
			}

			var se *StorageError
			if _, err := s.GetInterview(ctx, "bad"); !errors.As(err, &se) {
				t.Errorf("GetInterview error = %v, want *StorageError", err)
			}
			if _, err := s.ListInterviews(ctx); !errors.As(err, &se) {
				t.Errorf("ListInterviews error = %v, want *StorageError", err)
			}
		})
	}
}

func TestGetInterviewRejectsUnknownRole(t *testing.T) {
	s := openTestStore(t)
	id, err := s.CreateInterview(ctx, TitleJuniorDeveloper, []Skill{SkillJavaScript})
	if err != nil {
		t.Fatalf("CreateInterview: %v", err)
	}
	_, err = s.db.Exec(`INSERT INTO messages (messageId, interviewId, role, content, timestamp)
		VALUES ('m1', ?, 'moderator', 'hi', 1)`, id)
	if err != nil {
		t.Fatalf("inserting message: %v", err)
	}

	_, err = s.GetInterview(ctx, id)
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StorageError", err)
	}
	if !strings.Contains(err.Error(), "moderator") {
		t.Errorf("error = %q, want it to name the bad role", err)
	}
}

func TestStoreClosedReturnsStorageError(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Close()

	_, err = s.CreateInterview(ctx, TitleJuniorDeveloper, []Skill{SkillPython})
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StorageError", err)
	}
	if se.Op != "create interview" {
		t.Errorf("Op = %q, want %q", se.Op, "create interview")
	}
}
