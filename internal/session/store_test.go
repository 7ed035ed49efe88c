package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/campusmate/campusmate/internal/session"
	"github.com/campusmate/campusmate/internal/testutil"
)

func TestSessionLifecycle(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := session.New(db.Pool, testutil.Logger(t))
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "student-42", "enrolment questions")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if sess.ID == uuid.Nil {
		t.Error("session has no ID")
	}

	got, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.UserID != "student-42" || got.Title != "enrolment questions" {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if _, err := store.GetSession(ctx, uuid.New()); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("GetSession(missing) error = %v, want ErrNotFound", err)
	}

	// A second session for the same user reuses the user row.
	if _, err := store.CreateSession(ctx, "student-42", "fees"); err != nil {
		t.Fatalf("second CreateSession() error = %v", err)
	}
	sessions, err := store.ListSessions(ctx, "student-42", 10)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("ListSessions() = %d sessions, want 2", len(sessions))
	}
}

func TestAppendMessageSequencing(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := session.New(db.Pool, testutil.Logger(t))
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "student-1", "")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	turns := []struct {
		role    session.Role
		content string
	}{
		{session.RoleUser, "When is the census date?"},
		{session.RoleAssistant, "Semester 1 census is 15 March."},
		{session.RoleUser, "And how do I withdraw?"},
	}
	for i, turn := range turns {
		msg, err := store.AppendMessage(ctx, sess.ID, turn.role, turn.content)
		if err != nil {
			t.Fatalf("AppendMessage(%d) error = %v", i, err)
		}
		if msg.Seq != int32(i+1) {
			t.Errorf("message %d has seq %d", i, msg.Seq)
		}
	}

	history, err := store.History(ctx, sess.ID, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history has %d messages, want 3", len(history))
	}
	for i, m := range history {
		if m.Seq != int32(i+1) {
			t.Errorf("history out of order at %d: seq %d", i, m.Seq)
		}
		if m.Content != turns[i].content {
			t.Errorf("history[%d] = %q", i, m.Content)
		}
	}

	// Window: last 2 in chronological order.
	recent, err := store.History(ctx, sess.ID, 2)
	if err != nil {
		t.Fatalf("History(2) error = %v", err)
	}
	if len(recent) != 2 || recent[0].Seq != 2 || recent[1].Seq != 3 {
		t.Errorf("windowed history = %+v", recent)
	}

	if _, err := store.AppendMessage(ctx, sess.ID, session.Role("system"), "nope"); !errors.Is(err, session.ErrInvalidRole) {
		t.Errorf("invalid role error = %v, want ErrInvalidRole", err)
	}
	if _, err := store.AppendMessage(ctx, uuid.New(), session.RoleUser, "hi"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("append to missing session error = %v, want ErrNotFound", err)
	}
}

func TestAppendMessageConcurrentWriters(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := session.New(db.Pool, testutil.Logger(t))
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "student-1", "")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.AppendMessage(ctx, sess.ID, session.RoleUser, fmt.Sprintf("turn %d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent AppendMessage() error = %v", err)
		}
	}

	history, err := store.History(ctx, sess.ID, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers {
		t.Fatalf("history has %d messages, want %d", len(history), writers)
	}
	seen := make(map[int32]bool)
	for _, m := range history {
		if seen[m.Seq] {
			t.Fatalf("duplicate sequence number %d", m.Seq)
		}
		seen[m.Seq] = true
	}
	for i := int32(1); i <= writers; i++ {
		if !seen[i] {
			t.Errorf("sequence gap at %d", i)
		}
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := session.New(db.Pool, testutil.Logger(t))
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "student-1", "")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if _, err := store.AppendMessage(ctx, sess.ID, session.RoleUser, "hello"); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	if err := store.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if err := store.DeleteSession(ctx, sess.ID); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}

	var count int
	if err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM session_messages WHERE session_id = $1`, sess.ID,
	).Scan(&count); err != nil {
		t.Fatalf("counting messages: %v", err)
	}
	if count != 0 {
		t.Errorf("%d messages survived the cascade", count)
	}
}
