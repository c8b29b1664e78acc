package store

import (
	"errors"
	"testing"
)

func TestSessions_BeginAndEnd(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.Sessions().Begin("", 960, 540, 120)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("session should get a generated id")
	}
	if sess.StartedAt.IsZero() {
		t.Error("session should carry its start time")
	}

	got, err := s.Sessions().GetByID(sess.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !got.EndedAt.IsZero() {
		t.Error("open session should have no end time")
	}
	if got.Width != 960 || got.Height != 540 || got.FPS != 120 {
		t.Errorf("geometry = %dx%d@%d, want 960x540@120", got.Width, got.Height, got.FPS)
	}

	if err := s.Sessions().End(sess.ID); err != nil {
		t.Fatalf("End: %v", err)
	}

	got, err = s.Sessions().GetByID(sess.ID)
	if err != nil {
		t.Fatalf("GetByID after end: %v", err)
	}
	if got.EndedAt.IsZero() {
		t.Error("ended session should carry its end time")
	}

	// Ending twice is an error; the session is already closed.
	if err := s.Sessions().End(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second End = %v, want ErrNotFound", err)
	}
}

func TestSessions_ProfileReference(t *testing.T) {
	s := newTestStore(t)

	p := testProfile("session-profile")
	if err := s.Profiles().Create(p); err != nil {
		t.Fatalf("Create profile: %v", err)
	}

	sess, err := s.Sessions().Begin(p.ID, 640, 480, 60)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	got, err := s.Sessions().GetByID(sess.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.ProfileID != p.ID {
		t.Errorf("profile id = %q, want %q", got.ProfileID, p.ID)
	}

	// Deleting the profile clears the reference but keeps the session.
	if err := s.Profiles().Delete(p.ID); err != nil {
		t.Fatalf("Delete profile: %v", err)
	}
	got, err = s.Sessions().GetByID(sess.ID)
	if err != nil {
		t.Fatalf("GetByID after profile delete: %v", err)
	}
	if got.ProfileID != "" {
		t.Errorf("profile id = %q after profile delete, want empty", got.ProfileID)
	}
}

func TestSessions_ListNewestFirst(t *testing.T) {
	s := newTestStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		sess, err := s.Sessions().Begin("", 960, 540, 120)
		if err != nil {
			t.Fatalf("Begin %d: %v", i, err)
		}
		ids = append(ids, sess.ID)
	}

	sessions, err := s.Sessions().List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("listed %d sessions, want 3", len(sessions))
	}
}

func TestSessions_UnknownID(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Sessions().GetByID("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID = %v, want ErrNotFound", err)
	}
	if err := s.Sessions().End("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("End = %v, want ErrNotFound", err)
	}
}
