package notes

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var testDatabaseSequence atomic.Int64

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	name := fmt.Sprintf("file:notes_test_%d?mode=memory&cache=shared", testDatabaseSequence.Add(1))
	db, err := gorm.Open(sqlite.Open(name), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&Note{}, &CollaboratorGrant{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, clock func() time.Time) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: NewUUIDProvider(),
		Directory:  allowAllDirectory{},
	})
	if err != nil {
		t.Fatalf("failed to construct notes service: %v", err)
	}
	return service
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustNoteID(t *testing.T, value string) NoteID {
	t.Helper()
	id, err := NewNoteID(value)
	if err != nil {
		t.Fatalf("unexpected note id error: %v", err)
	}
	return id
}

func mustCreateNote(t *testing.T, service *Service, actor Actor, params NoteParams) Note {
	t.Helper()
	note, err := service.Create(context.Background(), actor, params)
	if err != nil {
		t.Fatalf("failed to create note: %v", err)
	}
	return note
}

func mustAddCollaborator(t *testing.T, service *Service, owner Actor, noteID NoteID, collaboratorID UserID) CollaboratorGrant {
	t.Helper()
	grant, err := service.AddCollaborator(context.Background(), owner, noteID, collaboratorID)
	if err != nil {
		t.Fatalf("failed to add collaborator: %v", err)
	}
	return grant
}

// allowAllDirectory treats every principal id as registered; collaborator
// target checks are exercised separately with strictDirectory.
type allowAllDirectory struct{}

func (allowAllDirectory) Exists(context.Context, string) (bool, error) {
	return true, nil
}

// strictDirectory knows an explicit set of principals.
type strictDirectory map[string]bool

func (d strictDirectory) Exists(_ context.Context, userID string) (bool, error) {
	return d[userID], nil
}
