// Package store provides data access layer interfaces and implementations.
// This package abstracts database operations to improve maintainability
// and decouple business logic from specific database implementations.
package store

import (
	"strings"

	"gorm.io/gorm"

	"github.com/pairreview/pairreview/pkg/errors"
)

// Store aggregates all data store interfaces.
// It provides a single point of access for all database operations.
type Store interface {
	Review() ReviewStore
	Comment() CommentStore
	Run() RunStore
	LocalDiff() LocalDiffStore
	Council() CouncilStore
	ContextFile() ContextFileStore
	Chat() ChatStore

	// DB returns the underlying database connection for advanced operations.
	// Use sparingly - prefer using specific store methods.
	DB() *gorm.DB

	// Transaction executes operations within a database transaction.
	Transaction(fn func(Store) error) error
}

// gormStore implements Store interface using GORM.
type gormStore struct {
	db               *gorm.DB
	reviewStore      ReviewStore
	commentStore     CommentStore
	runStore         RunStore
	localDiffStore   LocalDiffStore
	councilStore     CouncilStore
	contextFileStore ContextFileStore
	chatStore        ChatStore
}

// NewStore creates a new Store instance with GORM backend.
func NewStore(db *gorm.DB) Store {
	return &gormStore{
		db:               db,
		reviewStore:      newReviewStore(db),
		commentStore:     newCommentStore(db),
		runStore:         newRunStore(db),
		localDiffStore:   newLocalDiffStore(db),
		councilStore:     newCouncilStore(db),
		contextFileStore: newContextFileStore(db),
		chatStore:        newChatStore(db),
	}
}

func (s *gormStore) Review() ReviewStore {
	return s.reviewStore
}

func (s *gormStore) Comment() CommentStore {
	return s.commentStore
}

func (s *gormStore) Run() RunStore {
	return s.runStore
}

func (s *gormStore) LocalDiff() LocalDiffStore {
	return s.localDiffStore
}

func (s *gormStore) Council() CouncilStore {
	return s.councilStore
}

func (s *gormStore) ContextFile() ContextFileStore {
	return s.contextFileStore
}

func (s *gormStore) Chat() ChatStore {
	return s.chatStore
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) Transaction(fn func(Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

// translateError maps driver-level failures onto the application error taxonomy.
// Not-found lookups become ErrCodeNotFound; unique-constraint violations become
// ErrCodeConflict; everything else is a storage error.
func translateError(err error, resource string) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.AsAppError(err); ok {
		return err
	}
	if err == gorm.ErrRecordNotFound {
		return errors.ErrNotFound(resource)
	}
	if isUniqueViolation(err) {
		return errors.ErrConflict(resource + " already exists")
	}
	return errors.ErrStorage("failed to access "+resource, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}
