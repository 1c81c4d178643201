package store

import (
	"gorm.io/gorm"

	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/pkg/errors"
	"github.com/pairreview/pairreview/pkg/idgen"
)

// ChatStore defines operations for per-comment chat sessions and messages.
type ChatStore interface {
	CreateSession(session *model.ChatSession) error
	GetSession(id string) (*model.ChatSession, error)
	GetSessionByComment(commentID int64) (*model.ChatSession, error)
	UpdateSessionStatus(id string, status model.ChatSessionStatus) error
	DeleteSession(id string) error

	AppendMessage(msg *model.ChatMessage) error
	GetMessages(sessionID string) ([]model.ChatMessage, error)

	// ListCommentIDsWithMessages returns the review's comment ids that have a
	// chat session with at least one message.
	ListCommentIDsWithMessages(reviewID int64) ([]int64, error)
}

// chatStore implements ChatStore using GORM.
type chatStore struct {
	db *gorm.DB
}

func newChatStore(db *gorm.DB) ChatStore {
	return &chatStore{db: db}
}

func (s *chatStore) CreateSession(session *model.ChatSession) error {
	if session.ReviewID == 0 || session.CommentID == 0 {
		return errors.ErrValidation("review_id and comment_id are required")
	}
	if session.ID == "" {
		session.ID = idgen.NewSessionID()
	}
	if session.Status == "" {
		session.Status = model.ChatSessionStatusActive
	}
	return translateError(s.db.Create(session).Error, "chat session")
}

func (s *chatStore) GetSession(id string) (*model.ChatSession, error) {
	var session model.ChatSession
	if err := s.db.First(&session, "id = ?", id).Error; err != nil {
		return nil, translateError(err, "chat session")
	}
	return &session, nil
}

func (s *chatStore) GetSessionByComment(commentID int64) (*model.ChatSession, error) {
	var session model.ChatSession
	err := s.db.Where("comment_id = ?", commentID).
		Order("created_at DESC").First(&session).Error
	if err != nil {
		return nil, translateError(err, "chat session")
	}
	return &session, nil
}

func (s *chatStore) UpdateSessionStatus(id string, status model.ChatSessionStatus) error {
	result := s.db.Model(&model.ChatSession{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return translateError(result.Error, "chat session")
	}
	if result.RowsAffected == 0 {
		return errors.ErrNotFound("chat session")
	}
	return nil
}

func (s *chatStore) DeleteSession(id string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&model.ChatMessage{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&model.ChatSession{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	return translateError(err, "chat session")
}

func (s *chatStore) AppendMessage(msg *model.ChatMessage) error {
	if msg.SessionID == "" || msg.Role == "" || msg.Content == "" {
		return errors.ErrValidation("session_id, role and content are required")
	}
	return translateError(s.db.Create(msg).Error, "chat message")
}

func (s *chatStore) GetMessages(sessionID string) ([]model.ChatMessage, error) {
	var messages []model.ChatMessage
	err := s.db.Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").Find(&messages).Error
	if err != nil {
		return nil, translateError(err, "chat message")
	}
	return messages, nil
}

func (s *chatStore) ListCommentIDsWithMessages(reviewID int64) ([]int64, error) {
	var ids []int64
	err := s.db.Model(&model.ChatSession{}).
		Distinct("chat_sessions.comment_id").
		Joins("JOIN chat_messages ON chat_messages.session_id = chat_sessions.id").
		Where("chat_sessions.review_id = ?", reviewID).
		Pluck("chat_sessions.comment_id", &ids).Error
	if err != nil {
		return nil, translateError(err, "chat session")
	}
	return ids, nil
}
