package store

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/pkg/errors"
	"github.com/pairreview/pairreview/pkg/idgen"
)

// CouncilStore defines operations for named voice plans.
type CouncilStore interface {
	Create(council *model.Council) error
	GetByID(id string) (*model.Council, error)
	// List returns councils in MRU order: most recently used first, never-used
	// councils last by update time.
	List() ([]model.Council, error)
	Update(council *model.Council) error
	Delete(id string) error
	// Touch stamps last_used_at for MRU ordering
	Touch(id string) error
}

// councilStore implements CouncilStore using GORM.
type councilStore struct {
	db *gorm.DB
}

func newCouncilStore(db *gorm.DB) CouncilStore {
	return &councilStore{db: db}
}

func (s *councilStore) Create(council *model.Council) error {
	if council.Name == "" {
		return errors.ErrValidation("name is required")
	}
	if err := validateCouncilConfig(council.Config); err != nil {
		return err
	}
	if council.ID == "" {
		council.ID = idgen.NewID()
	}
	if council.Type == "" {
		council.Type = model.CouncilTypeCouncil
	}
	return translateError(s.db.Create(council).Error, "council")
}

func validateCouncilConfig(raw string) error {
	if raw == "" {
		return errors.ErrValidation("config is required")
	}
	var cfg model.CouncilConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return errors.ErrValidation("config is not valid JSON")
	}
	return nil
}

func (s *councilStore) GetByID(id string) (*model.Council, error) {
	var council model.Council
	if err := s.db.First(&council, "id = ?", id).Error; err != nil {
		return nil, translateError(err, "council")
	}
	return &council, nil
}

func (s *councilStore) List() ([]model.Council, error) {
	var councils []model.Council
	err := s.db.Order("last_used_at IS NULL, last_used_at DESC, updated_at DESC").
		Find(&councils).Error
	if err != nil {
		return nil, translateError(err, "council")
	}
	return councils, nil
}

func (s *councilStore) Update(council *model.Council) error {
	if err := validateCouncilConfig(council.Config); err != nil {
		return err
	}
	result := s.db.Model(&model.Council{}).Where("id = ?", council.ID).Updates(map[string]interface{}{
		"name":   council.Name,
		"type":   council.Type,
		"config": council.Config,
	})
	if result.Error != nil {
		return translateError(result.Error, "council")
	}
	if result.RowsAffected == 0 {
		return errors.ErrNotFound("council")
	}
	return nil
}

func (s *councilStore) Delete(id string) error {
	result := s.db.Delete(&model.Council{}, "id = ?", id)
	if result.Error != nil {
		return translateError(result.Error, "council")
	}
	if result.RowsAffected == 0 {
		return errors.ErrNotFound("council")
	}
	return nil
}

func (s *councilStore) Touch(id string) error {
	result := s.db.Model(&model.Council{}).Where("id = ?", id).
		Update("last_used_at", time.Now().UTC())
	if result.Error != nil {
		return translateError(result.Error, "council")
	}
	if result.RowsAffected == 0 {
		return errors.ErrNotFound("council")
	}
	return nil
}
