package store

import (
	"testing"
	"time"

	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/pkg/errors"
)

const testCouncilConfig = `{
	"1": {"enabled": true, "voices": [
		{"provider": "claude", "model": "sonnet"},
		{"provider": "codex", "tier": "thorough"}
	]},
	"4": {"enabled": true, "voices": [{"provider": "claude", "model": "opus"}]}
}`

// TestCouncilStore_CreateAndParse tests creation with config validation
func TestCouncilStore_CreateAndParse(t *testing.T) {
	store, cleanup := SetupTestDB(t)
	defer cleanup()

	council := &model.Council{Name: "deep review", Config: testCouncilConfig}
	if err := store.Council().Create(council); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if council.ID == "" {
		t.Error("Expected a generated council id")
	}
	if council.Type != model.CouncilTypeCouncil {
		t.Errorf("Expected default type council, got %s", council.Type)
	}

	cfg, err := council.ParseConfig()
	if err != nil {
		t.Fatalf("ParseConfig() failed: %v", err)
	}
	if len(cfg["1"].Voices) != 2 {
		t.Errorf("Expected 2 voices on level 1, got %d", len(cfg["1"].Voices))
	}

	// Invalid JSON is rejected up front
	err = store.Council().Create(&model.Council{Name: "bad", Config: "{not json"})
	if !errors.IsCode(err, errors.ErrCodeValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
	err = store.Council().Create(&model.Council{Config: testCouncilConfig})
	if !errors.IsCode(err, errors.ErrCodeValidation) {
		t.Errorf("Expected validation error for missing name, got %v", err)
	}
}

// TestCouncilStore_List_MRU tests most-recently-used ordering
func TestCouncilStore_List_MRU(t *testing.T) {
	store, cleanup := SetupTestDB(t)
	defer cleanup()

	a := &model.Council{Name: "a", Config: testCouncilConfig}
	b := &model.Council{Name: "b", Config: testCouncilConfig}
	c := &model.Council{Name: "c", Config: testCouncilConfig}
	for _, council := range []*model.Council{a, b, c} {
		if err := store.Council().Create(council); err != nil {
			t.Fatalf("Create() failed: %v", err)
		}
	}

	// Use b, then a; c stays never-used
	if err := store.Council().Touch(b.ID); err != nil {
		t.Fatalf("Touch() failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := store.Council().Touch(a.ID); err != nil {
		t.Fatalf("Touch() failed: %v", err)
	}

	councils, err := store.Council().List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(councils) != 3 {
		t.Fatalf("Expected 3 councils, got %d", len(councils))
	}
	if councils[0].ID != a.ID || councils[1].ID != b.ID || councils[2].ID != c.ID {
		t.Errorf("Expected MRU order a,b,c-unused; got %s,%s,%s",
			councils[0].Name, councils[1].Name, councils[2].Name)
	}
}

// TestCouncilStore_UpdateAndDelete tests the remaining CRUD paths
func TestCouncilStore_UpdateAndDelete(t *testing.T) {
	store, cleanup := SetupTestDB(t)
	defer cleanup()

	council := &model.Council{Name: "orig", Config: testCouncilConfig}
	if err := store.Council().Create(council); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	council.Name = "renamed"
	council.Type = model.CouncilTypeAdvanced
	if err := store.Council().Update(council); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	got, err := store.Council().GetByID(council.ID)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if got.Name != "renamed" || got.Type != model.CouncilTypeAdvanced {
		t.Errorf("Expected renamed/advanced, got %s/%s", got.Name, got.Type)
	}

	if err := store.Council().Delete(council.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := store.Council().GetByID(council.ID); !errors.IsCode(err, errors.ErrCodeNotFound) {
		t.Errorf("Expected not-found after delete, got %v", err)
	}
	if err := store.Council().Touch(council.ID); !errors.IsCode(err, errors.ErrCodeNotFound) {
		t.Errorf("Expected not-found touch, got %v", err)
	}
}
