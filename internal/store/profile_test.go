package store

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/ebanchero/pupila/internal/config"
)

func testProfile(name string) *Profile {
	settings := config.DefaultSettings(960, 540, -10, 60)
	settings.Threshold = [2]int{84, 91}
	settings.Erode = [2]int{1, 2}
	settings.FixedROI[config.EyeRight] = config.ROI{X1: 20, Y1: 28, X2: 80, Y2: 68}
	settings.FixedROI[config.EyeLeft] = config.ROI{X1: 200, Y1: 32, X2: 260, Y2: 72}

	return &Profile{
		ID:       uuid.NewString(),
		Name:     name,
		Settings: settings,
	}
}

func TestProfiles_CreateAndGet(t *testing.T) {
	s := newTestStore(t)

	p := testProfile("patient-a")
	if err := s.Profiles().Create(p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Profiles().GetByID(p.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Name != "patient-a" {
		t.Errorf("name = %q, want %q", got.Name, "patient-a")
	}
	if got.Settings != p.Settings {
		t.Errorf("settings round trip:\n got %+v\nwant %+v", got.Settings, p.Settings)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps should be set on create")
	}
}

func TestProfiles_GetByName(t *testing.T) {
	s := newTestStore(t)

	p := testProfile("calibration-room-2")
	if err := s.Profiles().Create(p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Profiles().GetByName("calibration-room-2")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("id = %q, want %q", got.ID, p.ID)
	}

	if _, err := s.Profiles().GetByName("nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByName(nonexistent) = %v, want ErrNotFound", err)
	}
}

func TestProfiles_DuplicateNameRejected(t *testing.T) {
	s := newTestStore(t)

	if err := s.Profiles().Create(testProfile("dup")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Profiles().Create(testProfile("dup")); err == nil {
		t.Error("second create with the same name should fail")
	}
}

func TestProfiles_Update(t *testing.T) {
	s := newTestStore(t)

	p := testProfile("tweakable")
	if err := s.Profiles().Create(p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	p.Settings.Threshold[config.EyeRight] = 120
	p.Settings.UseModel = false
	if err := s.Profiles().Update(p); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := s.Profiles().GetByID(p.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Settings.Threshold[config.EyeRight] != 120 {
		t.Errorf("threshold = %d, want 120", got.Settings.Threshold[config.EyeRight])
	}
	if got.Settings.UseModel {
		t.Error("use_model should have been persisted as false")
	}

	missing := testProfile("missing")
	if err := s.Profiles().Update(missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) = %v, want ErrNotFound", err)
	}
}

func TestProfiles_ListAndDelete(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"one", "two", "three"} {
		if err := s.Profiles().Create(testProfile(name)); err != nil {
			t.Fatalf("Create %s: %v", name, err)
		}
	}

	profiles, err := s.Profiles().List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(profiles) != 3 {
		t.Fatalf("listed %d profiles, want 3", len(profiles))
	}

	if err := s.Profiles().Delete(profiles[0].ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Profiles().Delete(profiles[0].ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}

	profiles, err = s.Profiles().List()
	if err != nil {
		t.Fatalf("List after delete: %v", err)
	}
	if len(profiles) != 2 {
		t.Errorf("listed %d profiles after delete, want 2", len(profiles))
	}
}
