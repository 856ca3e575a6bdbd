package device

import (
	"context"
	"errors"
	"testing"
)

// seedDevice inserts a device and returns its UUID.
func seedDevice(t *testing.T, repo Repository, deviceID int) string {
	t.Helper()
	dev := testDevice(deviceID, "192.168.1.10:47808")
	if _, err := repo.Upsert(context.Background(), dev); err != nil {
		t.Fatalf("seeding device: %v", err)
	}
	return dev.ID
}

func strPtr(s string) *string { return &s }

func TestSQLitePointRepository_Upsert(t *testing.T) {
	db := setupTestDB(t)
	devID := seedDevice(t, NewSQLiteRepository(db), 2001)
	repo := NewSQLitePointRepository(db)
	ctx := context.Background()

	t.Run("inserts new point with derived category", func(t *testing.T) {
		p := &Point{
			DeviceID:       devID,
			ObjectType:     ObjectAnalogInput,
			InstanceNumber: 3,
			Name:           strPtr("Zone Temp"),
			Units:          strPtr("degreesCelsius"),
		}

		created, err := repo.Upsert(ctx, p)
		if err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if !created {
			t.Error("created = false, want true")
		}
		if p.Category != CategoryAnalog {
			t.Errorf("Category = %q, want %q", p.Category, CategoryAnalog)
		}

		got, err := repo.GetByID(ctx, p.ID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.Identifier() != "analogInput:3" {
			t.Errorf("Identifier() = %q, want %q", got.Identifier(), "analogInput:3")
		}
		if got.Units == nil || *got.Units != "degreesCelsius" {
			t.Errorf("Units = %v, want degreesCelsius", got.Units)
		}
	})

	t.Run("rebuild is idempotent and refreshes metadata", func(t *testing.T) {
		first := &Point{
			DeviceID:       devID,
			ObjectType:     ObjectBinaryInput,
			InstanceNumber: 7,
			Name:           strPtr("Fan Status"),
		}
		if _, err := repo.Upsert(ctx, first); err != nil {
			t.Fatalf("first Upsert() error = %v", err)
		}

		second := &Point{
			DeviceID:       devID,
			ObjectType:     ObjectBinaryInput,
			InstanceNumber: 7,
			Name:           strPtr("Supply Fan Status"),
		}
		created, err := repo.Upsert(ctx, second)
		if err != nil {
			t.Fatalf("second Upsert() error = %v", err)
		}
		if created {
			t.Error("created = true, want false on rebuild")
		}
		if second.ID != first.ID {
			t.Errorf("ID = %q, want stable UUID %q", second.ID, first.ID)
		}

		got, err := repo.GetByID(ctx, first.ID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.Name == nil || *got.Name != "Supply Fan Status" {
			t.Errorf("Name = %v, want refreshed %q", got.Name, "Supply Fan Status")
		}
	})

	t.Run("unknown object type classifies as generic", func(t *testing.T) {
		p := &Point{
			DeviceID:       devID,
			ObjectType:     ObjectType("proprietaryWidget"),
			InstanceNumber: 1,
		}
		if _, err := repo.Upsert(ctx, p); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if p.Category != CategoryGeneric {
			t.Errorf("Category = %q, want %q", p.Category, CategoryGeneric)
		}
	})
}

func TestSQLitePointRepository_ListByDevice(t *testing.T) {
	db := setupTestDB(t)
	devID := seedDevice(t, NewSQLiteRepository(db), 2101)
	repo := NewSQLitePointRepository(db)
	ctx := context.Background()

	// Insert out of order; listing must come back grouped by category
	// then ordered by instance.
	points := []*Point{
		{DeviceID: devID, ObjectType: ObjectBinaryInput, InstanceNumber: 2},
		{DeviceID: devID, ObjectType: ObjectAnalogInput, InstanceNumber: 5},
		{DeviceID: devID, ObjectType: ObjectAnalogInput, InstanceNumber: 1},
	}
	for _, p := range points {
		if _, err := repo.Upsert(ctx, p); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	got, err := repo.ListByDevice(ctx, devID)
	if err != nil {
		t.Fatalf("ListByDevice() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Identifier() != "analogInput:1" {
		t.Errorf("first point = %q, want analogInput:1", got[0].Identifier())
	}
	if got[1].Identifier() != "analogInput:5" {
		t.Errorf("second point = %q, want analogInput:5", got[1].Identifier())
	}
	if got[2].Identifier() != "binaryInput:2" {
		t.Errorf("third point = %q, want binaryInput:2", got[2].Identifier())
	}

	count, err := repo.CountByDevice(ctx, devID)
	if err != nil {
		t.Fatalf("CountByDevice() error = %v", err)
	}
	if count != 3 {
		t.Errorf("CountByDevice() = %d, want 3", count)
	}
}

func TestSQLitePointRepository_GetByID_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLitePointRepository(db)

	_, err := repo.GetByID(context.Background(), "no-such-point")
	if !errors.Is(err, ErrPointNotFound) {
		t.Errorf("GetByID() error = %v, want ErrPointNotFound", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		objectType ObjectType
		want       Category
	}{
		{ObjectAnalogInput, CategoryAnalog},
		{ObjectAnalogOutput, CategoryAnalog},
		{ObjectAnalogValue, CategoryAnalog},
		{ObjectBinaryInput, CategoryBinary},
		{ObjectBinaryOutput, CategoryBinary},
		{ObjectBinaryValue, CategoryBinary},
		{ObjectMultiStateInput, CategoryMultiState},
		{ObjectMultiStateOutput, CategoryMultiState},
		{ObjectMultiStateValue, CategoryMultiState},
		{ObjectType("loop"), CategoryGeneric},
		{ObjectDevice, CategoryGeneric},
	}

	for _, tt := range tests {
		t.Run(string(tt.objectType), func(t *testing.T) {
			if got := Classify(tt.objectType); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.objectType, got, tt.want)
			}
		})
	}
}

func TestObjectType_IsReadable(t *testing.T) {
	if !ObjectAnalogInput.IsReadable() {
		t.Error("analogInput should be readable")
	}
	if ObjectDevice.IsReadable() {
		t.Error("device object should not be readable")
	}
	if ObjectType("trendLog").IsReadable() {
		t.Error("trendLog should not be readable")
	}
}
