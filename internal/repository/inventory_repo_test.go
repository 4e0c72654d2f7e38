package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storekeeper/storekeeper/internal/apperr"
	"github.com/storekeeper/storekeeper/internal/models"
	"github.com/storekeeper/storekeeper/internal/testutil"
	"github.com/storekeeper/storekeeper/internal/util"
)

func setupInventoryTest(t *testing.T) (*testutil.TestDB, *InventoryRepository) {
	t.Helper()

	db := testutil.NewTestDB(t)
	return db, NewInventoryRepository(db.DB.DB)
}

func TestInventoryRepository_Create(t *testing.T) {
	db, repo := setupInventoryTest(t)
	ctx := context.Background()

	t.Run("Create and read back", func(t *testing.T) {
		item := testutil.FixtureItem(func(i *models.InventoryItem) {
			i.UnitPrice = decimal.RequireFromString("12.345")
		})

		if err := repo.Create(ctx, nil, item); err != nil {
			t.Fatalf("failed to create item: %v", err)
		}

		found, err := repo.Get(ctx, nil, item.ID)
		if err != nil {
			t.Fatalf("failed to get item: %v", err)
		}
		if found.Code != item.Code || found.Name != item.Name {
			t.Errorf("expected %s/%s, got %s/%s", item.Code, item.Name, found.Code, found.Name)
		}
		if !found.UnitPrice.Equal(item.UnitPrice) {
			t.Errorf("expected price %s, got %s", item.UnitPrice, found.UnitPrice)
		}
		if found.Levels() != item.Levels() {
			t.Errorf("expected levels %+v, got %+v", item.Levels(), found.Levels())
		}
		if !found.IsActive {
			t.Error("expected item to be active")
		}
	})

	t.Run("Duplicate code is a conflict", func(t *testing.T) {
		first := testutil.InsertItem(t, db)
		dup := testutil.FixtureItem(func(i *models.InventoryItem) { i.Code = first.Code })

		err := repo.Create(ctx, nil, dup)
		if !errors.Is(err, apperr.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("Schema rejects over-committed levels", func(t *testing.T) {
		bad := testutil.FixtureItem(testutil.WithStock(5, 4, 3))
		if err := repo.Create(ctx, nil, bad); err == nil {
			t.Error("expected CHECK constraint failure")
		}
	})
}

func TestInventoryRepository_Get(t *testing.T) {
	db, repo := setupInventoryTest(t)
	ctx := context.Background()

	item := testutil.InsertItem(t, db)

	t.Run("By code", func(t *testing.T) {
		found, err := repo.GetByCode(ctx, item.Code)
		if err != nil {
			t.Fatalf("failed to get by code: %v", err)
		}
		if found.ID != item.ID {
			t.Errorf("expected ID %s, got %s", item.ID, found.ID)
		}
	})

	t.Run("Missing item", func(t *testing.T) {
		_, err := repo.Get(ctx, nil, util.NewID())
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Inside a transaction", func(t *testing.T) {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			t.Fatalf("failed to begin transaction: %v", err)
		}
		defer tx.Rollback()

		found, err := repo.Get(ctx, tx, item.ID)
		if err != nil {
			t.Fatalf("failed to get within transaction: %v", err)
		}
		if found.ID != item.ID {
			t.Errorf("expected ID %s, got %s", item.ID, found.ID)
		}
	})

	t.Run("Many", func(t *testing.T) {
		other := testutil.InsertItem(t, db)
		got, err := repo.GetMany(ctx, nil, []string{item.ID, other.ID, util.NewID()})
		if err != nil {
			t.Fatalf("failed to get many: %v", err)
		}
		if len(got) != 2 || got[item.ID] == nil || got[other.ID] == nil {
			t.Errorf("expected both items, got %d", len(got))
		}
	})
}

func TestInventoryRepository_List(t *testing.T) {
	db, repo := setupInventoryTest(t)
	ctx := context.Background()

	testutil.InsertItem(t, db, func(i *models.InventoryItem) {
		i.Name = "Blue pens"
		i.Category = "Stationery"
	})
	testutil.InsertItem(t, db, func(i *models.InventoryItem) {
		i.Name = "A4 paper"
		i.Category = "Stationery"
	})
	testutil.InsertItem(t, db, func(i *models.InventoryItem) {
		i.Name = "Bleach"
		i.Category = "Cleaning"
		i.TotalStock, i.AvailableStock = 0, 0
	})
	testutil.InsertItem(t, db, func(i *models.InventoryItem) {
		i.Name = "100% cotton rags"
		i.Category = "Cleaning"
		i.IsActive = false
	})

	tests := []struct {
		name   string
		filter models.ItemFilter
		want   []string
	}{
		{"All ordered by name", models.ItemFilter{}, []string{"100% cotton rags", "A4 paper", "Bleach", "Blue pens"}},
		{"Category", models.ItemFilter{Category: "Stationery"}, []string{"A4 paper", "Blue pens"}},
		{"Search", models.ItemFilter{Search: "bl"}, []string{"Bleach", "Blue pens"}},
		{"Search escapes wildcards", models.ItemFilter{Search: "100%"}, []string{"100% cotton rags"}},
		{"Active only", models.ItemFilter{ActiveOnly: true}, []string{"A4 paper", "Bleach", "Blue pens"}},
		{"In stock only", models.ItemFilter{InStockOnly: true, ActiveOnly: true}, []string{"A4 paper", "Blue pens"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := repo.List(ctx, tt.filter, models.DefaultPagination())
			if err != nil {
				t.Fatalf("failed to list: %v", err)
			}
			if list.Total != len(tt.want) {
				t.Fatalf("expected total %d, got %d", len(tt.want), list.Total)
			}
			for i, item := range list.Items {
				if item.Name != tt.want[i] {
					t.Errorf("position %d: expected %q, got %q", i, tt.want[i], item.Name)
				}
			}
		})
	}

	t.Run("Pagination", func(t *testing.T) {
		list, err := repo.List(ctx, models.ItemFilter{}, models.Pagination{Page: 2, PageSize: 3})
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(list.Items) != 1 || list.Page != 2 || list.TotalPages != 2 {
			t.Errorf("unexpected page: %d items, page %d of %d", len(list.Items), list.Page, list.TotalPages)
		}
	})

	t.Run("Categories", func(t *testing.T) {
		cats, err := repo.Categories(ctx)
		if err != nil {
			t.Fatalf("failed to list categories: %v", err)
		}
		if len(cats) != 2 || cats[0] != "Cleaning" || cats[1] != "Stationery" {
			t.Errorf("unexpected categories %v", cats)
		}
	})

	t.Run("Low and out of stock skip inactive items", func(t *testing.T) {
		low, err := repo.LowStock(ctx, 10)
		if err != nil {
			t.Fatalf("failed to list low stock: %v", err)
		}
		if len(low) != 3 || low[0].Name != "Bleach" {
			t.Errorf("expected Bleach first of 3 low stock items, got %d", len(low))
		}

		out, err := repo.OutOfStock(ctx)
		if err != nil {
			t.Fatalf("failed to list out of stock: %v", err)
		}
		if len(out) != 1 || out[0].Name != "Bleach" {
			t.Errorf("expected only Bleach out of stock, got %d", len(out))
		}
	})
}

func TestInventoryRepository_UpdateLevels(t *testing.T) {
	db, repo := setupInventoryTest(t)
	ctx := context.Background()

	item := testutil.InsertItem(t, db, testutil.WithStock(10, 10, 0))
	from := item.Levels()
	to := models.StockLevels{Total: 10, Available: 7, Reserved: 3}

	t.Run("Applies when levels match", func(t *testing.T) {
		if err := repo.UpdateLevels(ctx, nil, item.ID, from, to, nil, nil); err != nil {
			t.Fatalf("failed to update levels: %v", err)
		}
		if got := testutil.ItemLevels(t, db, item.ID); got != to {
			t.Errorf("expected %+v, got %+v", to, got)
		}
	})

	t.Run("Stale snapshot is refused", func(t *testing.T) {
		err := repo.UpdateLevels(ctx, nil, item.ID, from, to, nil, nil)
		if !errors.Is(err, ErrStaleLevels) {
			t.Errorf("expected ErrStaleLevels, got %v", err)
		}
	})

	t.Run("Price and restock stamp", func(t *testing.T) {
		price := decimal.RequireFromString("3.10")
		now := time.Now().UTC()
		next := models.StockLevels{Total: 15, Available: 12, Reserved: 3}

		if err := repo.UpdateLevels(ctx, nil, item.ID, to, next, &price, &now); err != nil {
			t.Fatalf("failed to update levels: %v", err)
		}

		found, err := repo.Get(ctx, nil, item.ID)
		if err != nil {
			t.Fatalf("failed to get item: %v", err)
		}
		if !found.UnitPrice.Equal(price) {
			t.Errorf("expected price %s, got %s", price, found.UnitPrice)
		}
		if found.LastRestocked == nil {
			t.Error("expected last restocked to be set")
		}
	})
}

func TestInventoryRepository_Movements(t *testing.T) {
	db, repo := setupInventoryTest(t)
	ctx := context.Background()

	item := testutil.InsertItem(t, db)
	refType, refID := models.RefRequisition, util.NewID()
	actor := "u-1"

	for _, m := range []struct {
		kind models.MovementType
		qty  int
	}{
		{models.MovementReserve, 4},
		{models.MovementRelease, 1},
		{models.MovementComplete, 3},
	} {
		err := repo.InsertMovement(ctx, nil, &models.StockMovement{
			ID:              util.NewID(),
			InventoryItemID: item.ID,
			Type:            m.kind,
			Quantity:        m.qty,
			ReferenceType:   &refType,
			ReferenceID:     &refID,
			ActorID:         &actor,
		})
		if err != nil {
			t.Fatalf("failed to insert movement: %v", err)
		}
	}

	t.Run("List newest first", func(t *testing.T) {
		list, err := repo.ListMovements(ctx, models.MovementFilter{InventoryItemID: item.ID}, models.DefaultPagination())
		if err != nil {
			t.Fatalf("failed to list movements: %v", err)
		}
		if list.Total != 3 {
			t.Fatalf("expected 3 movements, got %d", list.Total)
		}
		if list.Movements[0].Type != models.MovementComplete {
			t.Errorf("expected complete first, got %s", list.Movements[0].Type)
		}
		if list.Movements[0].ActorID == nil || *list.Movements[0].ActorID != actor {
			t.Error("expected actor to round trip")
		}
	})

	t.Run("Totals per reference", func(t *testing.T) {
		totals, err := repo.MovementTotals(ctx, models.Reference{Type: refType, ID: refID}, item.ID)
		if err != nil {
			t.Fatalf("failed to sum movements: %v", err)
		}
		if totals[models.MovementReserve] != 4 || totals[models.MovementRelease] != 1 || totals[models.MovementComplete] != 3 {
			t.Errorf("unexpected totals %v", totals)
		}
	})

	t.Run("Movements count as references", func(t *testing.T) {
		n, err := repo.References(ctx, nil, item.ID)
		if err != nil {
			t.Fatalf("failed to count references: %v", err)
		}
		if n != 3 {
			t.Errorf("expected 3 references, got %d", n)
		}
		if err := repo.Delete(ctx, nil, item.ID); err == nil {
			t.Error("expected delete of an item with history to fail")
		}
		db.AssertRowCount(t, "stock_movements", 3)
	})
}

func TestInventoryRepository_References(t *testing.T) {
	db, repo := setupInventoryTest(t)
	ctx := context.Background()

	item := testutil.InsertItem(t, db)

	n, err := repo.References(ctx, nil, item.ID)
	if err != nil || n != 0 {
		t.Fatalf("expected no references, got %d, %v", n, err)
	}

	req := testutil.FixtureRequisition("u-1")
	reqs := NewRequisitionRepository(db.DB.DB)
	if err := reqs.Create(ctx, nil, req); err != nil {
		t.Fatalf("failed to create requisition: %v", err)
	}
	if err := reqs.AddItem(ctx, nil, &models.RequisitionItem{
		ID: util.NewID(), RequisitionID: req.ID, InventoryItemID: item.ID, Quantity: 1,
	}); err != nil {
		t.Fatalf("failed to add requisition item: %v", err)
	}

	if n, err = repo.References(ctx, nil, item.ID); err != nil || n != 1 {
		t.Errorf("expected 1 reference, got %d, %v", n, err)
	}

	spare := testutil.InsertItem(t, db)
	if err := repo.Delete(ctx, nil, spare.ID); err != nil {
		t.Fatalf("failed to delete unreferenced item: %v", err)
	}
	if err := repo.Delete(ctx, nil, spare.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}

	if err := repo.SetActive(ctx, nil, item.ID, false); err != nil {
		t.Fatalf("failed to deactivate: %v", err)
	}
	found, _ := repo.Get(ctx, nil, item.ID)
	if found.IsActive {
		t.Error("expected item to be inactive")
	}
}
