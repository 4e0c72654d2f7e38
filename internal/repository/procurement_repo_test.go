package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storekeeper/storekeeper/internal/models"
	"github.com/storekeeper/storekeeper/internal/testutil"
	"github.com/storekeeper/storekeeper/internal/util"
)

func setupProcurementTest(t *testing.T) (*testutil.TestDB, *ProcurementRepository) {
	t.Helper()

	db := testutil.NewTestDB(t)
	return db, NewProcurementRepository(db.DB.DB)
}

func fixtureLog(item *models.InventoryItem, qty int, price, supplier string, purchased time.Time, prID *string) *models.ProcurementLog {
	unit := decimal.RequireFromString(price)
	return &models.ProcurementLog{
		ID:                util.NewID(),
		PurchaseRequestID: prID,
		InventoryItemID:   item.ID,
		Quantity:          qty,
		UnitPrice:         unit,
		TotalAmount:       unit.Mul(decimal.NewFromInt(int64(qty))),
		SupplierName:      supplier,
		PurchaseDate:      purchased,
		LoggedBy:          "proc-1",
	}
}

func TestProcurementRepository_CreateAndHistory(t *testing.T) {
	db, repo := setupProcurementTest(t)
	ctx := context.Background()

	toner := testutil.InsertItem(t, db)
	paper := testutil.InsertItem(t, db)
	prs := NewPurchaseRequestRepository(db.DB.DB)
	pr := testutil.FixturePurchaseRequest("u-1", "PR-2026-0001", toner, paper)
	if err := prs.Create(ctx, nil, pr); err != nil {
		t.Fatalf("failed to create purchase request: %v", err)
	}

	day := func(d int) time.Time {
		return time.Date(2026, time.March, d, 0, 0, 0, 0, time.UTC)
	}
	logs := []*models.ProcurementLog{
		fixtureLog(toner, 2, "2.50", "Acme Supplies", day(1), &pr.ID),
		fixtureLog(paper, 1, "2.50", "Acme Supplies", day(3), &pr.ID),
		fixtureLog(toner, 5, "3.10", "Office_Depot", day(10), nil),
	}
	for _, l := range logs {
		if err := repo.Create(ctx, nil, l); err != nil {
			t.Fatalf("failed to create procurement log: %v", err)
		}
	}

	from, to := day(1), day(3)
	tests := []struct {
		name   string
		filter models.ProcurementFilter
		want   int
	}{
		{"All", models.ProcurementFilter{}, 3},
		{"Item", models.ProcurementFilter{InventoryItemID: toner.ID}, 2},
		{"Request", models.ProcurementFilter{PurchaseRequestID: pr.ID}, 2},
		{"Supplier substring", models.ProcurementFilter{Supplier: "acme"}, 2},
		{"Underscore is literal", models.ProcurementFilter{Supplier: "e_D"}, 1},
		{"Purchase date range inclusive", models.ProcurementFilter{Range: models.DateRange{From: &from, To: &to}}, 2},
		{"Open-ended range", models.ProcurementFilter{Range: models.DateRange{From: &to}}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := repo.History(ctx, tt.filter, models.DefaultPagination())
			if err != nil {
				t.Fatalf("failed to list history: %v", err)
			}
			if list.Total != tt.want || len(list.Logs) != tt.want {
				t.Errorf("expected %d, got total %d with %d rows", tt.want, list.Total, len(list.Logs))
			}
		})
	}

	t.Run("Latest purchase first", func(t *testing.T) {
		list, err := repo.History(ctx, models.ProcurementFilter{}, models.DefaultPagination())
		if err != nil {
			t.Fatalf("failed to list history: %v", err)
		}
		if list.Logs[0].ID != logs[2].ID {
			t.Error("expected most recent purchase date first")
		}
		if list.Logs[0].Item == nil || list.Logs[0].Item.ID != toner.ID {
			t.Error("expected inventory item to be attached")
		}
		if !list.Logs[0].PurchaseDate.Equal(day(10)) {
			t.Errorf("expected purchase date %v, got %v", day(10), list.Logs[0].PurchaseDate)
		}
	})

	t.Run("By request", func(t *testing.T) {
		linked, err := repo.ByRequest(ctx, pr.ID)
		if err != nil {
			t.Fatalf("failed to list by request: %v", err)
		}
		if len(linked) != 2 || linked[0].ID != logs[0].ID {
			t.Errorf("expected two linked logs oldest first, got %d", len(linked))
		}
	})

	t.Run("Recent", func(t *testing.T) {
		recent, err := repo.Recent(ctx, 1)
		if err != nil {
			t.Fatalf("failed to list recent: %v", err)
		}
		if len(recent) != 1 || recent[0].ID != logs[2].ID {
			t.Error("expected the last logged procurement")
		}
	})

	t.Run("Quantities for request", func(t *testing.T) {
		extra := fixtureLog(toner, 3, "2.50", "Acme Supplies", day(4), &pr.ID)
		if err := repo.Create(ctx, nil, extra); err != nil {
			t.Fatalf("failed to create procurement log: %v", err)
		}

		got, err := repo.QuantitiesForRequest(ctx, nil, pr.ID)
		if err != nil {
			t.Fatalf("failed to sum quantities: %v", err)
		}
		if got[toner.ID] != 5 || got[paper.ID] != 1 {
			t.Errorf("unexpected quantities %v", got)
		}
	})
}

func TestProcurementRepository_Statistics(t *testing.T) {
	db, repo := setupProcurementTest(t)
	ctx := context.Background()

	t.Run("Empty", func(t *testing.T) {
		stats, err := repo.Statistics(ctx, models.DateRange{})
		if err != nil {
			t.Fatalf("failed to compute statistics: %v", err)
		}
		if stats.TotalProcurements != 0 || !stats.TotalAmount.IsZero() || !stats.AverageProcurementValue.IsZero() {
			t.Errorf("expected zero statistics, got %+v", *stats)
		}
	})

	item := testutil.InsertItem(t, db)
	other := testutil.InsertItem(t, db)
	purchased := time.Date(2026, time.April, 2, 0, 0, 0, 0, time.UTC)
	for _, l := range []*models.ProcurementLog{
		fixtureLog(item, 1, "10.00", "Acme", purchased, nil),
		fixtureLog(item, 2, "10.00", "Acme", purchased, nil),
		fixtureLog(other, 1, "0.01", "Globex", purchased, nil),
	} {
		if err := repo.Create(ctx, nil, l); err != nil {
			t.Fatalf("failed to create procurement log: %v", err)
		}
	}

	stats, err := repo.Statistics(ctx, models.DateRange{})
	if err != nil {
		t.Fatalf("failed to compute statistics: %v", err)
	}

	if stats.TotalProcurements != 3 || stats.TotalItemsProcured != 4 {
		t.Errorf("unexpected counts %+v", *stats)
	}
	if stats.UniqueItems != 2 || stats.UniqueSuppliers != 2 || stats.LinkedToRequests != 0 {
		t.Errorf("unexpected distinct counts %+v", *stats)
	}
	if !stats.TotalAmount.Equal(decimal.RequireFromString("30.01")) {
		t.Errorf("expected total 30.01, got %s", stats.TotalAmount)
	}
	if !stats.AverageProcurementValue.Equal(decimal.RequireFromString("10")) {
		t.Errorf("expected average 10.00, got %s", stats.AverageProcurementValue)
	}
}
