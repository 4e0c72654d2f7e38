package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/storekeeper/storekeeper/internal/apperr"
	"github.com/storekeeper/storekeeper/internal/models"
	"github.com/storekeeper/storekeeper/internal/testutil"
	"github.com/storekeeper/storekeeper/internal/util"
)

func setupRequisitionTest(t *testing.T) (*testutil.TestDB, *RequisitionRepository) {
	t.Helper()

	db := testutil.NewTestDB(t)
	return db, NewRequisitionRepository(db.DB.DB)
}

func insertRequisition(t *testing.T, repo *RequisitionRepository, requester string, items map[*models.InventoryItem]int, overrides ...func(*models.Requisition)) *models.Requisition {
	t.Helper()
	ctx := context.Background()

	req := testutil.FixtureRequisition(requester, overrides...)
	if err := repo.Create(ctx, nil, req); err != nil {
		t.Fatalf("failed to create requisition: %v", err)
	}
	for item, qty := range items {
		line := &models.RequisitionItem{
			ID:              util.NewID(),
			RequisitionID:   req.ID,
			InventoryItemID: item.ID,
			Quantity:        qty,
			Purpose:         "Daily use",
		}
		if err := repo.AddItem(ctx, nil, line); err != nil {
			t.Fatalf("failed to add requisition item: %v", err)
		}
	}
	return req
}

func TestRequisitionRepository_CreateAndGet(t *testing.T) {
	db, repo := setupRequisitionTest(t)
	ctx := context.Background()

	pens := testutil.InsertItem(t, db)
	paper := testutil.InsertItem(t, db)
	req := insertRequisition(t, repo, "u-1", map[*models.InventoryItem]int{pens: 2, paper: 5})

	found, err := repo.Get(ctx, nil, req.ID)
	if err != nil {
		t.Fatalf("failed to get requisition: %v", err)
	}

	if found.Status != models.RequisitionPending || found.CollectionStatus != models.CollectionPending {
		t.Errorf("unexpected states %s/%s", found.Status, found.CollectionStatus)
	}
	if len(found.Items) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(found.Items))
	}
	if found.TotalQuantity() != 7 {
		t.Errorf("expected total quantity 7, got %d", found.TotalQuantity())
	}
	for _, line := range found.Items {
		if line.Item == nil || line.Item.ID != line.InventoryItemID {
			t.Errorf("line %s missing its inventory item", line.ID)
		}
	}

	t.Run("Missing requisition", func(t *testing.T) {
		_, err := repo.Get(ctx, nil, util.NewID())
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Line referencing unknown item is rejected", func(t *testing.T) {
		err := repo.AddItem(ctx, nil, &models.RequisitionItem{
			ID:              util.NewID(),
			RequisitionID:   req.ID,
			InventoryItemID: util.NewID(),
			Quantity:        1,
		})
		if err == nil {
			t.Error("expected foreign key failure")
		}
	})
}

func TestRequisitionRepository_Update(t *testing.T) {
	db, repo := setupRequisitionTest(t)
	ctx := context.Background()

	item := testutil.InsertItem(t, db)
	req := insertRequisition(t, repo, "u-1", map[*models.InventoryItem]int{item: 1})

	approver := "u-2"
	now := time.Now().UTC()
	req.Status = models.RequisitionApproved
	req.ApprovedBy = &approver
	req.ApprovalDate = &now

	if err := repo.Update(ctx, nil, req); err != nil {
		t.Fatalf("failed to update requisition: %v", err)
	}

	found, err := repo.Get(ctx, nil, req.ID)
	if err != nil {
		t.Fatalf("failed to get requisition: %v", err)
	}
	if found.Status != models.RequisitionApproved {
		t.Errorf("expected approved, got %s", found.Status)
	}
	if found.ApprovedBy == nil || *found.ApprovedBy != approver {
		t.Error("expected approver to be stored")
	}
	if found.ApprovalDate == nil || !found.ApprovalDate.Equal(now.Truncate(time.Microsecond)) {
		t.Errorf("expected approval date %v, got %v", now, found.ApprovalDate)
	}
}

func TestRequisitionRepository_List(t *testing.T) {
	db, repo := setupRequisitionTest(t)
	ctx := context.Background()

	item := testutil.InsertItem(t, db)
	first := insertRequisition(t, repo, "u-1", map[*models.InventoryItem]int{item: 1})
	insertRequisition(t, repo, "u-1", map[*models.InventoryItem]int{item: 1}, func(r *models.Requisition) {
		r.Department = "Operations"
	})
	last := insertRequisition(t, repo, "u-2", map[*models.InventoryItem]int{item: 1}, func(r *models.Requisition) {
		r.Status = models.RequisitionRejected
	})

	tests := []struct {
		name   string
		filter models.RequisitionFilter
		want   int
	}{
		{"All", models.RequisitionFilter{}, 3},
		{"Requester", models.RequisitionFilter{RequesterID: "u-1"}, 2},
		{"Status", models.RequisitionFilter{Status: models.RequisitionRejected}, 1},
		{"Department", models.RequisitionFilter{Department: "Operations"}, 1},
		{"Collection status", models.RequisitionFilter{CollectionStatus: models.CollectionReady}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := repo.List(ctx, tt.filter, models.DefaultPagination())
			if err != nil {
				t.Fatalf("failed to list: %v", err)
			}
			if list.Total != tt.want || len(list.Requisitions) != tt.want {
				t.Errorf("expected %d, got total %d with %d rows", tt.want, list.Total, len(list.Requisitions))
			}
		})
	}

	t.Run("Latest first with lines", func(t *testing.T) {
		list, err := repo.List(ctx, models.RequisitionFilter{}, models.DefaultPagination())
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if list.Requisitions[0].ID != last.ID || list.Requisitions[2].ID != first.ID {
			t.Error("expected latest requisition first")
		}
		for _, r := range list.Requisitions {
			if len(r.Items) != 1 {
				t.Errorf("requisition %s has %d lines", r.ID, len(r.Items))
			}
		}
	})
}

func TestRequisitionRepository_History(t *testing.T) {
	db, repo := setupRequisitionTest(t)
	ctx := context.Background()

	item := testutil.InsertItem(t, db)
	req := insertRequisition(t, repo, "u-1", map[*models.InventoryItem]int{item: 1})

	pending := string(models.CollectionPending)
	logs := []*models.StatusLog{
		{ID: util.NewID(), RequisitionID: req.ID, ChangedBy: "u-1", Kind: models.LogKindStatus, NewValue: "pending", Comments: "Requisition created"},
		{ID: util.NewID(), RequisitionID: req.ID, ChangedBy: "u-3", Kind: models.LogKindCollection, OldValue: &pending, NewValue: "ready"},
	}
	for _, l := range logs {
		if err := repo.AppendLog(ctx, nil, l); err != nil {
			t.Fatalf("failed to append log: %v", err)
		}
	}

	history, err := repo.History(ctx, req.ID)
	if err != nil {
		t.Fatalf("failed to read history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(history))
	}
	if history[0].OldValue != nil || history[0].Comments != "Requisition created" {
		t.Errorf("unexpected first log %+v", history[0])
	}
	if history[1].Kind != models.LogKindCollection || *history[1].OldValue != "pending" {
		t.Errorf("unexpected second log %+v", history[1])
	}
}

func TestRequisitionRepository_Statistics(t *testing.T) {
	db, repo := setupRequisitionTest(t)
	ctx := context.Background()

	item := testutil.InsertItem(t, db)
	lines := map[*models.InventoryItem]int{item: 1}
	lastMonth := time.Now().UTC().AddDate(0, -1, 0)

	insertRequisition(t, repo, "u-1", lines)
	insertRequisition(t, repo, "u-1", lines, func(r *models.Requisition) {
		r.Status = models.RequisitionApproved
		r.CollectionStatus = models.CollectionReady
	})
	insertRequisition(t, repo, "u-2", lines, func(r *models.Requisition) {
		r.Status = models.RequisitionApproved
		r.CollectionStatus = models.CollectionCollected
		r.RequestDate = lastMonth
	})
	insertRequisition(t, repo, "u-2", lines, func(r *models.Requisition) {
		r.Status = models.RequisitionCancelled
		r.CollectionStatus = models.CollectionCancelled
	})

	t.Run("All", func(t *testing.T) {
		stats, err := repo.Statistics(ctx, models.RequisitionStatsFilter{})
		if err != nil {
			t.Fatalf("failed to compute statistics: %v", err)
		}
		want := models.RequisitionStatistics{Total: 4, Pending: 1, Approved: 2, Cancelled: 1, Collected: 1, ReadyForCollection: 1}
		if *stats != want {
			t.Errorf("expected %+v, got %+v", want, *stats)
		}
	})

	t.Run("Requester", func(t *testing.T) {
		stats, err := repo.Statistics(ctx, models.RequisitionStatsFilter{RequesterID: "u-2"})
		if err != nil {
			t.Fatalf("failed to compute statistics: %v", err)
		}
		if stats.Total != 2 || stats.Collected != 1 {
			t.Errorf("unexpected statistics %+v", *stats)
		}
	})

	t.Run("Range needs both ends", func(t *testing.T) {
		from := time.Now().UTC().AddDate(0, 0, -7)
		to := time.Now().UTC()

		stats, err := repo.Statistics(ctx, models.RequisitionStatsFilter{Range: models.DateRange{From: &from}})
		if err != nil {
			t.Fatalf("failed to compute statistics: %v", err)
		}
		if stats.Total != 4 {
			t.Errorf("open range should be ignored, got total %d", stats.Total)
		}

		stats, err = repo.Statistics(ctx, models.RequisitionStatsFilter{Range: models.DateRange{From: &from, To: &to}})
		if err != nil {
			t.Fatalf("failed to compute statistics: %v", err)
		}
		if stats.Total != 3 {
			t.Errorf("expected 3 requisitions this week, got %d", stats.Total)
		}
	})
}
