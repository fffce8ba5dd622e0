package models

import (
	"context"
	"testing"
	"time"

	"github.com/tabshare/tabshare_backend/batcher"
)

func acceptRowFixture(id, owner int, localId *int) acceptRow {
	row := acceptRow{
		ID:                 id,
		OwnerAccountId:     owner,
		Amount:             d("25"),
		CurrencyCode:       "USD",
		TransactionDate:    syncDate,
		ForeignUpdatedAt:   syncDate,
		CounterpartyUserId: 11,
		LocalId:            localId,
	}
	if localId != nil {
		at := syncDate.Add(-time.Hour)
		row.LocalUpdatedAt = &at
	}
	return row
}

func TestPlanAcceptancePartition(t *testing.T) {
	localId := 2
	rows := []acceptRow{
		acceptRowFixture(1, 9, nil),
		acceptRowFixture(2, 9, &localId),
	}

	plan := planAcceptance(5, []int{1, 2, 3}, rows)

	if len(plan.toCreate) != 1 || plan.toCreate[0] != 1 {
		t.Fatalf("toCreate = %v, want [1]", plan.toCreate)
	}
	if len(plan.toUpdate) != 1 || plan.toUpdate[0] != 2 {
		t.Fatalf("toUpdate = %v, want [2]", plan.toUpdate)
	}
	if !plan.notFound[3] {
		t.Fatalf("id 3 should be not-found")
	}
}

func TestPlanAcceptanceDedupesRequests(t *testing.T) {
	rows := []acceptRow{acceptRowFixture(1, 9, nil)}
	plan := planAcceptance(5, []int{1, 1, 1}, rows)
	if len(plan.toCreate) != 1 {
		t.Fatalf("toCreate = %v, want a single entry", plan.toCreate)
	}
}

func TestPlanAcceptanceSkipsCallerOwnedRows(t *testing.T) {
	// a row the caller already owns is not a foreign intention
	rows := []acceptRow{acceptRowFixture(1, 5, nil)}
	plan := planAcceptance(5, []int{1}, rows)
	if len(plan.toCreate) != 0 || len(plan.toUpdate) != 0 {
		t.Fatalf("caller-owned row was planned: create=%v update=%v", plan.toCreate, plan.toUpdate)
	}
	if !plan.notFound[1] {
		t.Fatalf("caller-owned row should surface as not-found")
	}
}

func TestMergeClockStrictlyAfterBothSides(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		local   *time.Time
		foreign time.Time
	}{
		{"no local row", nil, now.Add(-time.Hour)},
		{"local older than foreign", ptrTime(now.Add(-2 * time.Hour)), now.Add(-time.Hour)},
		{"local newer than foreign", ptrTime(now.Add(-time.Minute)), now.Add(-time.Hour)},
		{"foreign in the future", nil, now.Add(time.Hour)},
		{"both in the future", ptrTime(now.Add(2 * time.Hour)), now.Add(time.Hour)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mergeClockAfterAccept(now, tc.local, tc.foreign)
			if !got.After(tc.foreign) {
				t.Fatalf("clock %s is not after foreign %s", got, tc.foreign)
			}
			if tc.local != nil && !got.After(*tc.local) {
				t.Fatalf("clock %s is not after local %s", got, *tc.local)
			}
		})
	}
}

func TestMergeClockFlooredAtNow(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	foreign := now.Add(-24 * time.Hour)
	if got := mergeClockAfterAccept(now, nil, foreign); !got.Equal(now) {
		t.Fatalf("clock = %s, want now %s for a stale foreign side", got, now)
	}
}

func TestMergeClockUsesBumpWhenSidesAreRecent(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	foreign := now.Add(-10 * time.Second)
	want := foreign.Add(acceptClockBump)
	if got := mergeClockAfterAccept(now, nil, foreign); !got.Equal(want) {
		t.Fatalf("clock = %s, want %s", got, want)
	}
}

func TestRegisterDebtAcceptanceBindsCallToItsRegistry(t *testing.T) {
	regA := batcher.NewRegistry()
	regB := batcher.NewRegistry()
	acceptA := RegisterDebtAcceptance(regA)
	acceptB := RegisterDebtAcceptance(regB)

	// Unauthenticated calls reject before touching storage, but still land in
	// their own registry's group state.
	if _, err := acceptA(context.Background(), 1); err == nil {
		t.Fatal("expected the account guard to reject an unauthenticated accept")
	}
	if regA.GroupCount() != 1 || regB.GroupCount() != 0 {
		t.Fatalf("groups = (%d, %d); a later registration must not rebind an earlier call",
			regA.GroupCount(), regB.GroupCount())
	}

	if _, err := acceptB(context.Background(), 2); err == nil {
		t.Fatal("expected the account guard to reject an unauthenticated accept")
	}
	if regB.GroupCount() != 1 {
		t.Fatalf("second registry groups = %d, expected its own group", regB.GroupCount())
	}
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
