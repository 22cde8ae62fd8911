package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contractbilling/internal/catalog"
	contractdomain "github.com/smallbiznis/contractbilling/internal/contract/domain"
	contractrepo "github.com/smallbiznis/contractbilling/internal/contract/repository"
	planchangedomain "github.com/smallbiznis/contractbilling/internal/planchange/domain"
	"github.com/smallbiznis/contractbilling/internal/testing/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var requestedAt = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

func seedContract(t *testing.T, db *gorm.DB, node *snowflake.Node) *contractdomain.Contract {
	t.Helper()
	contract := &contractdomain.Contract{
		ID:              node.Generate(),
		OrgID:           node.Generate(),
		PlanTier:        catalog.PlanTierStandard,
		SeatLimit:       30,
		Package:         catalog.PackageNone,
		BaseMonthlyFee:  45000,
		TotalMonthlyFee: 45000,
		BillingCycle:    catalog.BillingCycleMonthly,
		BillingDay:      1,
		BillingMode:     contractdomain.BillingModeInvoice,
		Status:          contractdomain.ContractStatusActive,
		StartDate:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Version:         1,
		CreatedAt:       requestedAt,
		UpdatedAt:       requestedAt,
	}
	require.NoError(t, contractrepo.Provide().Insert(context.Background(), db, contract))
	return contract
}

func downgrade(node *snowflake.Node, contract *contractdomain.Contract, processorManaged bool) *planchangedomain.PendingPlanChange {
	return &planchangedomain.PendingPlanChange{
		ID:         node.Generate(),
		ContractID: contract.ID,
		OrgID:      contract.OrgID,
		Requested: planchangedomain.Terms{
			PlanTier:  catalog.PlanTierStarter,
			BaseFee:   18000,
			SeatLimit: 10,
			Package:   catalog.PackageNone,
		},
		EffectiveDate:    time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		IsDowngrade:      true,
		ProcessorManaged: processorManaged,
		RequestedBy:      "user:1",
		RequestedAt:      requestedAt,
	}
}

func TestPutRejectsSecondPendingChange(t *testing.T) {
	cases := []struct {
		name             string
		processorManaged bool
		source           planchangedomain.ChangeSource
	}{
		{"contract column", false, planchangedomain.SourceContract},
		{"request row", true, planchangedomain.SourceRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := dbtest.Open(t)
			node := dbtest.Node(t)
			store := ProvidePendingStore()
			ctx := context.Background()
			contract := seedContract(t, db, node)

			first := downgrade(node, contract, tc.processorManaged)
			require.NoError(t, store.Put(ctx, db, first))
			assert.Equal(t, tc.source, first.Source)

			second := downgrade(node, contract, tc.processorManaged)
			second.Requested.SeatLimit = 5
			err := store.Put(ctx, db, second)
			assert.ErrorIs(t, err, planchangedomain.ErrConflictingChangeExists)

			kept, err := store.Get(ctx, db, contract.ID)
			require.NoError(t, err)
			require.NotNil(t, kept)
			assert.Equal(t, first.ID, kept.ID)
			assert.Equal(t, 10, kept.Requested.SeatLimit)
		})
	}
}

func TestPutAcceptsNewChangeAfterClear(t *testing.T) {
	db := dbtest.Open(t)
	node := dbtest.Node(t)
	store := ProvidePendingStore()
	ctx := context.Background()
	contract := seedContract(t, db, node)

	first := downgrade(node, contract, false)
	require.NoError(t, store.Put(ctx, db, first))

	cleared, err := store.Clear(ctx, db, *first, requestedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, cleared)

	again, err := store.Clear(ctx, db, *first, requestedAt.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, again, "a cleared marker is not cleared twice")

	require.NoError(t, store.Put(ctx, db, downgrade(node, contract, false)))
}

func TestListByContractNewestFirst(t *testing.T) {
	db := dbtest.Open(t)
	node := dbtest.Node(t)
	requests := ProvideRequestRepository()
	ctx := context.Background()
	contract := seedContract(t, db, node)

	older := downgrade(node, contract, false)
	require.NoError(t, requests.InsertCompleted(ctx, db, *older, requestedAt.Add(time.Hour)))

	newer := downgrade(node, contract, false)
	newer.RequestedAt = requestedAt.AddDate(0, 1, 0)
	require.NoError(t, requests.InsertCompleted(ctx, db, *newer, newer.RequestedAt.Add(time.Hour)))

	history, err := requests.ListByContract(ctx, db, contract.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, newer.ID, history[0].ID)
	assert.Equal(t, older.ID, history[1].ID)
}
