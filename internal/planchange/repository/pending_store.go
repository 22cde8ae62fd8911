package repository

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	planchangedomain "github.com/smallbiznis/contractbilling/internal/planchange/domain"
	"gorm.io/gorm"
)

// pendingStore merges both physical representations behind one store so the
// applier and the request manager never branch on where a change lives.
type pendingStore struct {
	contract *contractStore
	requests *requestStore
}

func ProvidePendingStore() planchangedomain.PendingChangeStore {
	return &pendingStore{
		contract: &contractStore{},
		requests: &requestStore{},
	}
}

func (s *pendingStore) Get(ctx context.Context, db *gorm.DB, contractID snowflake.ID) (*planchangedomain.PendingPlanChange, error) {
	change, err := s.contract.Get(ctx, db, contractID)
	if err != nil || change != nil {
		return change, err
	}
	return s.requests.Get(ctx, db, contractID)
}

// Put routes processor-managed changes to the request table and everything
// else to the contract row.
func (s *pendingStore) Put(ctx context.Context, db *gorm.DB, change *planchangedomain.PendingPlanChange) error {
	if change.ProcessorManaged {
		return s.requests.Put(ctx, db, change)
	}
	return s.contract.Put(ctx, db, change)
}

// GetDue returns changes effective on or before the given date, oldest first.
func (s *pendingStore) GetDue(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]planchangedomain.PendingPlanChange, error) {
	fromContracts, err := s.contract.GetDue(ctx, db, before, limit)
	if err != nil {
		return nil, err
	}
	fromRequests, err := s.requests.GetDue(ctx, db, before, limit)
	if err != nil {
		return nil, err
	}

	due := append(fromContracts, fromRequests...)
	sort.SliceStable(due, func(i, j int) bool {
		if !due[i].EffectiveDate.Equal(due[j].EffectiveDate) {
			return due[i].EffectiveDate.Before(due[j].EffectiveDate)
		}
		return due[i].ContractID < due[j].ContractID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *pendingStore) Clear(ctx context.Context, db *gorm.DB, change planchangedomain.PendingPlanChange, at time.Time) (bool, error) {
	if change.Source == planchangedomain.SourceRequest {
		return s.requests.Clear(ctx, db, change, at)
	}
	return s.contract.Clear(ctx, db, change, at)
}
