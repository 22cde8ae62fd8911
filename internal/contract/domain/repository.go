package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contractbilling/internal/catalog"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, contract *Contract) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Contract, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Contract, error)
	FindByOrgID(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*Contract, error)
	// Upsert writes the active terms guarded by the version the caller read.
	Upsert(ctx context.Context, db *gorm.DB, contract *Contract, expectedVersion int64) error
	ListPackages(ctx context.Context, db *gorm.DB, contractID snowflake.ID) ([]ContractPackage, error)
	ReplacePackages(ctx context.Context, db *gorm.DB, contractID snowflake.ID, codes []catalog.PackageCode, now time.Time) error
}
