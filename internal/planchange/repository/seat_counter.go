package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	planchangedomain "github.com/smallbiznis/contractbilling/internal/planchange/domain"
	"gorm.io/gorm"
)

type seatCounter struct {
	db *gorm.DB
}

func NewSeatCounter(db *gorm.DB) planchangedomain.SeatCounter {
	return &seatCounter{db: db}
}

func (c *seatCounter) CountActiveUsers(ctx context.Context, orgID snowflake.ID) (int, error) {
	var count int64
	err := c.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM organization_members WHERE org_id = ? AND status = ?`,
		orgID,
		"active",
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}
