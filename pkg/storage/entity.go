package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/jdziat/delayed-jobs/pkg/core"
	"github.com/jdziat/delayed-jobs/pkg/payload"
)

// EntityFinder returns a finder loading T by primary key "id" through GORM.
// Missing rows are reported as core.ErrEntityNotFound.
func EntityFinder[T any](db *gorm.DB) payload.FindFunc {
	return func(ctx context.Context, id string) (any, error) {
		v := new(T)
		err := db.WithContext(ctx).First(v, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, core.ErrEntityNotFound
		}
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}
