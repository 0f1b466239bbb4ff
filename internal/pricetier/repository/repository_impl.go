package repository

import (
	"github.com/smallbiznis/stitchery/internal/pricetier/domain"
	pkgrepository "github.com/smallbiznis/stitchery/pkg/repository"
	"gorm.io/gorm"
)

func Provide(db *gorm.DB) domain.Repository {
	return pkgrepository.ProvideStore[domain.PricingTier](db)
}
