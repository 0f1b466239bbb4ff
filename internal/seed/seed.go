package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/stitchery/internal/authorization"
	featuredomain "github.com/smallbiznis/stitchery/internal/feature/domain"
	paymentdomain "github.com/smallbiznis/stitchery/internal/payment/domain"
	pricetierdomain "github.com/smallbiznis/stitchery/internal/pricetier/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Result counts the rows created by one seed run. Rows that already exist
// are left untouched and not counted.
type Result struct {
	Tiers    int `json:"tiers"`
	Packages int `json:"packages"`
	Features int `json:"features"`
}

type tierSeed struct {
	sizeCM int
	price  int64
}

var defaultTiers = []tierSeed{
	{sizeCM: 5, price: 10},
	{sizeCM: 10, price: 14},
	{sizeCM: 20, price: 20},
	{sizeCM: 40, price: 30},
}

type packageSeed struct {
	name       string
	tokens     int64
	priceCents int64
	savings    int
	popular    bool
	features   []string
}

var defaultPackages = []packageSeed{
	{
		name:       "Starter",
		tokens:     10,
		priceCents: 4900,
		features: []string{
			"10 design generations",
			"All file formats (DST, PES, JEF, etc.)",
			"Email notifications",
			"Save to account",
		},
	},
	{
		name:       "Professional",
		tokens:     25,
		priceCents: 9900,
		savings:    20,
		popular:    true,
		features: []string{
			"25 design generations",
			"All file formats included",
			"Priority email notifications",
			"Unlimited saves",
			"Priority support",
		},
	},
	{
		name:       "Enterprise",
		tokens:     50,
		priceCents: 17900,
		savings:    27,
		features: []string{
			"50 design generations",
			"All file formats included",
			"Instant email notifications",
			"Unlimited saves",
			"Priority support",
			"Bulk order discounts",
		},
	},
}

type featureSeed struct {
	name        string
	description string
	category    featuredomain.Category
	tokens      int64
	popular     bool
	emoji       string
}

var defaultFeatures = []featureSeed{
	{name: "Custom Text", description: "Add a name, monogram or slogan to the design.", category: featuredomain.CategoryText, tokens: 5, popular: true, emoji: "🔤"},
	{name: "Extra Thread Colors", description: "Up to six additional thread colors.", category: featuredomain.CategoryColor, tokens: 8, emoji: "🎨"},
	{name: "3D Puff", description: "Raised foam effect for caps and jackets.", category: featuredomain.CategoryEffect, tokens: 12, popular: true, emoji: "✨"},
	{name: "High Density Stitching", description: "Finer detail with a higher stitch count.", category: featuredomain.CategoryQuality, tokens: 10, emoji: "🧵"},
	{name: "Rush Delivery", description: "Digitized files within 24 hours.", category: featuredomain.CategoryRush, tokens: 15, emoji: "⚡"},
	{name: "Priority Support", description: "A dedicated digitizer for revisions.", category: featuredomain.CategorySupport, tokens: 10, emoji: "💬"},
}

// Catalog seeds pricing tiers, token packages and the feature catalog.
// Running it twice creates nothing the second time.
func Catalog(ctx context.Context, db *gorm.DB, node *snowflake.Node, now time.Time) (Result, error) {
	var result Result
	if db == nil {
		return result, errors.New("seed database handle is required")
	}
	if node == nil {
		return result, errors.New("seed id generator is required")
	}
	now = now.UTC()

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, seed := range defaultTiers {
			created, err := ensureTierTx(ctx, tx, node, seed, now)
			if err != nil {
				return err
			}
			if created {
				result.Tiers++
			}
		}
		for i, seed := range defaultPackages {
			created, err := ensurePackageTx(ctx, tx, node, seed, i, now)
			if err != nil {
				return err
			}
			if created {
				result.Packages++
			}
		}
		for i, seed := range defaultFeatures {
			created, err := ensureFeatureTx(ctx, tx, node, seed, i, now)
			if err != nil {
				return err
			}
			if created {
				result.Features++
			}
		}
		return nil
	})
	return result, err
}

// Policies seeds the default authorization rules.
func Policies(enforcer *casbin.SyncedEnforcer) error {
	if enforcer == nil {
		return errors.New("seed enforcer is required")
	}
	return authorization.SeedPolicies(enforcer)
}

func ensureTierTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, seed tierSeed, now time.Time) (bool, error) {
	var tier pricetierdomain.PricingTier
	err := tx.WithContext(ctx).Where("size_cm = ?", seed.sizeCM).First(&tier).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	tier = pricetierdomain.PricingTier{
		ID:        node.Generate(),
		SizeCM:    seed.sizeCM,
		Price:     seed.price,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&tier).Error; err != nil {
		return false, err
	}
	return true, nil
}

func ensurePackageTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, seed packageSeed, order int, now time.Time) (bool, error) {
	var pkg paymentdomain.TokenPackage
	err := tx.WithContext(ctx).Where("LOWER(name) = LOWER(?)", seed.name).First(&pkg).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	pkg = paymentdomain.NewTokenPackage(node.Generate(), seed.name, seed.tokens, seed.priceCents, now)
	pkg.SavingsPercentage = seed.savings
	pkg.IsPopular = seed.popular
	pkg.SortOrder = order
	pkg.Features = datatypes.JSONSlice[string](seed.features)
	if err := tx.WithContext(ctx).Create(&pkg).Error; err != nil {
		return false, err
	}
	return true, nil
}

func ensureFeatureTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, seed featureSeed, order int, now time.Time) (bool, error) {
	code := slug.Make(seed.name)
	var feature featuredomain.Feature
	err := tx.WithContext(ctx).Where("code = ? OR name = ?", code, seed.name).First(&feature).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	feature = featuredomain.Feature{
		ID:             node.Generate(),
		Code:           code,
		Name:           seed.name,
		Description:    seed.description,
		Category:       seed.category,
		TokensRequired: seed.tokens,
		IsActive:       true,
		IsPopular:      seed.popular,
		SortOrder:      order,
		IconEmoji:      seed.emoji,
		Metadata:       datatypes.JSONMap{"seeded": true},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.WithContext(ctx).Create(&feature).Error; err != nil {
		return false, err
	}
	return true, nil
}
