package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"doppa/internal/release"
	"doppa/internal/sink"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DatasetConflated names the conflated output in the catalog
const DatasetConflated = "conflated"

// assetBatchSize bounds the rows written per insert statement
const assetBatchSize = 50

// catalogNamespace scopes the deterministic item and asset ids
var catalogNamespace = uuid.MustParse("8f0c5a53-6a1d-4f3e-9a55-2b1f0c7e4d10")

// ItemID returns the id of the item keyed by (release, region, dataset)
func ItemID(rel, region, dataset string) string {
	return uuid.NewSHA1(catalogNamespace, []byte(rel+"/"+region+"/"+dataset)).String()
}

// AssetID returns the id of the asset stored at href
func AssetID(href string) string {
	return uuid.NewSHA1(catalogNamespace, []byte(href)).String()
}

// Catalog records releases and the partition files written for them
type Catalog struct {
	db  *gorm.DB
	log *logrus.Entry
}

// NewCatalog creates a catalog over an open database
func NewCatalog(db *gorm.DB, log *logrus.Entry) *Catalog {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Catalog{db: db, log: log}
}

// LatestRelease returns the newest release, or nil when none was published
func (c *Catalog) LatestRelease(ctx context.Context) (*release.Release, error) {
	var row ReleasePG
	err := c.db.WithContext(ctx).Order("date DESC").Order("version DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest release: %w", err)
	}

	r, err := release.Parse(row.Release)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRelease records the release following the latest one
func (c *Catalog) CreateRelease(ctx context.Context, now time.Time) (release.Release, error) {
	var created release.Release
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		latest, err := NewCatalog(tx, c.log).LatestRelease(ctx)
		if err != nil {
			return err
		}

		created = release.Next(latest, now)
		return tx.Create(&ReleasePG{
			Release: created.String(),
			Date:    created.Date,
			Version: created.Version,
		}).Error
	})
	if err != nil {
		return release.Release{}, fmt.Errorf("failed to create release: %w", err)
	}

	c.log.Infof("Created release %s", created)
	return created, nil
}

// Releases lists releases, newest first
func (c *Catalog) Releases(ctx context.Context) ([]ReleasePG, error) {
	var rows []ReleasePG
	err := c.db.WithContext(ctx).Order("date DESC").Order("version DESC").Find(&rows).Error
	return rows, err
}

// Items lists the region items of a release
func (c *Catalog) Items(ctx context.Context, rel string) ([]RegionItemPG, error) {
	var items []RegionItemPG
	err := c.db.WithContext(ctx).Where("release = ?", rel).Order("region").Order("dataset").Find(&items).Error
	return items, err
}

// Item returns one region item with its assets
func (c *Catalog) Item(ctx context.Context, rel, region, dataset string) (*RegionItemPG, error) {
	var item RegionItemPG
	err := c.db.WithContext(ctx).Preload("Assets", func(db *gorm.DB) *gorm.DB {
		return db.Order("href")
	}).First(&item, "id = ?", ItemID(rel, region, dataset)).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Registration is what the pipeline wrote for one (release, region, dataset)
type Registration struct {
	Release  string
	Region   string
	Dataset  string
	Boundary []byte // GeoJSON geometry of the region
	Assets   []sink.Asset
	BaseURL  string // Prefix joined with each asset path to form its href
}

// Register upserts the region item and its assets
func (c *Catalog) Register(ctx context.Context, reg Registration) (*RegionItemPG, error) {
	if err := release.Validate(reg.Release, reg.Region, release.FileName(0)); err != nil {
		return nil, err
	}

	item, assets := buildItem(reg)

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return replaceItem(tx, &item, assets)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register %s/%s/%s: %w", reg.Release, reg.Region, reg.Dataset, err)
	}

	c.log.Infof("Registered %d assets for region %s (%s)", len(assets), reg.Region, reg.Dataset)
	item.Assets = assets
	return &item, nil
}

// replaceItem upserts the item and replaces its asset set, so partitions that
// a rerun no longer writes drop out of the catalog
func replaceItem(tx *gorm.DB, item *RegionItemPG, assets []AssetPG) error {
	// Use Save which performs UPSERT (INSERT or UPDATE)
	if err := tx.Omit("Assets").Save(item).Error; err != nil {
		return err
	}
	if err := tx.Where("item_id = ?", item.ID).Delete(&AssetPG{}).Error; err != nil {
		return err
	}
	if len(assets) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).CreateInBatches(assets, assetBatchSize).Error
}

// buildItem converts a registration into catalog rows
func buildItem(reg Registration) (RegionItemPG, []AssetPG) {
	item := RegionItemPG{
		ID:       ItemID(reg.Release, reg.Region, reg.Dataset),
		Release:  reg.Release,
		Region:   reg.Region,
		Dataset:  reg.Dataset,
		Boundary: string(reg.Boundary),
	}
	if item.Boundary == "" {
		item.Boundary = "null"
	}

	assets := make([]AssetPG, 0, len(reg.Assets))
	for i, a := range reg.Assets {
		href := reg.BaseURL + a.Path
		assets = append(assets, AssetPG{
			ID:           AssetID(href),
			ItemID:       item.ID,
			Href:         href,
			PartitionKey: a.PartitionKey,
			Rows:         a.Rows,
			Bytes:        a.Bytes,
			BBox:         BBoxFromBound(a.Bound),
		})

		item.Rows += a.Rows
		if i == 0 {
			item.BBox = BBoxFromBound(a.Bound)
		} else {
			item.BBox = BBoxFromBound(item.BBox.Bound().Union(a.Bound))
		}
	}

	return item, assets
}
