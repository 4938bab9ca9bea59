package postgres

import (
	"time"

	"github.com/paulmach/orb"
	"gorm.io/gorm"
)

// ReleasePG is one published release
type ReleasePG struct {
	Release string    `gorm:"primaryKey;size:32" json:"release"`
	Date    time.Time `gorm:"type:date;not null;index" json:"date"`
	Version int       `gorm:"not null" json:"version"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName overrides the table name
func (ReleasePG) TableName() string {
	return "releases"
}

// RegionItemPG is the dataset of one source for one region within a release
type RegionItemPG struct {
	ID       string    `gorm:"primaryKey;size:36" json:"id"`
	Release  string    `gorm:"size:32;not null;uniqueIndex:idx_item_key" json:"release"`
	Region   string    `gorm:"size:2;not null;uniqueIndex:idx_item_key" json:"region"`
	Dataset  string    `gorm:"size:16;not null;uniqueIndex:idx_item_key" json:"dataset"`
	Boundary string    `gorm:"type:jsonb" json:"-"` // GeoJSON geometry of the region
	BBox     BBox      `gorm:"embedded;embeddedPrefix:bbox_" json:"bbox"`
	Rows     int       `gorm:"not null" json:"rows"`
	Assets   []AssetPG `gorm:"foreignKey:ItemID;constraint:OnDelete:CASCADE" json:"assets,omitempty"`

	UpdatedAt time.Time      `gorm:"column:updated_at" json:"updated_at"`
	CreatedAt time.Time      `gorm:"column:created_at" json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

// TableName overrides the table name
func (RegionItemPG) TableName() string {
	return "region_items"
}

// AssetPG is one partition file of a region item
type AssetPG struct {
	ID           string `gorm:"primaryKey;size:36" json:"id"`
	ItemID       string `gorm:"size:36;not null;index" json:"item_id"`
	Href         string `gorm:"not null;uniqueIndex" json:"href"`
	PartitionKey string `gorm:"size:12;not null" json:"partition_key"`
	Rows         int    `gorm:"not null" json:"rows"`
	Bytes        int64  `gorm:"not null" json:"bytes"`
	BBox         BBox   `gorm:"embedded;embeddedPrefix:bbox_" json:"bbox"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName overrides the table name
func (AssetPG) TableName() string {
	return "assets"
}

// BBox is a lon/lat bounding box
type BBox struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// BBoxFromBound converts an orb bound
func BBoxFromBound(b orb.Bound) BBox {
	return BBox{MinX: b.Min[0], MinY: b.Min[1], MaxX: b.Max[0], MaxY: b.Max[1]}
}

// Bound converts back to an orb bound
func (b BBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinX, b.MinY}, Max: orb.Point{b.MaxX, b.MaxY}}
}
