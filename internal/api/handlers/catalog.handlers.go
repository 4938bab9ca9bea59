package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"doppa/internal/postgres"
	"doppa/internal/release"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CatalogReader is the read side of the release catalog
type CatalogReader interface {
	Releases(ctx context.Context) ([]postgres.ReleasePG, error)
	Items(ctx context.Context, rel string) ([]postgres.RegionItemPG, error)
	Item(ctx context.Context, rel, region, dataset string) (*postgres.RegionItemPG, error)
}

// CatalogHandlers serves catalog queries
type CatalogHandlers struct {
	catalog CatalogReader
	log     *logrus.Entry
}

// itemResponse adds the boundary GeoJSON as a nested document
type itemResponse struct {
	*postgres.RegionItemPG
	Boundary json.RawMessage `json:"boundary,omitempty"`
}

// SetupCatalogHandlers registers the catalog endpoints
func SetupCatalogHandlers(router *gin.RouterGroup, catalog CatalogReader, log *logrus.Entry) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	h := &CatalogHandlers{catalog: catalog, log: log}

	releases := router.Group("/releases")
	releases.GET("", h.ListReleases)
	releases.GET("/:release/items", h.ListItems)
	releases.GET("/:release/regions/:region/:dataset", h.GetItem)
}

// ListReleases handles GET /api/releases
func (h *CatalogHandlers) ListReleases(c *gin.Context) {
	rows, err := h.catalog.Releases(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"releases": rows})
}

// ListItems handles GET /api/releases/:release/items
func (h *CatalogHandlers) ListItems(c *gin.Context) {
	rel := c.Param("release")
	if _, err := release.Parse(rel); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items, err := h.catalog.Items(c.Request.Context(), rel)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"release": rel, "items": items})
}

// GetItem handles GET /api/releases/:release/regions/:region/:dataset
func (h *CatalogHandlers) GetItem(c *gin.Context) {
	rel, region, dataset := c.Param("release"), c.Param("region"), c.Param("dataset")
	if _, err := release.Parse(rel); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := release.ValidateRegion(region); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := h.catalog.Item(c.Request.Context(), rel, region, dataset)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := itemResponse{RegionItemPG: item}
	if item.Boundary != "" && item.Boundary != "null" {
		resp.Boundary = json.RawMessage(item.Boundary)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *CatalogHandlers) fail(c *gin.Context, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	h.log.Errorf("Catalog query %s failed: %v", c.Request.URL.Path, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
