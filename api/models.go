package api

import (
	"github.com/gin-gonic/gin"

	"gitlab.com/gridshare/gpu-cloud-service/db"
	"gitlab.com/gridshare/gpu-cloud-service/models"
)

// ListModelsHandler  godoc
//
//	@Summary		List published models.
//	@Description	Public result artifacts renters chose to share from completed jobs.
//	@Tags			models
//	@Produce		json
//	@Success		200	{object}	[]models.PublicModel
//	@Router			/models [get]
func (h *Handlers) ListModelsHandler(c *gin.Context) {
	var published []models.PublicModel
	if err := db.DB.Where("is_public = ?", true).Order("created_at DESC").Find(&published).Error; err != nil {
		c.AbortWithStatusJSON(500, gin.H{"error": "failed to fetch models"})
		return
	}
	c.JSON(200, published)
}
