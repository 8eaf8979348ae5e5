package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yeremiapane/pos-backend/utils"
)

type HealthController struct {
	DB      *gorm.DB
	Service string
}

func NewHealthController(db *gorm.DB, service string) *HealthController {
	return &HealthController{DB: db, Service: service}
}

func (hc *HealthController) Root(c *gin.Context) {
	utils.RespondJSON(c, http.StatusOK, hc.Service+" is running", gin.H{"service": hc.Service})
}

// DBTest -> ask the database for its clock
func (hc *HealthController) DBTest(c *gin.Context) {
	var now string
	row := hc.DB.WithContext(c.Request.Context()).Raw("SELECT CURRENT_TIMESTAMP").Row()
	if err := row.Scan(&now); err != nil {
		utils.RespondError(c, utils.NewInternal(err))
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Database connected", gin.H{"time": now})
}
