package controllers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/pos-backend/utils"
)

// idParam reads a positive numeric path parameter.
func idParam(c *gin.Context, name string) (uint, error) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, utils.NewInvalidArgument("%s must be a positive integer, got %q", name, raw)
	}
	return uint(id), nil
}
