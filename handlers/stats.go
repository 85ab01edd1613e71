package handlers

import (
	"strconv"

	"github.com/runawaydevil/ScoutBot/utils"

	"github.com/gin-gonic/gin"
)

func GetStatsSummary(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "0"))

	summary, err := getServices().Statistics.Summary(c.Request.Context(), days)
	if respondServiceError(c, err) {
		return
	}
	utils.Success(c, summary)
}
