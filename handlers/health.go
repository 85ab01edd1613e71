package handlers

import (
	"github.com/runawaydevil/ScoutBot/utils"

	"github.com/gin-gonic/gin"
)

func HealthCheck(c *gin.Context) {
	utils.Success(c, gin.H{
		"status":  "ok",
		"service": "scoutbot-storage",
	})
}
