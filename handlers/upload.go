package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/runawaydevil/ScoutBot/config"
	"github.com/runawaydevil/ScoutBot/services"
	"github.com/runawaydevil/ScoutBot/utils"

	"github.com/gin-gonic/gin"
)

// EnqueueUpload accepts a multipart file, spools it into the temp area and
// queues the transfer. The response carries the task id and file code; the
// transfer outcome is polled via the record endpoints.
func EnqueueUpload(c *gin.Context) {
	userID := c.PostForm("user_id")
	if userID == "" {
		utils.Error(c, http.StatusBadRequest, "user_id is required")
		return
	}
	folder := c.PostForm("folder")

	fileHeader, err := c.FormFile("file")
	if err != nil {
		utils.Error(c, http.StatusBadRequest, "file is required")
		return
	}

	tempDir := filepath.Join(config.AppConfig.Storage.BasePath, "temp")
	spoolDir := filepath.Join(tempDir, fmt.Sprintf("scoutbot-%d", time.Now().UnixNano()))
	if err := os.MkdirAll(spoolDir, 0o755); err != nil {
		utils.Error(c, http.StatusInternalServerError, "failed to create temp dir")
		return
	}

	localPath := filepath.Join(spoolDir, services.SanitizeFilename(fileHeader.Filename))
	if err := c.SaveUploadedFile(fileHeader, localPath); err != nil {
		os.RemoveAll(spoolDir)
		utils.Error(c, http.StatusInternalServerError, "failed to save uploaded file")
		return
	}

	taskID, fileCode, err := getServices().Queue.Enqueue(c.Request.Context(), localPath, userID, folder)
	if err != nil {
		os.RemoveAll(spoolDir)
		respondServiceError(c, err)
		return
	}

	utils.Created(c, gin.H{
		"task_id":   taskID,
		"file_code": fileCode,
	})
}

type enqueueLocalRequest struct {
	Path   string `json:"path" binding:"required"`
	UserID string `json:"user_id" binding:"required"`
	Folder string `json:"folder"`
}

// EnqueueLocalUpload queues a file that is already on this host, the path the
// bot process takes after finishing a download.
func EnqueueLocalUpload(c *gin.Context) {
	var req enqueueLocalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, http.StatusBadRequest, "path and user_id are required")
		return
	}

	taskID, fileCode, err := getServices().Queue.Enqueue(c.Request.Context(), req.Path, req.UserID, req.Folder)
	if respondServiceError(c, err) {
		return
	}

	utils.Created(c, gin.H{
		"task_id":   taskID,
		"file_code": fileCode,
	})
}

func GetUpload(c *gin.Context) {
	upload, err := getServices().Queue.GetUpload(c.Request.Context(), c.Param("id"))
	if respondServiceError(c, err) {
		return
	}
	utils.Success(c, upload)
}

func GetUploadByCode(c *gin.Context) {
	upload, err := getServices().Queue.GetUploadByCode(c.Request.Context(), c.Param("code"))
	if respondServiceError(c, err) {
		return
	}
	utils.Success(c, upload)
}

func ListUploads(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		utils.Error(c, http.StatusBadRequest, "user_id is required")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	uploads, err := getServices().Queue.ListUploads(c.Request.Context(), userID, limit)
	if respondServiceError(c, err) {
		return
	}
	utils.Success(c, gin.H{"uploads": uploads})
}

func GetQueueStatus(c *gin.Context) {
	svc := getServices()
	utils.Success(c, gin.H{
		"queue":     svc.Queue.QueueStatus(),
		"resources": svc.Monitor.CheckResources(),
	})
}

func CancelUpload(c *gin.Context) {
	if !getServices().Queue.Cancel(c.Request.Context(), c.Param("id")) {
		utils.Error(c, http.StatusNotFound, "upload is not tracked or already terminal")
		return
	}
	utils.Success(c, gin.H{"cancelled": true})
}

func RetryUpload(c *gin.Context) {
	if !getServices().Queue.Retry(c.Request.Context(), c.Param("id")) {
		utils.Error(c, http.StatusNotFound, "upload is not tracked or not failed")
		return
	}
	utils.Success(c, gin.H{"queued": true})
}
