package services

import (
	"context"

	"github.com/runawaydevil/ScoutBot/storage"
)

// RemoteStore is the slice of the Pentaract client the upload queue depends
// on. *storage.Client satisfies it; tests inject fakes.
type RemoteStore interface {
	Upload(ctx context.Context, localPath, remotePath string) storage.Result
	Download(ctx context.Context, remotePath, localPath string) storage.Result
	Delete(ctx context.Context, remotePath string) bool
}
