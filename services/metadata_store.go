package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"activity-rewards-system/logger"
	"activity-rewards-system/models"

	"github.com/gosimple/slug"
)

const metadataServiceName = "metadata"

// ObjectStore is the slice of the object storage API the metadata service needs.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// ObjectMetadataService uploads token metadata documents to object storage.
// Keys are content addressed, so re-uploading identical metadata after a retry
// overwrites the same object and yields the same URI.
type ObjectMetadataService struct {
	Store ObjectStore
	log   *logger.Logger
}

func NewObjectMetadataService(store ObjectStore, baseLog *logger.Logger) *ObjectMetadataService {
	return &ObjectMetadataService{Store: store, log: baseLog.With("service", "MetadataService")}
}

// MetadataKey is the object key of a metadata document.
func MetadataKey(meta *models.AchievementMetadata, body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("achievements/%s/%s.json", slug.Make(meta.AchievementID), hex.EncodeToString(sum[:12]))
}

func (s *ObjectMetadataService) UploadMetadata(ctx context.Context, meta *models.AchievementMetadata) (string, error) {
	body, err := json.Marshal(meta)
	if err != nil {
		return "", Permanent(metadataServiceName, err)
	}
	key := MetadataKey(meta, body)
	uri, err := s.Store.PutObject(ctx, key, body, "application/json")
	if err != nil {
		return "", Transient(metadataServiceName, err)
	}
	s.log.Debug("Metadata uploaded", "achievement_id", meta.AchievementID, "uri", uri)
	return uri, nil
}
