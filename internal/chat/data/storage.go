package data

import (
	"context"
	"mime"
	"path"

	"github.com/lk2023060901/chatai-backend/internal/chat/filestore"
	"github.com/lk2023060901/chatai-backend/internal/pkg/minio"
)

// ObjectClient 对象存储操作, 由 minio.Client 实现
type ObjectClient interface {
	PutObject(ctx context.Context, objectName string, data []byte, contentType string) error
	ObjectExists(ctx context.Context, objectName string) (bool, error)
	ObjectURL(ctx context.Context, objectName string) (string, error)
}

var _ ObjectClient = (*minio.Client)(nil)

// ObjectStore 把 MinIO 适配为 filestore.ObjectStore
type ObjectStore struct {
	client ObjectClient
}

var _ filestore.ObjectStore = (*ObjectStore)(nil)

// NewObjectStore 创建对象存储适配器
func NewObjectStore(client ObjectClient) *ObjectStore {
	return &ObjectStore{client: client}
}

// Exists implements filestore.ObjectStore.
func (s *ObjectStore) Exists(ctx context.Context, objectPath string) (bool, error) {
	return s.client.ObjectExists(ctx, objectPath)
}

// Upload implements filestore.ObjectStore.
func (s *ObjectStore) Upload(ctx context.Context, data []byte, objectPath string) error {
	return s.client.PutObject(ctx, objectPath, data, contentType(objectPath))
}

// URLFor implements filestore.ObjectStore.
func (s *ObjectStore) URLFor(ctx context.Context, objectPath string) (string, error) {
	return s.client.ObjectURL(ctx, objectPath)
}

func contentType(objectPath string) string {
	if ct := mime.TypeByExtension(path.Ext(objectPath)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
