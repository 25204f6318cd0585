package filestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
	"go.uber.org/zap"
)

// DefaultPrefix 转存文件的对象前缀
const DefaultPrefix = "user_bucket"

// ObjectStore 对象存储抽象
type ObjectStore interface {
	Exists(ctx context.Context, objectPath string) (bool, error)
	Upload(ctx context.Context, data []byte, objectPath string) error
	URLFor(ctx context.Context, objectPath string) (string, error)
}

// ContentFetcher 下载远端文件内容
type ContentFetcher interface {
	GetFileContent(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// Rehoster 将模型生成的文件转存到对象存储
type Rehoster struct {
	store   ObjectStore
	fetcher ContentFetcher
	prefix  string
	logger  *logger.Logger
}

// NewRehoster 创建 Rehoster, store 为 nil 时只返回对象路径
func NewRehoster(store ObjectStore, fetcher ContentFetcher, log *logger.Logger) *Rehoster {
	if log == nil {
		log = logger.L()
	}
	return &Rehoster{
		store:   store,
		fetcher: fetcher,
		prefix:  DefaultPrefix,
		logger:  log.Named("filestore"),
	}
}

// ObjectPath 计算文件的对象路径
func (r *Rehoster) ObjectPath(fileID, simpleName string) string {
	name := strings.TrimPrefix(fileID, "file-")
	if simpleName != "" {
		name += "_" + simpleName
	}
	return path.Join(r.prefix, name)
}

// MakeFileURL 确保文件已转存并返回 URL, 失败时退化为对象路径
func (r *Rehoster) MakeFileURL(ctx context.Context, fileID, simpleName string) string {
	objectPath := r.ObjectPath(fileID, simpleName)
	if r.store == nil {
		return objectPath
	}

	if err := r.ensure(ctx, fileID, objectPath); err != nil {
		r.logger.Error("failed to rehost file",
			zap.String("file_id", fileID),
			zap.String("path", objectPath),
			zap.Error(err))
		return objectPath
	}

	url, err := r.store.URLFor(ctx, objectPath)
	if err != nil {
		r.logger.Error("failed to get file url", zap.String("path", objectPath), zap.Error(err))
		return objectPath
	}
	return url
}

func (r *Rehoster) ensure(ctx context.Context, fileID, objectPath string) error {
	exists, err := r.store.Exists(ctx, objectPath)
	if err != nil {
		return fmt.Errorf("failed to check object: %w", err)
	}
	if exists {
		return nil
	}
	if r.fetcher == nil {
		return fmt.Errorf("no content fetcher for %s", fileID)
	}

	r.logger.Info("downloading file from source", zap.String("file_id", fileID))
	body, err := r.fetcher.GetFileContent(ctx, fileID)
	if err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}
	defer body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	r.logger.Info("uploading file to storage", zap.String("path", objectPath), zap.Int("size", buf.Len()))
	if err := r.store.Upload(ctx, buf.Bytes(), objectPath); err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}
	return nil
}
