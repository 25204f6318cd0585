package minio

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// PutObject uploads data under objectName in the configured bucket
func (c *Client) PutObject(ctx context.Context, objectName string, data []byte, contentType string) error {
	if objectName == "" {
		return ErrInvalidObjectName
	}

	info, err := c.client.PutObject(ctx, c.config.Bucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		c.logger.Error("failed to upload object",
			zap.String("object", objectName),
			zap.Error(err),
		)
		return wrap("PutObject", c.config.Bucket, objectName, err)
	}

	c.logger.Debug("object uploaded",
		zap.String("object", objectName),
		zap.Int64("size", info.Size),
	)
	return nil
}

// ObjectExists reports whether objectName is present in the configured bucket
func (c *Client) ObjectExists(ctx context.Context, objectName string) (bool, error) {
	_, err := c.client.StatObject(ctx, c.config.Bucket, objectName, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, wrap("StatObject", c.config.Bucket, objectName, err)
}

// ObjectURL returns a URL for objectName: a public URL when PublicBaseURL is
// configured, otherwise a presigned GET URL valid for URLExpiry.
func (c *Client) ObjectURL(ctx context.Context, objectName string) (string, error) {
	if base := c.config.PublicBaseURL; base != "" {
		return strings.TrimRight(base, "/") + "/" + objectName, nil
	}

	u, err := c.client.PresignedGetObject(ctx, c.config.Bucket, objectName, c.config.URLExpiry, url.Values{})
	if err != nil {
		return "", wrap("PresignedGetObject", c.config.Bucket, objectName, err)
	}
	return u.String(), nil
}
