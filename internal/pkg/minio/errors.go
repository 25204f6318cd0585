package minio

import (
	"errors"
	"fmt"
	"slices"

	"github.com/minio/minio-go/v7"
)

var (
	ErrInvalidArgument   = errors.New("minio: invalid argument")
	ErrInvalidObjectName = errors.New("minio: invalid object name")
	ErrObjectNotFound    = errors.New("minio: object not found")
)

// OpError 带操作上下文的错误
type OpError struct {
	Op     string
	Bucket string
	Object string
	Err    error
}

func (e *OpError) Error() string {
	switch {
	case e.Object != "":
		return fmt.Sprintf("minio: %s %s/%s: %v", e.Op, e.Bucket, e.Object, e.Err)
	case e.Bucket != "":
		return fmt.Sprintf("minio: %s %s: %v", e.Op, e.Bucket, e.Err)
	default:
		return fmt.Sprintf("minio: %s: %v", e.Op, e.Err)
	}
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func wrap(op, bucket, object string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Bucket: bucket, Object: object, Err: err}
}

func hasCode(err error, codes ...string) bool {
	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		return false
	}
	return slices.Contains(codes, resp.Code)
}

// IsNotFound 对象或桶不存在
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrObjectNotFound) || hasCode(err, "NoSuchBucket", "NoSuchKey")
}

// IsBucketAlreadyExists 桶已存在 (包括已归自己所有)
func IsBucketAlreadyExists(err error) bool {
	return err != nil && hasCode(err, "BucketAlreadyExists", "BucketAlreadyOwnedByYou")
}
