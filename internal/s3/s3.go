package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/Capitan-Parrot/firewatch/internal/metrics"
	"github.com/Capitan-Parrot/firewatch/internal/models"
	"github.com/goccy/go-json"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type objectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// Client archives fire frames together with their detections
type Client struct {
	client objectStore
	bucket string

	bucketOnce sync.Once
	bucketErr  error
}

func NewMinioClient(endpoint, accessKey, secretKey string, useSSL bool, bucket string) (*Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &Client{client: client, bucket: bucket}, nil
}

func (c *Client) ensureBucketExists(ctx context.Context) error {
	c.bucketOnce.Do(func() {
		exists, err := c.client.BucketExists(ctx, c.bucket)
		if err != nil {
			c.bucketErr = err
			return
		}
		if !exists {
			c.bucketErr = c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
		}
	})
	return c.bucketErr
}

// SaveSnapshot stores <device>/<date>/<time>.jpg and a .json twin with the detections
func (c *Client) SaveSnapshot(ctx context.Context, sample *models.FrameSample, result *models.DetectionResult) error {
	err := c.saveSnapshot(ctx, sample, result)
	if err != nil {
		metrics.SnapshotsArchivedTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.SnapshotsArchivedTotal.WithLabelValues("ok").Inc()
	return nil
}

func (c *Client) saveSnapshot(ctx context.Context, sample *models.FrameSample, result *models.DetectionResult) error {
	if err := c.ensureBucketExists(ctx); err != nil {
		return fmt.Errorf("bucket error: %w", err)
	}

	base := SnapshotKey(sample)

	if _, err := c.client.PutObject(ctx, c.bucket, base+".jpg",
		bytes.NewReader(sample.Data), int64(len(sample.Data)),
		minio.PutObjectOptions{ContentType: "image/jpeg"},
	); err != nil {
		return fmt.Errorf("upload frame: %w", err)
	}

	jsonData, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal detections: %w", err)
	}

	if _, err := c.client.PutObject(ctx, c.bucket, base+".json",
		bytes.NewReader(jsonData), int64(len(jsonData)),
		minio.PutObjectOptions{ContentType: "application/json"},
	); err != nil {
		return fmt.Errorf("upload detections: %w", err)
	}
	return nil
}

// SnapshotKey is the object name without extension
func SnapshotKey(sample *models.FrameSample) string {
	ts := sample.CapturedAt.UTC()
	return path.Join(sanitize(sample.DeviceID), ts.Format("2006-01-02"), ts.Format("150405.000000"))
}

// ListSnapshots returns the archived frame names for a device, oldest first
func (c *Client) ListSnapshots(ctx context.Context, deviceID string) ([]string, error) {
	var names []string
	objectCh := c.client.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    sanitize(deviceID) + "/",
		Recursive: true,
	})

	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("error listing objects: %w", object.Err)
		}
		if strings.HasSuffix(object.Key, ".jpg") {
			names = append(names, object.Key)
		}
	}
	return names, nil
}

func sanitize(deviceID string) string {
	if deviceID == "" {
		return "unknown"
	}
	return strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(deviceID)
}
