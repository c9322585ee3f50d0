package s3

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Capitan-Parrot/firewatch/internal/models"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type putCall struct {
	bucket, name, contentType string
	data                      []byte
}

type fakeStore struct {
	exists   bool
	existErr error
	made     int
	puts     []putCall
	objects  []minio.ObjectInfo
}

func (f *fakeStore) BucketExists(context.Context, string) (bool, error) {
	return f.exists, f.existErr
}

func (f *fakeStore) MakeBucket(context.Context, string, minio.MakeBucketOptions) error {
	f.made++
	f.exists = true
	return nil
}

func (f *fakeStore) PutObject(_ context.Context, bucket, name string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if int64(len(data)) != size {
		return minio.UploadInfo{}, errors.New("size mismatch")
	}
	f.puts = append(f.puts, putCall{bucket: bucket, name: name, contentType: opts.ContentType, data: data})
	return minio.UploadInfo{Bucket: bucket, Key: name, Size: size}, nil
}

func (f *fakeStore) ListObjects(context.Context, string, minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	ch := make(chan minio.ObjectInfo, len(f.objects))
	for _, o := range f.objects {
		ch <- o
	}
	close(ch)
	return ch
}

var sample = &models.FrameSample{
	DeviceID:   "usb cam/0",
	Data:       []byte{0xff, 0xd8, 0xff, 0xd9},
	CapturedAt: time.Date(2025, 3, 1, 10, 4, 5, 123456000, time.UTC),
}

func TestSaveSnapshot(t *testing.T) {
	store := &fakeStore{}
	c := &Client{client: store, bucket: "fire-snapshots"}
	result := &models.DetectionResult{Message: models.MessageFireDetected, Detections: []models.Detection{{ClassName: "fire"}}}

	require.NoError(t, c.SaveSnapshot(context.Background(), sample, result))
	require.NoError(t, c.SaveSnapshot(context.Background(), sample, result))

	assert.Equal(t, 1, store.made)
	require.Len(t, store.puts, 4)
	assert.Equal(t, "usb_cam_0/2025-03-01/100405.123456.jpg", store.puts[0].name)
	assert.Equal(t, "image/jpeg", store.puts[0].contentType)
	assert.Equal(t, sample.Data, store.puts[0].data)
	assert.Equal(t, "usb_cam_0/2025-03-01/100405.123456.json", store.puts[1].name)
	assert.Contains(t, string(store.puts[1].data), `"class_name":"fire"`)
}

func TestSaveSnapshotBucketError(t *testing.T) {
	store := &fakeStore{existErr: errors.New("access denied")}
	c := &Client{client: store, bucket: "fire-snapshots"}

	err := c.SaveSnapshot(context.Background(), sample, &models.DetectionResult{})
	assert.ErrorContains(t, err, "access denied")
	assert.Empty(t, store.puts)
}

func TestListSnapshots(t *testing.T) {
	store := &fakeStore{objects: []minio.ObjectInfo{
		{Key: "cam0/2025-03-01/100405.000000.jpg"},
		{Key: "cam0/2025-03-01/100405.000000.json"},
		{Key: "cam0/2025-03-01/100410.000000.jpg"},
	}}
	c := &Client{client: store, bucket: "fire-snapshots"}

	names, err := c.ListSnapshots(context.Background(), "cam0")
	require.NoError(t, err)
	assert.Equal(t, []string{"cam0/2025-03-01/100405.000000.jpg", "cam0/2025-03-01/100410.000000.jpg"}, names)

	store.objects = []minio.ObjectInfo{{Err: errors.New("timeout")}}
	_, err = c.ListSnapshots(context.Background(), "cam0")
	assert.Error(t, err)
}
