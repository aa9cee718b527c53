// Package archive uploads dispatched event photos to an S3-compatible bucket.
package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"herdwatch/internal/logger"
	"herdwatch/internal/models"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const DefaultQueueSize = 64

// ObjectPutter is the subset of the minio client used for uploads.
type ObjectPutter interface {
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type upload struct {
	camera string
	path   string
}

// Uploader drains a bounded queue of files into the bucket. Enqueue never
// blocks; files are dropped when the queue is full.
type Uploader struct {
	client ObjectPutter
	bucket string
	queue  chan upload
	log    *logger.Entry

	mu     sync.Mutex
	closed bool
}

func NewMinioClient(cfg models.ArchiveConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return client, nil
}

func NewUploader(client ObjectPutter, bucket string, queueSize int) *Uploader {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	return &Uploader{
		client: client,
		bucket: bucket,
		queue:  make(chan upload, queueSize),
		log:    logger.Tagged("archive"),
	}
}

// ObjectName is the key a file is stored under: <camera>/<file>.
func ObjectName(camera, path string) string {
	return camera + "/" + filepath.Base(path)
}

func (u *Uploader) Enqueue(camera, path string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return false
	}
	select {
	case u.queue <- upload{camera: camera, path: path}:
		return true
	default:
		return false
	}
}

// Close stops accepting work; Run returns once the queue is drained.
func (u *Uploader) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.closed {
		u.closed = true
		close(u.queue)
	}
}

// Run uploads queued files until Close is called or ctx is done.
func (u *Uploader) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-u.queue:
			if !ok {
				return
			}
			u.put(ctx, job)
		}
	}
}

func (u *Uploader) put(ctx context.Context, job upload) {
	object := ObjectName(job.camera, job.path)
	info, err := u.client.FPutObject(ctx, u.bucket, object, job.path, minio.PutObjectOptions{ContentType: "image/jpeg"})
	if err != nil {
		u.log.Warnf("Upload of %s failed: %v", object, err)
		return
	}
	u.log.Debugf("Uploaded %s (%d bytes)", object, info.Size)
}
