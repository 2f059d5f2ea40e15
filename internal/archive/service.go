// Package archive keeps point-in-time copies of published dictionary
// files in object storage, one object per committed file.
package archive

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Service struct {
	client *minio.Client
	bucket string
}

func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Service, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Service{client: client, bucket: bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Service) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// StoreSnapshot writes one dictionary file under
// synctasks/<taskID>/<fileName>. The repository path flattens to its
// base name; tasks never share a prefix.
func (s *Service) StoreSnapshot(ctx context.Context, taskID, filePath, content string) error {
	name := "synctasks/" + taskID + "/" + path.Base(filePath)
	_, err := s.client.PutObject(ctx, s.bucket, name, strings.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: "text/yaml",
	})
	if err != nil {
		return fmt.Errorf("store snapshot %s: %w", name, err)
	}
	return nil
}

// Snapshot is one archived file of a sync task.
type Snapshot struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// ListSnapshots returns the archived files of a task, sorted by name.
func (s *Service) ListSnapshots(ctx context.Context, taskID string) ([]Snapshot, error) {
	prefix := "synctasks/" + taskID + "/"
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	snapshots := make([]Snapshot, 0)
	for object := range objects {
		if object.Err != nil {
			return nil, fmt.Errorf("list snapshots: %w", object.Err)
		}
		snapshots = append(snapshots, Snapshot{
			Name: strings.TrimPrefix(object.Key, prefix),
			Size: object.Size,
		})
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Name < snapshots[j].Name })
	return snapshots, nil
}
