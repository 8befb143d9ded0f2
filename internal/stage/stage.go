// Package stage copies the files of a run to an S3 bucket, where warehouse
// loaders pick up BIGQUERY-mode tables.
package stage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Client is the object-store surface staging needs.
type Client interface {
	Put(ctx context.Context, bucket, key, localPath string) error
	// DeletePrefix removes all objects under prefix and reports how many.
	DeletePrefix(ctx context.Context, bucket, prefix string) (int, error)
}

// Uploader stages run files under <prefix>/<collection key>/.
type Uploader struct {
	client Client
	bucket string
	prefix string
}

// NewUploader creates a new Uploader.
func NewUploader(client Client, bucket, prefix string) *Uploader {
	return &Uploader{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Result holds the S3 URIs of staged files, in upload order, and the number
// of objects a previous run left that were removed.
type Result struct {
	URIs     []string
	Replaced int
}

// KeyPrefix is the key prefix all files of a collection are staged under.
func (u *Uploader) KeyPrefix(collectionKey string) string {
	return path.Join(u.prefix, collectionKey) + "/"
}

// Stage replaces whatever a previous run staged for the collection with
// files. Uploading stops at the first failure.
func (u *Uploader) Stage(ctx context.Context, collectionKey string, files []string) (*Result, error) {
	if collectionKey == "" {
		return nil, fmt.Errorf("staging needs a collection key")
	}
	prefix := u.KeyPrefix(collectionKey)
	n, err := u.client.DeletePrefix(ctx, u.bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("clearing previous stage: %w", err)
	}

	res := &Result{Replaced: n}
	for _, f := range files {
		uri, err := u.upload(ctx, prefix+filepath.Base(f), f)
		if err != nil {
			return res, err
		}
		res.URIs = append(res.URIs, uri)
	}
	return res, nil
}

// StageReport uploads a run report next to the staged tables.
func (u *Uploader) StageReport(ctx context.Context, collectionKey, reportPath string) (string, error) {
	return u.upload(ctx, u.KeyPrefix(collectionKey)+"reports/"+filepath.Base(reportPath), reportPath)
}

func (u *Uploader) upload(ctx context.Context, key, localPath string) (string, error) {
	if err := u.client.Put(ctx, u.bucket, key, localPath); err != nil {
		return "", fmt.Errorf("staging %s: %w", filepath.Base(localPath), err)
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}
