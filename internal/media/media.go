// Package media stores course thumbnails on the object store.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/coursemart/marketplace/internal/config"
)

var ErrUnsupportedImage = errors.New("unsupported image format")

type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
}

type OSS struct {
	bucket     *oss.Bucket
	publicBase string
}

func NewOSS(cfg config.MediaConfig) (*OSS, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("init oss client: %w", err)
	}

	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("open oss bucket %s: %w", cfg.Bucket, err)
	}

	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
		base = fmt.Sprintf("https://%s.%s", cfg.Bucket, endpoint)
	}

	return &OSS{bucket: bucket, publicBase: base}, nil
}

// Upload stores body under key and returns its public URL.
func (o *OSS) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	opts := []oss.Option{
		oss.WithContext(ctx),
		oss.ContentType(contentType),
		oss.ContentDisposition("inline"),
		oss.CacheControl("public, max-age=31536000, immutable"),
	}
	if err := o.bucket.PutObject(key, body, opts...); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return o.publicBase + "/" + key, nil
}

// ThumbnailKey builds a collision-free object key for a thumbnail uploaded
// by the given educator.
func ThumbnailKey(educatorID string) string {
	return path.Join("courses", educatorID, "thumbnail-"+uuid.NewString()+".jpg")
}

// PrepareThumbnail decodes an uploaded image, shrinks it to fit within
// maxW x maxH and re-encodes it as JPEG.
func PrepareThumbnail(r io.Reader, maxW, maxH int) ([]byte, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	if maxW > 0 && maxH > 0 {
		img = imaging.Fit(img, maxW, maxH, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
