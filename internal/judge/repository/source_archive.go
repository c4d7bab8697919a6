package repository

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"judgeflow/internal/common/storage"
	"judgeflow/internal/judge/model"

	"github.com/klauspost/compress/zstd"
)

const sourceContentType = "application/zstd"

// SourceArchive keeps a zstd-compressed copy of every submitted source in object storage.
type SourceArchive struct {
	storage storage.ObjectStorage
	bucket  string
}

func NewSourceArchive(store storage.ObjectStorage, bucket string) *SourceArchive {
	return &SourceArchive{storage: store, bucket: bucket}
}

// SourceKey is the object key of a submission's archived source.
func SourceKey(submissionID string, lang model.Language) string {
	return fmt.Sprintf("submissions/%s/source.%s.zst", submissionID, lang)
}

// Archive uploads the source and returns its object key.
func (a *SourceArchive) Archive(ctx context.Context, sub *model.Submission) (string, error) {
	if a == nil || a.storage == nil {
		return "", nil
	}
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return "", fmt.Errorf("create zstd encoder: %w", err)
	}
	defer encoder.Close()

	src := []byte(sub.Content)
	compressed := encoder.EncodeAll(src, make([]byte, 0, len(src)/2+64))
	key := SourceKey(sub.ID, sub.Language)
	if err := a.storage.PutObject(ctx, a.bucket, key, bytes.NewReader(compressed), int64(len(compressed)), sourceContentType); err != nil {
		return "", fmt.Errorf("archive source %s: %w", sub.ID, err)
	}
	return key, nil
}

// Load reads back an archived source.
func (a *SourceArchive) Load(ctx context.Context, key string) (string, error) {
	if a == nil || a.storage == nil {
		return "", fmt.Errorf("source archive is not configured")
	}
	reader, err := a.storage.GetObject(ctx, a.bucket, key)
	if err != nil {
		return "", fmt.Errorf("get source %s: %w", key, err)
	}
	defer reader.Close()

	decoder, err := zstd.NewReader(reader)
	if err != nil {
		return "", fmt.Errorf("create zstd decoder: %w", err)
	}
	defer decoder.Close()
	data, err := io.ReadAll(decoder)
	if err != nil {
		return "", fmt.Errorf("decompress source %s: %w", key, err)
	}
	return string(data), nil
}
