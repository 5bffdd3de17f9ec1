package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"wellness_backend/internal/config"
	"wellness_backend/internal/util"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ClipStore 音频片段的对象存储
type ClipStore interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	URL(key string) string
}

// LocalClipStore 写入本地目录，由 /uploads 静态路由对外提供
type LocalClipStore struct {
	Root string
}

func (p *LocalClipStore) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	dst := filepath.Join(p.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, reader)
	return err
}

func (p *LocalClipStore) URL(key string) string {
	return "/uploads/" + key
}

// MinioClipStore MinIO存储实现
type MinioClipStore struct {
	Bucket string
	Client *minio.Client
}

func NewMinioClipStore(cfg *config.StorageConfig) (*MinioClipStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: false,
	})
	if err != nil {
		return nil, err
	}
	return &MinioClipStore{Bucket: cfg.MinioBucket, Client: client}, nil
}

func (p *MinioClipStore) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	_, err := p.Client.PutObject(ctx, p.Bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (p *MinioClipStore) URL(key string) string {
	return "/" + p.Bucket + "/" + key
}

// OSSClipStore 阿里云OSS存储实现
type OSSClipStore struct {
	Endpoint string
	Bucket   *oss.Bucket
}

func NewOSSClipStore(cfg *config.StorageConfig) (*OSSClipStore, error) {
	client, err := oss.New(cfg.OSSEndpoint, cfg.OSSAccessKey, cfg.OSSSecretKey)
	if err != nil {
		return nil, err
	}
	bucket, err := client.Bucket(cfg.OSSBucket)
	if err != nil {
		return nil, err
	}
	return &OSSClipStore{Endpoint: cfg.OSSEndpoint, Bucket: bucket}, nil
}

func (p *OSSClipStore) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	return p.Bucket.PutObject(key, reader, oss.ContentType(contentType))
}

func (p *OSSClipStore) URL(key string) string {
	return fmt.Sprintf("https://%s.%s/%s", p.Bucket.BucketName, p.Endpoint, key)
}

// StorageService 保存合成语音，返回可访问的 URL
type StorageService struct {
	Store ClipStore
	now   func() time.Time
}

func NewStorageService(cfg *config.StorageConfig) (*StorageService, error) {
	var (
		store ClipStore
		err   error
	)
	switch cfg.Type {
	case util.StorageMinio:
		store, err = NewMinioClipStore(cfg)
	case util.StorageOSS:
		store, err = NewOSSClipStore(cfg)
	case util.StorageLocal, "":
		store = &LocalClipStore{Root: cfg.LocalPath}
	default:
		return nil, fmt.Errorf("%w: %s", util.ErrUnsupportedStorage, cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s storage: %w", cfg.Type, err)
	}
	return &StorageService{Store: store, now: time.Now}, nil
}

// clipKey 按日期分目录：tts/2006-01-02/<session>_<n>.mp3
func (s *StorageService) clipKey(sessionID string) string {
	day := s.now().Format(util.DateFormat)
	name := strings.ReplaceAll(sessionID, "/", "_")
	if name == "" {
		name = "anonymous"
	}
	return path.Join("tts", day, fmt.Sprintf("%s_%d.mp3", name, s.now().UnixNano()))
}

func (s *StorageService) SaveSpeech(ctx context.Context, sessionID string, audio []byte) (string, error) {
	key := s.clipKey(sessionID)
	if err := s.Store.Put(ctx, key, bytes.NewReader(audio), int64(len(audio)), util.MimeAudioMPEG); err != nil {
		return "", fmt.Errorf("store speech clip: %w", err)
	}
	return s.Store.URL(key), nil
}
