package s3

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"ubirescue/pkg/storage"
)

// Adapter 把恢复出的树写进 S3 bucket 的某个前缀下，实现 storage.Destination
// 取证流水线的常见形态：一台机器挂镜像做恢复，产物直接归档到对象存储。
type Adapter struct {
	client *s3.Client
	bucket string
	prefix string
}

// Config 用于初始化 Adapter
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// NewAdapter 初始化 S3 客户端 (适配 AWS SDK v2 规范)
func NewAdapter(ctx context.Context, cfg Config) (*Adapter, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// MinIO 等自建端点必须用 Path Style (http://host:9000/bucket/key)
		o.UsePathStyle = true
	})

	return &Adapter{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.TrimSuffix(cfg.Prefix, "/"),
	}, nil
}

func (a *Adapter) key(path string) string {
	if a.prefix == "" {
		return path
	}
	return a.prefix + "/" + path
}

// Prepare 检查前缀下是否已有对象
// 对象存储没有廉价的“整树删除”，force 模式依赖键级确定性覆盖：
// 同一棵树重复导出会写进完全相同的键，结果仍然是幂等的。
func (a *Adapter) Prepare(ctx context.Context, force bool) error {
	if force {
		return nil
	}

	out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(a.bucket),
		Prefix:  aws.String(a.key("")),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return fmt.Errorf("list destination prefix: %w", err)
	}
	if len(out.Contents) > 0 {
		return storage.ErrNotEmpty
	}
	return nil
}

// MkdirAll 在对象存储里是空操作：前缀随对象一起出现
func (a *Adapter) MkdirAll(ctx context.Context, path string) error { return nil }

func (a *Adapter) WriteFile(ctx context.Context, path string, content []byte, mode uint32, mtime time.Time) error {
	meta := map[string]string{
		"ubr-mode": strconv.FormatUint(uint64(mode), 8),
	}
	if !mtime.IsZero() {
		meta["ubr-mtime"] = strconv.FormatInt(mtime.Unix(), 10)
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.key(path)),
		Body:        bytes.NewReader(content),
		Metadata:    meta,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", path, err)
	}
	return nil
}

// Symlink 以“目标字符串 + 标记元数据”的形式落进对象
func (a *Adapter) Symlink(ctx context.Context, path, target string) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(a.bucket),
		Key:      aws.String(a.key(path)),
		Body:     strings.NewReader(target),
		Metadata: map[string]string{"ubr-symlink": "1"},
	})
	if err != nil {
		return fmt.Errorf("s3 put symlink %s: %w", path, err)
	}
	return nil
}

// Link 退化为服务端复制：S3 没有链接原语，但 CopyObject 不经过本机
func (a *Adapter) Link(ctx context.Context, path, existing string) error {
	_, err := a.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(a.bucket),
		Key:        aws.String(a.key(path)),
		CopySource: aws.String(a.bucket + "/" + a.key(existing)),
	})
	if err != nil {
		return fmt.Errorf("s3 copy %s -> %s: %w", existing, path, err)
	}
	return nil
}

func (a *Adapter) PutManifest(ctx context.Context, name string, data []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.key(name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/cbor"),
	})
	if err != nil {
		return fmt.Errorf("s3 put manifest: %w", err)
	}
	return nil
}
