// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
// 在本应用中对象存储用作本地模型权重的持久化缓存。
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/BARKKNIGHT/local-ai-chat/internal/config"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/log"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	// 1. 初始化 MinIO 客户端
	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}

	log.Info("MinIO 客户端初始化成功")

	// 2. 检查存储桶 (Bucket) 是否存在，如果不存在则创建
	ctx := context.Background()
	bucketName := cfg.BucketName
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}

	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
		err = MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", bucketName)
	}
}

// WeightCache 将模型权重对象存入 MinIO 存储桶。
// 对象名即模型 ID 加 ".weights" 后缀。
type WeightCache struct {
	client *minio.Client
	bucket string
}

// NewWeightCache 基于已初始化的 MinIO 客户端创建权重缓存。
func NewWeightCache(client *minio.Client, bucket string) *WeightCache {
	return &WeightCache{client: client, bucket: bucket}
}

func objectName(modelID string) string {
	return modelID + ".weights"
}

// Exists 查询某模型的权重对象是否已缓存。
func (w *WeightCache) Exists(ctx context.Context, modelID string) (bool, error) {
	_, err := w.client.StatObject(ctx, w.bucket, objectName(modelID), minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat weights for %q: %w", modelID, err)
	}
	return true, nil
}

// Put 写入一个模型的权重对象。size 为 -1 时表示长度未知。
func (w *WeightCache) Put(ctx context.Context, modelID string, r io.Reader, size int64) error {
	_, err := w.client.PutObject(ctx, w.bucket, objectName(modelID), r, size, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to store weights for %q: %w", modelID, err)
	}
	return nil
}

// Get 返回某模型权重对象的读取器，调用方负责关闭。
func (w *WeightCache) Get(ctx context.Context, modelID string) (io.ReadCloser, error) {
	obj, err := w.client.GetObject(ctx, w.bucket, objectName(modelID), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open weights for %q: %w", modelID, err)
	}
	return obj, nil
}

// Remove 删除某模型的权重对象。
func (w *WeightCache) Remove(ctx context.Context, modelID string) error {
	err := w.client.RemoveObject(ctx, w.bucket, objectName(modelID), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to remove weights for %q: %w", modelID, err)
	}
	return nil
}
