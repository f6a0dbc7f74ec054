package storage

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/fgbackuppro/fgbackuppro/internal/config"
	"github.com/fgbackuppro/fgbackuppro/pkg/logger"
)

// MinioMirror 将产物副本上传到 MinIO。本地文件始终是权威存储，
// 上传失败由调用方降级处理。
type MinioMirror struct {
	client        *minio.Client
	endpoint      string
	bucket        string
	bucketEnsured bool
}

// NewMinioMirror 按配置初始化镜像客户端；配置不完整或初始化失败返回 nil
func NewMinioMirror(cfg config.MinioConfig) *MinioMirror {
	if !cfg.Enabled {
		return nil
	}
	host := strings.TrimSpace(cfg.Host)
	if host == "" || cfg.Port <= 0 {
		logger.Warn("MinIO mirror enabled but host/port missing")
		return nil
	}
	endpoint := fmt.Sprintf("%s:%d", host, cfg.Port)

	// 自定义传输，避免慢连接拖住备份流程
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.Secure,
		Transport: transport,
	})
	if err != nil {
		logger.Errorf("MinIO client initialization failed: %v", err)
		return nil
	}

	m := &MinioMirror{client: client, endpoint: endpoint, bucket: strings.TrimSpace(cfg.Bucket)}
	if m.bucket == "" {
		logger.Warn("MinIO bucket not configured")
		return nil
	}

	// 启动时做一次轻量 bucket 校验，失败延迟到首次上传重试
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.ensureBucket(ctx); err != nil {
		logger.Warnf("MinIO bucket ensure at init failed: %v", err)
	} else {
		m.bucketEnsured = true
	}
	return m
}

// Put 上传一个备份产物副本
func (m *MinioMirror) Put(ctx context.Context, objectName string, data []byte) error {
	if err := m.connectivityCheck(ctx); err != nil {
		return fmt.Errorf("minio connectivity failed to %s: %w", m.endpoint, err)
	}

	if !m.bucketEnsured {
		if err := m.ensureBucket(ctx); err != nil {
			return fmt.Errorf("minio ensure bucket failed: %w", err)
		}
		m.bucketEnsured = true
	}

	uploadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := m.client.PutObject(uploadCtx, m.bucket, objectName,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
	if err != nil {
		return fmt.Errorf("minio put object failed: %w", err)
	}
	return nil
}

// connectivityCheck TCP 直连快速探测，失败尽早返回
func (m *MinioMirror) connectivityCheck(ctx context.Context) error {
	d := &net.Dialer{Timeout: 3 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", m.endpoint)
	if err != nil {
		return err
	}
	_ = conn.Close()
	return nil
}

// ensureBucket 校验并按需创建 bucket
func (m *MinioMirror) ensureBucket(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := m.client.BucketExists(checkCtx, m.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return m.client.MakeBucket(checkCtx, m.bucket, minio.MakeBucketOptions{})
}
