package storage

import (
	"errors"
	"strings"

	"github.com/ManuelReschke/ForumFox/internal/pkg/env"
)

// Config holds object storage configuration
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	PublicBaseURL   string // Optional CDN or bucket website root
	Enabled         bool
	MaxUploadBytes  int64
}

// LoadConfig loads S3 configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		PublicBaseURL:   strings.TrimRight(env.GetEnv("S3_PUBLIC_BASE_URL", ""), "/"),
		Enabled:         env.GetEnvBool("S3_ENABLED", false),
		MaxUploadBytes:  int64(env.GetEnvInt("UPLOAD_MAX_BYTES", 10<<20)),
	}

	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when S3 storage is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when S3 storage is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when S3 storage is enabled")
		}
	}

	return config, nil
}

// PublicURL returns the URL an object is served from.
func (c *Config) PublicURL(objectKey string) string {
	key := strings.TrimLeft(objectKey, "/")
	switch {
	case c.PublicBaseURL != "":
		return c.PublicBaseURL + "/" + key
	case c.EndpointURL != "":
		// path-style addressing
		return strings.TrimRight(c.EndpointURL, "/") + "/" + c.BucketName + "/" + key
	default:
		return "https://" + c.BucketName + ".s3." + c.Region + ".amazonaws.com/" + key
	}
}
