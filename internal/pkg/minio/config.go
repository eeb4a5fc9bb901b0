package minio

import "errors"

// Config MinIO 客户端配置
type Config struct {
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`                   // 服务地址 (host:port)
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`         // 访问密钥 ID
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"` // 访问密钥
	UseSSL          bool   `mapstructure:"use_ssl" yaml:"use_ssl"`                     // 启用 HTTPS
	Region          string `mapstructure:"region" yaml:"region"`                       // 区域
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`                       // 默认存储桶
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("minio: endpoint is required")
	}
	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return errors.New("minio: credentials are required")
	}
	if c.Bucket == "" {
		return errors.New("minio: bucket is required")
	}
	return nil
}
