package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError(globalField("ListenPort"), "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError(globalField("StoragePath"), "不能为空")
	}
	if g.MaxRetries < 0 {
		return newFieldError(globalField("MaxRetries"), "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError(globalField("InitialBackoff"), "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError(globalField("UpstreamTimeout"), "必须大于 0")
	}
	if err := validateUpstream(g.CDNBase); err != nil {
		return fmt.Errorf("%s: %w", globalField("CDNBase"), err)
	}
	if err := validateUpstream(g.RegistryBase); err != nil {
		return fmt.Errorf("%s: %w", globalField("RegistryBase"), err)
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
