package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.StoragePath == "" {
		t.Fatalf("StoragePath 应该被保留")
	}
	if cfg.Global.ListenPort != 5000 {
		t.Fatalf("ListenPort 应当被解析")
	}
	if cfg.Global.InitialBackoff.DurationValue() != 500*time.Millisecond {
		t.Fatalf("InitialBackoff 解析错误: %s", cfg.Global.InitialBackoff.DurationValue())
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 20*time.Second {
		t.Fatalf("纯数字应按秒解析: %s", cfg.Global.UpstreamTimeout.DurationValue())
	}
	if cfg.Global.MaxRetries != 2 {
		t.Fatalf("MaxRetries 解析错误: %d", cfg.Global.MaxRetries)
	}
}

func TestLoadFillsEndpointDefaults(t *testing.T) {
	path := writeTempConfig(t, `
StoragePath = "./data"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.CDNBase != DefaultCDNBase || cfg.Global.RegistryBase != DefaultRegistryBase {
		t.Fatalf("默认上游未生效: %+v", cfg.Endpoints())
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 30*time.Second {
		t.Fatalf("UpstreamTimeout 默认值错误")
	}
}

func TestLoadTrimsTrailingSlash(t *testing.T) {
	path := writeTempConfig(t, `
StoragePath = "./data"
CDNBase = "https://cdn.example.com/"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.CDNBase != "https://cdn.example.com" {
		t.Fatalf("CDNBase 末尾斜杠未移除: %s", cfg.Global.CDNBase)
	}
}

func TestValidateRejectsBadUpstream(t *testing.T) {
	if _, err := Load(testConfigPath(t, "invalid.toml")); err == nil {
		t.Fatalf("不合法的 CDNBase 应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	err := cfg.Validate()
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Global.ListenPort" {
		t.Fatalf("ListenPort 超出范围应当报错, got %v", err)
	}
}

func TestValidateRejectsNegativeRetries(t *testing.T) {
	cfg := validConfig()
	cfg.Global.MaxRetries = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("MaxRetries 为负数应报错")
	}
}

func TestValidateUpstreamSchemes(t *testing.T) {
	testCases := []struct {
		name      string
		upstream  string
		shouldErr bool
	}{
		{"https ok", "https://cdn.jsdelivr.net", false},
		{"http ok", "http://127.0.0.1:8080", false},
		{"missing", "", true},
		{"ftp", "ftp://cdn.example.com", true},
		{"no host", "https://", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Global.RegistryBase = tc.upstream
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for %q", tc.upstream)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for %q: %v", tc.upstream, err)
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			StoragePath:     "./data",
			CDNBase:         DefaultCDNBase,
			RegistryBase:    DefaultRegistryBase,
			MaxRetries:      1,
			InitialBackoff:  Duration(time.Second),
			UpstreamTimeout: Duration(time.Second),
		},
	}
}
