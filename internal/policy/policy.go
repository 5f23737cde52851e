// Package policy 维护按包名注册的版本策略：某些消费方必须对特定依赖使用固定或
// latest 范围（避免同一页面加载两份不兼容的 Arrow / DuckDB 等共享库），某些包在
// 未指定时使用特定的默认范围或入口路径。
package policy

import (
	"errors"
	"strings"
	"sync"
)

// Policy 描述单个包作为消费方或被依赖方时的策略。
type Policy struct {
	// DefaultRange 在说明符未携带范围时使用。
	DefaultRange string
	// DefaultPath 在说明符未携带子路径时使用，缺省为 +esm。
	DefaultPath string
	// Overrides 将依赖包名映射到强制范围，优先于 package.json 中的声明。
	Overrides map[string]string
}

var registry sync.Map

// ErrDuplicatePolicy 表示同一包名重复注册。
var ErrDuplicatePolicy = errors.New("policy already registered")

// Register 为包名登记策略。
func Register(name string, p Policy) error {
	key := normalizeKey(name)
	if key == "" {
		return errors.New("package name required")
	}
	if _, loaded := registry.LoadOrStore(key, p); loaded {
		return ErrDuplicatePolicy
	}
	return nil
}

// MustRegister 注册失败时 panic，供 init() 使用。
func MustRegister(name string, p Policy) {
	if err := Register(name, p); err != nil {
		panic(err)
	}
}

// Fetch 返回包名对应的策略。
func Fetch(name string) (Policy, bool) {
	key := normalizeKey(name)
	if key == "" {
		return Policy{}, false
	}
	if value, ok := registry.Load(key); ok {
		if p, ok := value.(Policy); ok {
			return p, true
		}
	}
	return Policy{}, false
}

// Override 返回 consumer 对 dependency 的强制范围。
func Override(consumer, dependency string) (string, bool) {
	p, ok := Fetch(consumer)
	if !ok || p.Overrides == nil {
		return "", false
	}
	rng, ok := p.Overrides[normalizeKey(dependency)]
	return rng, ok
}

// DefaultRange 返回包未指定范围时使用的范围，没有则为空。
func DefaultRange(name string) string {
	p, _ := Fetch(name)
	return p.DefaultRange
}

// DefaultPath 返回包未指定子路径时使用的入口，缺省为 +esm。
func DefaultPath(name string) string {
	if p, ok := Fetch(name); ok && p.DefaultPath != "" {
		return p.DefaultPath
	}
	return "+esm"
}

// Snapshot 返回已注册包名到策略的拷贝，供诊断端输出。
func Snapshot() map[string]Policy {
	out := make(map[string]Policy)
	registry.Range(func(key, value any) bool {
		if p, ok := value.(Policy); ok {
			out[key.(string)] = p
		}
		return true
	})
	return out
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
