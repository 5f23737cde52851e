// Package specifier 解析与格式化 npm 说明符 `name[@range][/path]`，并负责
// CDN 请求路径（/npm/...）与本地缓存路径（/_npm/...）之间的互相转换。
package specifier

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// RequestPrefix 是源码中 CDN 风格导入的前缀，例如 /npm/d3@7/+esm。
	RequestPrefix = "/npm/"
	// CachePrefix 是缓存命名空间前缀，其后的版本一定是已解析的精确版本。
	CachePrefix = "/_npm/"

	// EntryMarker 表示 CDN 的 export-map 默认入口。
	EntryMarker = "+esm"
	// EntryFile 是 EntryMarker 在缓存中对应的文件名。
	EntryFile = "_esm.js"
)

// ErrInvalidPath 表示缓存路径缺少 /_npm/ 前缀。
var ErrInvalidPath = errors.New("invalid npm path")

// Specifier 描述一个 npm 说明符，空字符串表示对应部分缺省。
type Specifier struct {
	Name  string
	Range string
	Path  string
}

// Parse 拆分说明符文本。以 @ 开头时前两段构成 scope 名称；名称段中非首字符的 @
// 之后为版本范围；其余部分以 / 重新拼接为子路径。任何输入都不会报错。
func Parse(text string) Specifier {
	parts := strings.Split(text, "/")
	var namerange string
	if strings.HasPrefix(text, "@") && len(parts) > 1 {
		namerange = parts[0] + "/" + parts[1]
		parts = parts[2:]
	} else {
		namerange = parts[0]
		parts = parts[1:]
	}

	spec := Specifier{Name: namerange}
	if len(namerange) > 1 {
		if at := strings.IndexByte(namerange[1:], '@'); at >= 0 {
			at++
			spec.Name = namerange[:at]
			spec.Range = namerange[at+1:]
		}
	}
	if len(parts) > 0 {
		spec.Path = strings.Join(parts, "/")
	}
	return spec
}

// Format 是 Parse 的逆操作，缺省部分不输出。
func Format(s Specifier) string {
	var b strings.Builder
	b.WriteString(s.Name)
	if s.Range != "" {
		b.WriteString("@")
		b.WriteString(s.Range)
	}
	if s.Path != "" {
		b.WriteString("/")
		b.WriteString(s.Path)
	}
	return b.String()
}

// String implements fmt.Stringer.
func (s Specifier) String() string {
	return Format(s)
}

// FromCachePath 将缓存路径还原为 CDN 请求说明符：
//
//	/_npm/d3@7.9.0/_esm.js        -> d3@7.9.0/+esm
//	/_npm/@scope/pkg@1.0.0/x/_esm.js -> @scope/pkg@1.0.0/x/+esm
func FromCachePath(path string) (string, error) {
	if !strings.HasPrefix(path, CachePrefix) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, path)
	}
	parts := strings.Split(path, "/") // ["", "_npm", "d3@7.9.0", "_esm.js"]
	i := 3
	if len(parts) > 2 && strings.HasPrefix(parts[2], "@") {
		i = 4
	}
	i = min(i, len(parts))
	namever := strings.Join(parts[2:i], "/")
	subpath := strings.Join(parts[i:], "/")
	switch {
	case subpath == EntryFile:
		subpath = EntryMarker
	case strings.HasSuffix(subpath, "/"+EntryFile):
		subpath = strings.TrimSuffix(subpath, EntryFile) + EntryMarker
	}
	return namever + "/" + subpath, nil
}

// FromRequest 去掉 /npm/ 前缀；ok 为 false 表示不是 CDN 风格说明符。
func FromRequest(value string) (string, bool) {
	if !strings.HasPrefix(value, RequestPrefix) {
		return "", false
	}
	return strings.TrimPrefix(value, RequestPrefix), true
}

// CachePath 构造 /_npm/<name>@<version>/<path>，末尾的 +esm 映射为 _esm.js。
func CachePath(name, version, path string) string {
	if path == EntryMarker {
		path = EntryFile
	} else if strings.HasSuffix(path, "/"+EntryMarker) {
		path = strings.TrimSuffix(path, EntryMarker) + EntryFile
	}
	return CachePrefix + name + "@" + version + "/" + path
}

// VersionDir 返回 name@version 在缓存命名空间下的目录，例如 /_npm/d3@7.9.0。
func VersionDir(name, version string) string {
	return CachePrefix + name + "@" + version
}
