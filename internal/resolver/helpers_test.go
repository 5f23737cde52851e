package resolver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/esm-hub/internal/cache"
	"github.com/any-hub/esm-hub/internal/logging"
	"github.com/any-hub/esm-hub/internal/upstream"
)

const jsType = "application/javascript; charset=utf-8"

type fakeFile struct {
	contentType string
	body        string
}

// fakeUpstream 同时扮演 CDN 与版本解析接口，并记录每个请求 URI 的命中次数。
type fakeUpstream struct {
	mu       sync.Mutex
	files    map[string]fakeFile
	versions map[string]string
	hits     map[string]int
	gate     chan struct{}
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		files:    make(map[string]fakeFile),
		versions: make(map[string]string),
		hits:     make(map[string]int),
	}
}

// file 注册 GET /npm/<spec> 的响应。
func (f *fakeUpstream) file(spec, contentType, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files["/npm/"+spec] = fakeFile{contentType: contentType, body: body}
}

// version 注册 name 在 rng 下的解析结果，version 为空表示响应缺少该字段。
func (f *fakeUpstream) version(name, rng, version string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versions[name+"@"+rng] = version
}

func (f *fakeUpstream) count(uri string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[uri]
}

func (f *fakeUpstream) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.hits {
		n += c
	}
	return n
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits[r.URL.RequestURI()]++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if rest, ok := strings.CutPrefix(r.URL.Path, "/v1/packages/npm/"); ok {
		name := strings.TrimSuffix(rest, "/resolved")
		version, found := f.versions[name+"@"+r.URL.Query().Get("specifier")]
		if !found {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		payload := map[string]string{}
		if version != "" {
			payload["version"] = version
		}
		_ = json.NewEncoder(w).Encode(payload)
		return
	}

	file, found := f.files[r.URL.Path]
	if !found {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", file.contentType)
	_, _ = w.Write([]byte(file.body))
}

type testEnv struct {
	resolver *Resolver
	store    cache.Store
	upstream *fakeUpstream
}

func newTestEnv(t *testing.T, up *fakeUpstream) *testEnv {
	t.Helper()
	return newTestEnvWithLogger(t, up, logging.Discard())
}

func newTestEnvWithLogger(t *testing.T, up *fakeUpstream, logger *logrus.Logger) *testEnv {
	t.Helper()

	server := httptest.NewServer(up)
	t.Cleanup(server.Close)

	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	r, err := New(Options{
		Store:        store,
		Client:       upstream.NewClient(server.Client(), upstream.Options{}),
		Logger:       logger,
		CDNBase:      server.URL,
		RegistryBase: server.URL,
	})
	if err != nil {
		t.Fatalf("create resolver: %v", err)
	}
	return &testEnv{resolver: r, store: store, upstream: up}
}

func (e *testEnv) mkdirs(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if err := e.store.MkdirAll(p); err != nil {
			t.Fatalf("mkdir %s: %v", p, err)
		}
	}
}

func readFile(t *testing.T, filePath string) string {
	t.Helper()
	data, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatalf("read %s: %v", filePath, err)
	}
	return string(data)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
