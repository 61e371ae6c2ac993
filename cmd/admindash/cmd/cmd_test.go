package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/pitabwire/admindash/internal/config"
	"github.com/pitabwire/admindash/internal/observability"
	"github.com/pitabwire/admindash/internal/query"
	"github.com/pitabwire/admindash/internal/serviceconfig"
)

const usersSpec = "../../../internal/openapi/testdata/users.yaml"

const usersYAML = `
code: users
display_name: Users
enabled: true
api:
  endpoints:
    list: /api/users
    update: /api/users/{id}
fields:
  - key: name
    label: Name
    type: text
`

const brokenYAML = `
- code: teams
  display_name: Teams
  enabled: true
  api:
    endpoints:
      list: /api/teams
  fields:
    - key: kind
      label: Kind
      type: select
- code: users
  display_name: Users
  enabled: true
  api:
    endpoints:
      list: /api/users
      delete: /api/users/{id}
`

func writeConfig(t *testing.T, services string) string {
	t.Helper()
	dir := t.TempDir()
	svcDir := filepath.Join(dir, "services")
	if err := os.MkdirAll(svcDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(svcDir, "services.yaml"), []byte(services), 0o644); err != nil {
		t.Fatal(err)
	}
	spec, err := filepath.Abs(usersSpec)
	if err != nil {
		t.Fatal(err)
	}
	cfg := "services:\n" +
		"  source: directory\n" +
		"  directories: [" + svcDir + "]\n" +
		"  openapi:\n" +
		"    - service_code: users\n" +
		"      spec_file: " + spec + "\n"
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func loadConfig(t *testing.T, path string) *config.Config {
	t.Helper()
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("config.Load() = %v", err)
	}
	return cfg
}

func TestCheck_clean(t *testing.T) {
	cfg := loadConfig(t, writeConfig(t, usersYAML))

	var out bytes.Buffer
	if err := check(context.Background(), cfg, &out); err != nil {
		t.Fatalf("check() = %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "1 service configs, 1 valid, 0 problems") {
		t.Errorf("summary = %q", out.String())
	}
}

func TestCheck_problems(t *testing.T) {
	cfg := loadConfig(t, writeConfig(t, brokenYAML))

	var out bytes.Buffer
	err := check(context.Background(), cfg, &out)
	if err == nil {
		t.Fatal("check() should fail")
	}
	got := out.String()
	if !strings.Contains(got, "rejected teams") {
		t.Errorf("output missing rejected config: %q", got)
	}
	if !strings.Contains(got, "undocumented users.delete") {
		t.Errorf("output missing mismatch: %q", got)
	}
	if !strings.Contains(got, "2 service configs, 1 valid, 2 problems") {
		t.Errorf("summary = %q", got)
	}
}

func TestRootCommand_check(t *testing.T) {
	path := writeConfig(t, usersYAML)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"check", "--config", path})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	if err := Execute(); err != nil {
		t.Fatalf("Execute() = %v", err)
	}
	if !strings.Contains(out.String(), "0 problems") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRootCommand_missingConfig(t *testing.T) {
	rootCmd.SetArgs([]string{"check", "--config", filepath.Join(t.TempDir(), "absent.yaml")})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	if err := Execute(); err == nil {
		t.Error("Execute() should fail for a missing config file")
	}
}

func TestBuildFilterStore(t *testing.T) {
	logger := zap.NewNop()

	store, health, closer, err := buildFilterStore(config.FilterStoreConfig{Driver: config.FilterStoreMemory}, logger)
	if err != nil || health != nil || closer != nil {
		t.Fatalf("memory = %T, %v, %v", store, health, err)
	}
	if _, ok := store.(*query.MemoryFilterStore); !ok {
		t.Errorf("memory driver built %T", store)
	}

	store, _, _, err = buildFilterStore(config.FilterStoreConfig{Driver: config.FilterStoreFile, Directory: t.TempDir()}, logger)
	if err != nil {
		t.Fatalf("file driver error = %v", err)
	}
	if _, ok := store.(*query.FileFilterStore); !ok {
		t.Errorf("file driver built %T", store)
	}

	if _, _, _, err := buildFilterStore(config.FilterStoreConfig{Driver: "etcd"}, logger); err == nil {
		t.Error("unknown driver should fail")
	}
}

func TestBuildFilterStore_redis(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("TEST_REDIS_ADDR", mr.Addr())

	cfg := config.FilterStoreConfig{Driver: config.FilterStoreRedis, AddrEnv: "TEST_REDIS_ADDR", Prefix: "t:"}
	store, health, closer, err := buildFilterStore(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("buildFilterStore() = %v", err)
	}
	defer closer()

	if err := health.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}
	if err := store.Save(context.Background(), "users", map[string]any{"q": "ada"}); err != nil {
		t.Fatalf("Save() = %v", err)
	}
	if !mr.Exists("t:users") {
		t.Errorf("keys = %v, want t:users", mr.Keys())
	}

	cfg.AddrEnv = "TEST_REDIS_ADDR_UNSET"
	if _, _, _, err := buildFilterStore(cfg, zap.NewNop()); err == nil {
		t.Error("missing address should fail")
	}
}

func TestBuildConfigSource(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	client := query.NewClient()

	src, err := buildConfigSource(ctx, config.ServicesConfig{Source: config.SourceDirectory, Directories: []string{"a", "b"}}, nil, client, query.Policy{}, logger)
	if err != nil {
		t.Fatalf("directory source error = %v", err)
	}
	if _, ok := src.source.(*serviceconfig.DirSource); !ok || len(src.dirs) != 2 {
		t.Errorf("directory source = %+v", src)
	}

	src, err = buildConfigSource(ctx, config.ServicesConfig{Source: config.SourceHTTP, Endpoint: "/api/service-config"}, nil, client, query.Policy{}, logger)
	if err != nil {
		t.Fatalf("http source error = %v", err)
	}
	if _, ok := src.source.(*serviceconfig.HTTPSource); !ok || src.dirs != nil {
		t.Errorf("http source = %+v", src)
	}

	pg := config.ServicesConfig{Source: config.SourcePostgres, Postgres: config.PostgresConfig{DSNEnv: "TEST_ADMINDASH_DSN_UNSET"}}
	if _, err := buildConfigSource(ctx, pg, nil, client, query.Policy{}, logger); err == nil {
		t.Error("postgres without a DSN should fail")
	}
	if _, err := buildConfigSource(ctx, config.ServicesConfig{Source: "s3"}, nil, client, query.Policy{}, logger); err == nil {
		t.Error("unknown source should fail")
	}
}

func TestInstrumentBackend(t *testing.T) {
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	wantErr := errors.New("down")
	backend := instrumentBackend(query.BackendFunc(func(context.Context, string, string, url.Values, any) (json.RawMessage, error) {
		return nil, wantErr
	}), metrics)

	if _, err := backend.Do(context.Background(), http.MethodGet, "/api/users", nil, nil); !errors.Is(err, wantErr) {
		t.Errorf("Do() error = %v, want %v", err, wantErr)
	}
	if n := testutil.CollectAndCount(metrics.BackendRequestDuration); n != 1 {
		t.Errorf("backend duration series = %d, want 1", n)
	}
}

func TestBuildSpecSources(t *testing.T) {
	got := buildSpecSources([]config.SpecSource{{ServiceCode: "users", SpecFile: "users.yaml"}})
	if len(got) != 1 || got[0].ServiceCode != "users" || got[0].SpecPath != "users.yaml" {
		t.Errorf("buildSpecSources() = %+v", got)
	}
}
