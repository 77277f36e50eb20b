package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv keeps the caller's environment from leaking into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvStorePath, "")
	t.Setenv(EnvWeaviateURL, "")
	t.Setenv(EnvLogLevel, "")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name          string
		globalName    string
		globalConfig  string
		projectName   string
		projectConfig string
		check         func(t *testing.T, cfg *Config)
	}{
		{
			name: "No config files - returns defaults",
			check: func(t *testing.T, cfg *Config) {
				if cfg.Store.Driver != "sqlite" {
					t.Errorf("driver = %q, want sqlite", cfg.Store.Driver)
				}
				if cfg.Cache.MaxSessions != 1024 {
					t.Errorf("max sessions = %d, want 1024", cfg.Cache.MaxSessions)
				}
				if cfg.Validation.RejectCycles || cfg.Validation.RejectUnknownDependencies {
					t.Error("validation must default to off")
				}
				if cfg.Mirror.Retry.MaxElapsedTime.Std() != 30*time.Second {
					t.Errorf("retry max elapsed = %v, want 30s", cfg.Mirror.Retry.MaxElapsedTime.Std())
				}
			},
		},
		{
			name:         "Global JSON only - overrides one field, keeps siblings",
			globalName:   "global.json",
			globalConfig: `{"store": {"driver": "badger"}}`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.Store.Driver != "badger" {
					t.Errorf("driver = %q, want badger", cfg.Store.Driver)
				}
				if cfg.Store.Path == "" {
					t.Error("store path lost during merge")
				}
			},
		},
		{
			name:          "Project YAML overrides global JSON",
			globalName:    "global.json",
			globalConfig:  `{"log": {"level": "debug"}, "cache": {"max_sessions": 5}}`,
			projectName:   "project.yaml",
			projectConfig: "log:\n  level: warn\nmirror:\n  retry:\n    max_interval: 2s\n",
			check: func(t *testing.T, cfg *Config) {
				if cfg.Log.Level != "warn" {
					t.Errorf("log level = %q, want warn", cfg.Log.Level)
				}
				if cfg.Cache.MaxSessions != 5 {
					t.Errorf("max sessions = %d, want 5 from global", cfg.Cache.MaxSessions)
				}
				if cfg.Mirror.Retry.MaxInterval.Std() != 2*time.Second {
					t.Errorf("max interval = %v, want 2s", cfg.Mirror.Retry.MaxInterval.Std())
				}
				if cfg.Mirror.Retry.InitialInterval.Std() != 100*time.Millisecond {
					t.Errorf("initial interval = %v, want default 100ms", cfg.Mirror.Retry.InitialInterval.Std())
				}
			},
		},
		{
			name:          "YML extension enables validation flags",
			projectName:   "project.yml",
			projectConfig: "validation:\n  reject_cycles: true\n  reject_unknown_dependencies: true\n",
			check: func(t *testing.T, cfg *Config) {
				if !cfg.Validation.RejectCycles || !cfg.Validation.RejectUnknownDependencies {
					t.Errorf("validation = %+v, want both enabled", cfg.Validation)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			tmpDir := t.TempDir()

			var globalPath, projectPath string
			if tt.globalName != "" {
				globalPath = filepath.Join(tmpDir, tt.globalName)
				writeFile(t, globalPath, tt.globalConfig)
			}
			if tt.projectName != "" {
				projectPath = filepath.Join(tmpDir, tt.projectName)
				writeFile(t, projectPath, tt.projectConfig)
			}

			cfg, err := Load(globalPath, projectPath)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoad_MalformedJSON(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()

	globalPath := filepath.Join(tmpDir, "global.json")
	writeFile(t, globalPath, "{invalid json")

	_, err := Load(globalPath, "")
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()

	projectPath := filepath.Join(tmpDir, "project.yaml")
	writeFile(t, projectPath, "store: [unclosed")

	if _, err := Load("", projectPath); err == nil {
		t.Fatal("expected error for malformed YAML, got nil")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown driver", `{"store": {"driver": "postgres"}}`},
		{"empty store path", `{"store": {"path": ""}}`},
		{"bad log level", `{"log": {"level": "loud"}}`},
		{"bad duration", `{"mirror": {"retry": {"max_interval": "soon"}}}`},
		{"bad weaviate url", `{"mirror": {"weaviate_url": "not a url"}}`},
		{"zero cache", `{"cache": {"max_sessions": 0}}`},
		{"unknown exporter", `{"tracing": {"exporter": "zipkin"}}`},
		{"otlp without endpoint", `{"tracing": {"exporter": "otlp"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			path := filepath.Join(t.TempDir(), "config.json")
			writeFile(t, path, tt.content)

			if _, err := Load(path, ""); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFilesNotError(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("/nonexistent/global.json", "/nonexistent/project.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing files, got: %v", err)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("driver = %q, want default sqlite", cfg.Store.Driver)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv(EnvStorePath, "/var/lib/taskgraph/tasks.db")
	t.Setenv(EnvWeaviateURL, "http://weaviate:8080")
	t.Setenv(EnvLogLevel, "DEBUG")

	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"store": {"path": "from-file.db"}}`)

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Path != "/var/lib/taskgraph/tasks.db" {
		t.Errorf("store path = %q, want env value", cfg.Store.Path)
	}
	if cfg.Mirror.WeaviateURL != "http://weaviate:8080" {
		t.Errorf("weaviate url = %q, want env value", cfg.Mirror.WeaviateURL)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Log.Level)
	}
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	if got := findConfigFile(dir); got != filepath.Join(dir, "config.json") {
		t.Errorf("empty dir: got %q", got)
	}

	writeFile(t, filepath.Join(dir, "config.yaml"), "log:\n  level: info\n")
	if got := findConfigFile(dir); got != filepath.Join(dir, "config.yaml") {
		t.Errorf("yaml only: got %q", got)
	}
}
