package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "ROOMBOT_TEST_DOTENV=from-file\nROOMBOT_TEST_PRESET=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ROOMBOT_TEST_PRESET", "from-env")
	t.Setenv("ROOMBOT_TEST_DOTENV", "")
	os.Unsetenv("ROOMBOT_TEST_DOTENV")

	loaded, err := LoadDotEnv(filepath.Join(dir, "missing.env"), path)
	if err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if len(loaded) != 1 || loaded[0] != path {
		t.Errorf("loaded = %v, want only the existing file", loaded)
	}
	if got := os.Getenv("ROOMBOT_TEST_DOTENV"); got != "from-file" {
		t.Errorf("ROOMBOT_TEST_DOTENV = %q, want from-file", got)
	}
	if got := os.Getenv("ROOMBOT_TEST_PRESET"); got != "from-env" {
		t.Errorf("ROOMBOT_TEST_PRESET = %q, existing variables must win", got)
	}
}

func TestWorkerEnv(t *testing.T) {
	cfg := Default()
	cfg.Worker.Env = map[string]string{"DEBUG": "false", "EMPTY": "", "region": "iad"}
	cfg.Worker.Passthrough = []string{"DAILY_API_KEY", "OPENAI_API_KEY", "DEBUG"}

	env := map[string]string{
		"DAILY_API_KEY": "daily",
		"DEBUG":         "true",
	}
	got := cfg.WorkerEnv(func(k string) string { return env[k] })

	want := map[string]string{
		"DEBUG":         "true",
		"DAILY_API_KEY": "daily",
		"REGION":        "iad",
	}
	if len(got) != len(want) {
		t.Fatalf("WorkerEnv() = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("WorkerEnv()[%s] = %q, want %q", k, got[k], v)
		}
	}
}

func TestMissingRequired(t *testing.T) {
	cfg := Default()
	env := map[string]string{"OPENAI_API_KEY": "x", "ELEVENLABS_API_KEY": " "}
	got := cfg.MissingRequired(func(k string) string { return env[k] })

	want := []string{"DAILY_API_KEY", "ELEVENLABS_VOICE_ID", "ELEVENLABS_API_KEY"}
	if len(got) != len(want) {
		t.Fatalf("MissingRequired() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("MissingRequired()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
