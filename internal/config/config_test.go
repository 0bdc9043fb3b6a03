package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.VAD.SampleRate != 16000 {
		t.Fatalf("SampleRate = %d, want 16000", cfg.VAD.SampleRate)
	}
	if cfg.AudioPortCapacity != 64 {
		t.Fatalf("AudioPortCapacity = %d, want 64", cfg.AudioPortCapacity)
	}
}

func TestLoadDotenvOverridesEnv(t *testing.T) {
	t.Setenv("BACKEND_BASE_URL", "http://inherited:9000")

	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("BACKEND_BASE_URL=http://from-file:9000\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, err := Load(envPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BackendBaseURL != "http://from-file:9000" {
		t.Fatalf("BackendBaseURL = %q, want dotenv value to win", cfg.BackendBaseURL)
	}
}

func TestLoadDerivesStreamingFromSessionType(t *testing.T) {
	t.Setenv("SESSION_TYPE", "inbound")
	t.Setenv("IS_STREAMING", "true")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Streaming {
		t.Fatal("Streaming = true, want false for plain inbound session regardless of flag")
	}

	t.Setenv("SESSION_TYPE", "outbound")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Streaming {
		t.Fatal("Streaming = true, want false for plain outbound session regardless of flag")
	}

	t.Setenv("SESSION_TYPE", "browser")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Streaming {
		t.Fatal("Streaming = false, want true for a non-inbound/outbound session type with the flag set")
	}

	t.Setenv("IS_STREAMING", "false")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Streaming {
		t.Fatal("Streaming = true, want false when the flag is off even for a non-inbound/outbound session type")
	}
}

func TestLoadDefaultsFileOverridesHardcodedDefaultsButNotEnv(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "defaults.yaml")
	yamlBody := "vad:\n  min_speech_ms: 250\n  threshold: 0.6\ncorrection:\n  enter_threshold: 0.9\n"
	if err := os.WriteFile(yamlPath, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("CONFIG_DEFAULTS_FILE", yamlPath)
	t.Setenv("VAD_MIN_SPEECH_MS", "999")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.VAD.MinSpeechMs != 999 {
		t.Fatalf("MinSpeechMs = %d, want env override (999) to win over yaml", cfg.VAD.MinSpeechMs)
	}
	if cfg.VAD.Threshold != 0.6 {
		t.Fatalf("Threshold = %v, want yaml value 0.6", cfg.VAD.Threshold)
	}
	if cfg.Threshold.EnterThreshold != 0.9 {
		t.Fatalf("EnterThreshold = %v, want yaml value 0.9", cfg.Threshold.EnterThreshold)
	}
}
