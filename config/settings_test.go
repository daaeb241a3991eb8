package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	m := NewManager(path)

	s, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", s.Server.Port)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("settings file not created: %v", err)
	}
	if s.Configured() {
		t.Error("fresh settings must not report configured")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "settings.json"))

	s, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s.Hostnames["nx"] = "nx.example"
	s.Credentials["nx"] = Credentials{User: "u", Pass: "p"}
	s.JDownloader = JDownloaderSettings{Email: "a@b.c", Pass: "secret", Device: "JDownloader@quasarr"}
	if err := m.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := m.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Hostnames["nx"] != "nx.example" {
		t.Errorf("hostname lost on round trip: %+v", got.Hostnames)
	}
	if !got.Configured() {
		t.Error("settings with a hostname must report configured")
	}
	if c, ok := got.CredentialsFor("NX"); !ok || c.User != "u" {
		t.Errorf("CredentialsFor(NX) = %+v, %v", c, ok)
	}
}

func TestDockerEnvPinsPort(t *testing.T) {
	t.Setenv("DOCKER", "true")
	t.Setenv("PORT", "9999")

	m := NewManager(filepath.Join(t.TempDir(), "settings.json"))
	s, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !s.Server.Docker {
		t.Error("DOCKER env must set the docker flag")
	}
	if s.Server.Port != 8080 {
		t.Errorf("container port = %d, want the fixed 8080", s.Server.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9191")
	t.Setenv("EXTERNAL_ADDRESS", "http://quasarr.example")
	t.Setenv("AUTH", "form")
	t.Setenv("SILENT", "max")

	m := NewManager(filepath.Join(t.TempDir(), "settings.json"))
	s, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Server.Port != 9191 {
		t.Errorf("PORT override ignored, got %d", s.Server.Port)
	}
	if s.Server.ExternalAddress != "http://quasarr.example" {
		t.Errorf("EXTERNAL_ADDRESS override ignored, got %q", s.Server.ExternalAddress)
	}
	if s.Server.AuthMode != "form" || s.Server.Silent != "max" {
		t.Errorf("AUTH/SILENT overrides ignored: %+v", s.Server)
	}
}
