package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Settings represents the application configuration persisted to disk. The
// sections mirror the classic INI layout ([API], [Settings], [Hostnames],
// [FlareSolverr], [JDownloader], per-site credentials) as nested structs.
type Settings struct {
	API          APISettings            `json:"api"`
	Server       ServerSettings         `json:"settings"`
	Hostnames    map[string]string      `json:"hostnames"` // source key -> configured hostname
	FlareSolverr FlareSolverrSettings   `json:"flaresolverr"`
	JDownloader  JDownloaderSettings    `json:"jdownloader"`
	Credentials  map[string]Credentials `json:"credentials,omitempty"` // source key -> login
	Log          LogConfig              `json:"log"`
}

type APISettings struct {
	Key string `json:"key"` // 256-bit hex, generated at first start
}

type ServerSettings struct {
	Port            int    `json:"port"`
	InternalAddress string `json:"internalAddress"`
	ExternalAddress string `json:"externalAddress"`
	DiscordWebhook  string `json:"discordWebhook,omitempty"`
	AuthMode        string `json:"authMode"` // "" | "basic" | "form"
	AuthUser        string `json:"authUser,omitempty"`
	AuthPass        string `json:"authPass,omitempty"`
	Silent          string `json:"silent,omitempty"` // "" | "max"
	Docker          bool   `json:"-"`                // env-derived, never persisted
}

type FlareSolverrSettings struct {
	URL string `json:"url"`
}

type JDownloaderSettings struct {
	Email  string `json:"email"`
	Pass   string `json:"pass"`
	Device string `json:"device"`
}

// Credentials holds a per-site login. AL additionally keys releases by a
// numeric id which rides in the intent's ReleaseID field, not here.
type Credentials struct {
	User string `json:"user,omitempty"`
	Pass string `json:"pass,omitempty"`
}

// LogConfig controls file logging with rotation.
type LogConfig struct {
	File       string `json:"file"`
	Level      string `json:"level"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

// DefaultSettings synthesizes a fresh configuration.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{
			Port:            8080,
			InternalAddress: "http://localhost:8080",
		},
		Hostnames:   map[string]string{},
		Credentials: map[string]Credentials{},
		Log: LogConfig{
			Level:      "INFO",
			MaxSize:    10,
			MaxAge:     14,
			MaxBackups: 3,
		},
	}
}

// Configured reports whether enough is set up to run the main API instead of
// the first-run setup flow: at least one hostname must be known.
func (s Settings) Configured() bool {
	for _, h := range s.Hostnames {
		if strings.TrimSpace(h) != "" {
			return true
		}
	}
	return false
}

// CredentialsFor returns the login for a source key, if configured.
func (s Settings) CredentialsFor(key string) (Credentials, bool) {
	c, ok := s.Credentials[strings.ToLower(key)]
	if !ok || (c.User == "" && c.Pass == "") {
		return Credentials{}, false
	}
	return c, true
}

// Manager loads and persists settings to a JSON file. A mutex serializes
// Save against concurrent loads (supervisors reload on their own cadence).
type Manager struct {
	mu   sync.Mutex
	path string
}

func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

// Load reads settings from disk or creates defaults if missing, then applies
// environment overrides (PORT, INTERNAL_ADDRESS, EXTERNAL_ADDRESS, DISCORD,
// USER, PASS, AUTH, SILENT, LOG, DOCKER).
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s := DefaultSettings()
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		if err := m.saveLocked(s); err != nil {
			return Settings{}, err
		}
	} else {
		f, err := os.Open(m.path)
		if err != nil {
			return Settings{}, fmt.Errorf("open settings: %w", err)
		}
		err = json.NewDecoder(f).Decode(&s)
		f.Close()
		if err != nil {
			return Settings{}, fmt.Errorf("decode settings: %w", err)
		}
	}

	if s.Hostnames == nil {
		s.Hostnames = map[string]string{}
	}
	if s.Credentials == nil {
		s.Credentials = map[string]Credentials{}
	}

	applyEnvOverrides(&s)
	return s, nil
}

// Save persists settings, replacing the file atomically.
func (m *Manager) Save(s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(s)
}

func (m *Manager) saveLocked(s Settings) error {
	dir := filepath.Dir(m.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}

	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create settings temp file: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close settings temp file: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("replace settings file: %w", err)
	}
	return nil
}

func applyEnvOverrides(s *Settings) {
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			s.Server.Port = port
		}
	}
	if v := strings.TrimSpace(os.Getenv("INTERNAL_ADDRESS")); v != "" {
		s.Server.InternalAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("EXTERNAL_ADDRESS")); v != "" {
		s.Server.ExternalAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("DISCORD")); v != "" {
		s.Server.DiscordWebhook = v
	}
	if v := strings.TrimSpace(os.Getenv("USER")); v != "" {
		s.Server.AuthUser = v
	}
	if v := strings.TrimSpace(os.Getenv("PASS")); v != "" {
		s.Server.AuthPass = v
	}
	if v, ok := os.LookupEnv("AUTH"); ok {
		s.Server.AuthMode = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := os.LookupEnv("SILENT"); ok {
		s.Server.Silent = strings.ToLower(strings.TrimSpace(v))
	}
	if v := strings.TrimSpace(os.Getenv("LOG")); v != "" {
		s.Log.Level = strings.ToUpper(v)
	}
	// Inside a container the listen port is fixed; the published mapping on
	// the host decides what clients actually dial.
	if _, ok := os.LookupEnv("DOCKER"); ok {
		s.Server.Docker = true
		s.Server.Port = 8080
	}
}
