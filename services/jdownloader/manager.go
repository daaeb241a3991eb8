package jdownloader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
)

// PollInterval is the steady-state liveness cadence once connected.
const PollInterval = 300 * time.Second

// blockedExtensions never reach the download list; subtitle scraps, checksum
// files and executables only clutter the media library.
var blockedExtensions = []string{"sfv", "jpg", "jpeg", "idx", "srt", "nfo", "bat", "txt", "exe"}

const blockFilterName = "Quasarr_Block_Files"

// BackoffDelay implements the escalating reconnect schedule: ten quick
// retries, five patient ones, then a slow steady beat forever.
func BackoffDelay(attempt uint) time.Duration {
	switch {
	case attempt < 10:
		return 3 * time.Second
	case attempt < 15:
		return 60 * time.Second
	default:
		return 300 * time.Second
	}
}

// shouldWarn throttles reconnect log noise: attempts 10 and 15 mark the
// schedule escalations, after that every tenth attempt.
func shouldWarn(attempt uint) bool {
	if attempt == 10 || attempt == 15 {
		return true
	}
	return attempt > 15 && attempt%10 == 0
}

// Manager owns the device connection. All higher layers (download pipeline,
// package views, CAPTCHA engine) go through it; they never see the raw
// transport.
type Manager struct {
	api        *client
	deviceName string

	mu        sync.RWMutex
	deviceID  string
	device    string
	connected bool
}

func NewManager(email, password, deviceName string) *Manager {
	return &Manager{
		api:        newClient(email, password),
		deviceName: deviceName,
	}
}

func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// DeviceName returns the resolved device's display name.
func (m *Manager) DeviceName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.device
}

// Connect performs one full handshake: session, device discovery, settings
// enforcement.
func (m *Manager) Connect(ctx context.Context) error {
	if err := m.api.connect(ctx); err != nil {
		return err
	}

	devices, err := m.api.listDevices(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return ErrDeviceNotFound
	}

	picked := devices[0]
	if m.deviceName != "" {
		found := false
		for _, d := range devices {
			if strings.EqualFold(d.Name, m.deviceName) {
				picked, found = d, true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %q", ErrDeviceNotFound, m.deviceName)
		}
	}

	m.mu.Lock()
	m.deviceID = picked.ID
	m.device = picked.Name
	m.connected = true
	m.mu.Unlock()

	log.Printf("[jdownloader] connected to device %q", picked.Name)

	if direct, err := m.DirectConnectionAvailable(ctx); err != nil {
		log.Printf("[jdownloader] direct connection check: %v", err)
	} else if direct {
		log.Printf("[jdownloader] direct LAN connection available")
	} else {
		log.Printf("[jdownloader] no direct connection, traffic rides the relay")
	}

	if err := m.EnsureSettings(ctx); err != nil {
		log.Printf("[jdownloader] enforce settings: %v", err)
	}
	return nil
}

// ConnectWithRetry blocks until connected or the context dies, following the
// escalating backoff schedule.
func (m *Manager) ConnectWithRetry(ctx context.Context) error {
	var attempt uint
	return retry.Do(
		func() error { return m.Connect(ctx) },
		retry.Context(ctx),
		retry.Attempts(0),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return BackoffDelay(n)
		}),
		retry.OnRetry(func(n uint, err error) {
			attempt = n + 1
			if shouldWarn(attempt) {
				log.Printf("[jdownloader] still not connected after %d attempts: %v", attempt, err)
			}
		}),
		retry.LastErrorOnly(true),
	)
}

// Run is the connection supervisor: connect with backoff, apply a pending
// core update, resume paused downloads, then poll the controller state on a
// slow cadence, reconnecting when the session breaks.
func (m *Manager) Run(ctx context.Context) {
	for {
		if err := m.ConnectWithRetry(ctx); err != nil {
			return // context cancelled
		}

		m.maybeUpdate(ctx)
		if err := m.StartDownloads(ctx); err != nil {
			log.Printf("[jdownloader] start downloads: %v", err)
		}

		ticker := time.NewTicker(PollInterval)
	poll:
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				if _, err := m.CurrentState(ctx); err != nil {
					log.Printf("[jdownloader] liveness poll failed: %v", err)
					m.mu.Lock()
					m.connected = false
					m.mu.Unlock()
					ticker.Stop()
					break poll
				}
			}
		}
	}
}

// call dispatches a device action, regaining the session once on expiry.
func (m *Manager) call(ctx context.Context, action string, out any, params ...any) error {
	m.mu.RLock()
	deviceID, connected := m.deviceID, m.connected
	m.mu.RUnlock()
	if !connected || deviceID == "" {
		return ErrNotConnected
	}

	err := m.api.callDevice(ctx, deviceID, action, out, params...)
	if errors.Is(err, ErrSessionExpired) {
		if rerr := m.api.reconnect(ctx); rerr != nil {
			return fmt.Errorf("session regain: %w", rerr)
		}
		err = m.api.callDevice(ctx, deviceID, action, out, params...)
	}
	return err
}

// maybeUpdate applies a pending core update, but only while the device sits
// idle with a quiet linkgrabber; a restart mid-download would orphan progress
// reporting.
func (m *Manager) maybeUpdate(ctx context.Context) {
	available, err := m.UpdateAvailable(ctx)
	if err != nil {
		log.Printf("[jdownloader] update check: %v", err)
		return
	}
	if !available {
		return
	}

	state, err := m.CurrentState(ctx)
	if err != nil || !strings.EqualFold(state, "IDLE") {
		return
	}
	collecting, err := m.isCollecting(ctx)
	if err != nil || collecting {
		return
	}

	log.Printf("[jdownloader] core update available, restarting device")
	if err := m.RestartAndUpdate(ctx); err != nil {
		log.Printf("[jdownloader] restart for update: %v", err)
	}
}

type filterRule struct {
	Name           string          `json:"name"`
	Enabled        bool            `json:"enabled"`
	FilenameFilter *filenameFilter `json:"filenameFilter,omitempty"`
}

type filenameFilter struct {
	Enabled   bool   `json:"enabled"`
	MatchType string `json:"matchType"`
	Regex     string `json:"regex"`
	UseRegex  bool   `json:"useRegex"`
}

// extractionBlacklist keeps samples and the usual scene scraps out of the
// extracted output.
var extractionBlacklist = []string{
	".*sample/.*", ".*Sample/.*",
	`.*\.jpe?g`, `.*\.idx`, `.*\.srt`, `.*\.nfo`,
	`.*\.sfv`, `.*\.bat`, `.*\.txt`, `.*\.exe`,
}

type enforcedSetting struct {
	iface   string
	storage string
	key     string
	want    any
}

const extractionIface = "org.jdownloader.extraction.ExtractionExtension"
const extractionStorage = "cfg/" + extractionIface

// enforcedSettings is the device baseline for unattended packaging: downloads
// start themselves, finished files survive, offline mirrors stay selectable,
// extracted archives clean up after themselves, and the UI noise stays off.
var enforcedSettings = []enforcedSetting{
	{"org.jdownloader.settings.GeneralSettings", "null", "AutoStartDownloadOption", "ALWAYS"},
	{"org.jdownloader.settings.GeneralSettings", "null", "IfFileExistsAction", "SKIP_FILE"},
	{"org.jdownloader.settings.GeneralSettings", "null", "CleanupAfterDownloadAction", "NEVER"},
	{"org.jdownloader.gui.views.linkgrabber.addlinksdialog.LinkgrabberSettings", "null", "DefaultOnAddedOfflineLinksAction", "INCLUDE_OFFLINE"},
	{"org.jdownloader.settings.GraphicalUserInterfaceSettings", "null", "BannerEnabled", false},
	{"org.jdownloader.settings.GraphicalUserInterfaceSettings", "null", "DonateButtonState", "CUSTOM_HIDDEN"},
	{extractionIface, extractionStorage, "DeleteArchiveFilesAfterExtractionAction", "NULL"},
	{extractionIface, extractionStorage, "IfFileExistsAction", "OVERWRITE_FILE"},
	{extractionIface, extractionStorage, "BlacklistPatterns", extractionBlacklist},
}

// EnsureSettings pushes the device settings the packaging workflow relies on.
// Every write is read-first so an already-correct device stays untouched.
func (m *Manager) EnsureSettings(ctx context.Context) error {
	for _, s := range enforcedSettings {
		var current any
		if err := m.getConfigValue(ctx, s.iface, s.storage, s.key, &current); err != nil {
			return fmt.Errorf("read %s: %w", s.key, err)
		}
		if settingEqual(current, s.want) {
			continue
		}
		if err := m.setConfigValue(ctx, s.iface, s.storage, s.key, s.want); err != nil {
			return fmt.Errorf("write %s: %w", s.key, err)
		}
		log.Printf("[jdownloader] set %s = %v (was %v)", s.key, s.want, current)
	}

	return m.ensureBlockFilter(ctx)
}

// settingEqual compares the decoded device value against the enforced one
// through their JSON forms, which levels []string against the []any the
// decoder produces.
func settingEqual(current, want any) bool {
	cur, err := json.Marshal(current)
	if err != nil {
		return false
	}
	exp, err := json.Marshal(want)
	if err != nil {
		return false
	}
	return bytes.Equal(cur, exp)
}

func (m *Manager) ensureBlockFilter(ctx context.Context) error {
	const iface = "org.jdownloader.controlling.filter.LinkFilterSettings"

	var rules []filterRule
	if err := m.getConfigValue(ctx, iface, "null", "FilterList", &rules); err != nil {
		return fmt.Errorf("read filter list: %w", err)
	}
	for _, r := range rules {
		if r.Name == blockFilterName {
			return nil
		}
	}

	rules = append(rules, filterRule{
		Name:    blockFilterName,
		Enabled: true,
		FilenameFilter: &filenameFilter{
			Enabled:   true,
			MatchType: "CONTAINS",
			Regex:     `.*\.(` + strings.Join(blockedExtensions, "|") + `)$`,
			UseRegex:  true,
		},
	})
	if err := m.setConfigValue(ctx, iface, "null", "FilterList", rules); err != nil {
		return fmt.Errorf("write filter list: %w", err)
	}
	log.Printf("[jdownloader] installed link filter %q", blockFilterName)
	return nil
}
