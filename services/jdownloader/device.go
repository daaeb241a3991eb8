package jdownloader

import (
	"context"
	"fmt"
)

// linkQuery selects which per-link fields the device includes in answers.
type linkQuery struct {
	BytesTotal   bool    `json:"bytesTotal"`
	BytesLoaded  bool    `json:"bytesLoaded"`
	Comment      bool    `json:"comment"`
	Status       bool    `json:"status"`
	Enabled      bool    `json:"enabled"`
	ETA          bool    `json:"eta"`
	Extraction   bool    `json:"extractionStatus"`
	Finished     bool    `json:"finished"`
	Host         bool    `json:"host"`
	URL          bool    `json:"url"`
	Availability bool    `json:"availability"`
	PackageUUIDs []int64 `json:"packageUUIDs,omitempty"`
}

type packageQuery struct {
	BytesTotal  bool `json:"bytesTotal"`
	BytesLoaded bool `json:"bytesLoaded"`
	ChildCount  bool `json:"childCount"`
	Comment     bool `json:"comment"`
	Enabled     bool `json:"enabled"`
	ETA         bool `json:"eta"`
	Finished    bool `json:"finished"`
	Hosts       bool `json:"hosts"`
	SaveTo      bool `json:"saveTo"`
	Speed       bool `json:"speed"`
	Status      bool `json:"status"`
	Running     bool `json:"running"`
}

// PackageInfo is one package in either the linkgrabber or the download list.
type PackageInfo struct {
	UUID        int64    `json:"uuid"`
	Name        string   `json:"name"`
	BytesTotal  int64    `json:"bytesTotal"`
	BytesLoaded int64    `json:"bytesLoaded"`
	ChildCount  int      `json:"childCount"`
	Comment     string   `json:"comment"`
	Enabled     bool     `json:"enabled"`
	ETA         int64    `json:"eta"` // seconds, -1 when unknown
	Finished    bool     `json:"finished"`
	Hosts       []string `json:"hosts"`
	SaveTo      string   `json:"saveTo"`
	Speed       int64    `json:"speed"`
	Status      string   `json:"status"`
	Running     bool     `json:"running"`
}

// LinkInfo is one link inside a package.
type LinkInfo struct {
	UUID             int64  `json:"uuid"`
	PackageUUID      int64  `json:"packageUUID"`
	Name             string `json:"name"`
	BytesTotal       int64  `json:"bytesTotal"`
	BytesLoaded      int64  `json:"bytesLoaded"`
	Comment          string `json:"comment"`
	Status           string `json:"status"`
	Enabled          bool   `json:"enabled"`
	ETA              int64  `json:"eta"`
	ExtractionStatus string `json:"extractionStatus"`
	Finished         bool   `json:"finished"`
	Host             string `json:"host"`
	URL              string `json:"url"`
	Availability     string `json:"availability"`
}

// AddLinksRequest enqueues URLs into the linkgrabber.
type AddLinksRequest struct {
	Links              string `json:"links"` // newline separated
	PackageName        string `json:"packageName"`
	ExtractPassword    string `json:"extractPassword,omitempty"`
	DownloadPassword   string `json:"downloadPassword,omitempty"`
	Comment            string `json:"comment,omitempty"`
	DestinationFolder  string `json:"destinationFolder,omitempty"`
	AutostartEnabled   bool   `json:"autostart"`
	OverwritePackages  bool   `json:"overwritePackagizerRules,omitempty"`
	DeepDecrypt        bool   `json:"deepDecrypt,omitempty"`
	AutoExtract        bool   `json:"autoExtract"`
}

func (m *Manager) queryGrabberPackages(ctx context.Context) ([]PackageInfo, error) {
	var out []PackageInfo
	err := m.call(ctx, "/linkgrabberv2/queryPackages", &out, packageQuery{
		BytesTotal: true, ChildCount: true, Comment: true, Enabled: true,
		Hosts: true, SaveTo: true, Status: true,
	})
	return out, err
}

func (m *Manager) queryGrabberLinks(ctx context.Context) ([]LinkInfo, error) {
	var out []LinkInfo
	err := m.call(ctx, "/linkgrabberv2/queryLinks", &out, linkQuery{
		BytesTotal: true, Comment: true, Status: true, Enabled: true,
		Host: true, URL: true, Availability: true,
	})
	return out, err
}

func (m *Manager) queryDownloaderPackages(ctx context.Context) ([]PackageInfo, error) {
	var out []PackageInfo
	err := m.call(ctx, "/downloadsV2/queryPackages", &out, packageQuery{
		BytesTotal: true, BytesLoaded: true, ChildCount: true, Comment: true,
		Enabled: true, ETA: true, Finished: true, Hosts: true, SaveTo: true,
		Speed: true, Status: true, Running: true,
	})
	return out, err
}

func (m *Manager) queryDownloaderLinks(ctx context.Context) ([]LinkInfo, error) {
	var out []LinkInfo
	err := m.call(ctx, "/downloadsV2/queryLinks", &out, linkQuery{
		BytesTotal: true, BytesLoaded: true, Comment: true, Status: true,
		Enabled: true, ETA: true, Extraction: true, Finished: true,
		Host: true, URL: true,
	})
	return out, err
}

// isCollecting reports whether the linkgrabber is still busy resolving
// recently added links.
func (m *Manager) isCollecting(ctx context.Context) (bool, error) {
	var out bool
	err := m.call(ctx, "/linkgrabberv2/isCollecting", &out)
	return out, err
}

// AddLinks submits plain URLs as one named package. Autostart is left to the
// device-wide setting.
func (m *Manager) AddLinks(ctx context.Context, req AddLinksRequest) error {
	if err := m.call(ctx, "/linkgrabberv2/addLinks", nil, req); err != nil {
		return fmt.Errorf("add links: %w", err)
	}
	return nil
}

// RemoveGrabberLinks removes links and packages from the linkgrabber.
func (m *Manager) RemoveGrabberLinks(ctx context.Context, linkIDs, packageIDs []int64) error {
	return m.call(ctx, "/linkgrabberv2/removeLinks", nil, emptyNotNil(linkIDs), emptyNotNil(packageIDs))
}

// RemoveDownloaderLinks removes links and packages from the download list,
// deleting any files already on disk.
func (m *Manager) RemoveDownloaderLinks(ctx context.Context, linkIDs, packageIDs []int64) error {
	return m.call(ctx, "/downloadsV2/cleanup", nil,
		emptyNotNil(linkIDs), emptyNotNil(packageIDs),
		"DELETE_ALL", "REMOVE_LINKS_AND_DELETE_FILES", "SELECTED")
}

// MoveToDownloadList promotes linkgrabber entries into the download list.
func (m *Manager) MoveToDownloadList(ctx context.Context, linkIDs, packageIDs []int64) error {
	return m.call(ctx, "/linkgrabberv2/moveToDownloadlist", nil, emptyNotNil(linkIDs), emptyNotNil(packageIDs))
}

// StartDownloads resumes the download controller.
func (m *Manager) StartDownloads(ctx context.Context) error {
	return m.call(ctx, "/downloadcontroller/start", nil)
}

// archiveStatus is the extraction controller's answer for one recognized
// archive; PackageUUIDs ties it back to the download-list packages it spans.
type archiveStatus struct {
	ArchiveID    string  `json:"archiveId"`
	ArchiveName  string  `json:"archiveName"`
	PackageUUIDs []int64 `json:"packageIds"`
}

// queryArchiveInfo asks the extraction controller which of the given
// download-list packages it recognizes as archives, in a single call.
func (m *Manager) queryArchiveInfo(ctx context.Context, packageIDs []int64) ([]archiveStatus, error) {
	var out []archiveStatus
	err := m.call(ctx, "/extraction/getArchiveInfo", &out, []int64{}, emptyNotNil(packageIDs))
	return out, err
}

type directConnectionInfos struct {
	Infos []struct {
		IP   string `json:"ip"`
		Port int    `json:"port"`
	} `json:"infos"`
	Mode string `json:"mode"`
}

// DirectConnectionAvailable reports whether the device advertises a LAN
// endpoint that lets calls skip the My.JDownloader relay.
func (m *Manager) DirectConnectionAvailable(ctx context.Context) (bool, error) {
	var out directConnectionInfos
	err := m.call(ctx, "/device/getDirectConnectionInfos", &out)
	return len(out.Infos) > 0, err
}

// UpdateAvailable reports whether the device has a pending core update.
func (m *Manager) UpdateAvailable(ctx context.Context) (bool, error) {
	var out bool
	err := m.call(ctx, "/update/isUpdateAvailable", &out)
	return out, err
}

// RestartAndUpdate restarts the device and applies the pending update.
func (m *Manager) RestartAndUpdate(ctx context.Context) error {
	return m.call(ctx, "/update/restartAndUpdate", nil)
}

// CurrentState returns the controller state (IDLE, RUNNING, PAUSE, ...).
func (m *Manager) CurrentState(ctx context.Context) (string, error) {
	var out string
	err := m.call(ctx, "/downloadcontroller/getCurrentState", &out)
	return out, err
}

func (m *Manager) getConfigValue(ctx context.Context, iface, storage, key string, out any) error {
	return m.call(ctx, "/config/get", out, iface, storage, key)
}

func (m *Manager) setConfigValue(ctx context.Context, iface, storage, key string, value any) error {
	return m.call(ctx, "/config/set", nil, iface, storage, key, value)
}

// The device API distinguishes null from [] for id lists.
func emptyNotNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
