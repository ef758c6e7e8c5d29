// Package autoupdate checks GitHub releases for newer lectured builds and
// can download and install them in place.
package autoupdate

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"
)

// ReleaseChannel selects which releases a checker considers.
type ReleaseChannel string

const (
	ChannelStable     ReleaseChannel = "stable"     // non-prerelease only
	ChannelPrerelease ReleaseChannel = "prerelease" // stable + beta/rc
	ChannelDev        ReleaseChannel = "dev"        // everything except drafts
)

// installedBinaries are the names expected inside a release archive.
var installedBinaries = []string{"lectured-core", "lecturedctl"}

// Release is the subset of the GitHub release payload we use.
type Release struct {
	TagName    string    `json:"tag_name"`
	Name       string    `json:"name"`
	Body       string    `json:"body"`
	Published  time.Time `json:"published_at"`
	Assets     []Asset   `json:"assets"`
	Prerelease bool      `json:"prerelease"`
	Draft      bool      `json:"draft"`
}

// Asset is a downloadable release artifact.
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

// Checker compares the running version against GitHub releases.
type Checker struct {
	currentVersion string
	apiURL         string
	installDir     string
	channel        ReleaseChannel
	httpClient     *http.Client
}

// NewChecker creates a checker against github.com/<owner>/<repo>.
func NewChecker(owner, repo, currentVersion, installDir string) *Checker {
	return &Checker{
		currentVersion: currentVersion,
		apiURL:         fmt.Sprintf("https://api.github.com/repos/%s/%s", owner, repo),
		installDir:     installDir,
		channel:        ChannelStable,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}
}

// SetChannel changes the release channel.
func (c *Checker) SetChannel(channel ReleaseChannel) {
	c.channel = channel
}

// LatestRelease fetches the newest release matching the channel.
func (c *Checker) LatestRelease() (*Release, error) {
	if c.channel == ChannelStable {
		var release Release
		if err := c.getJSON(c.apiURL+"/releases/latest", &release); err != nil {
			return nil, err
		}
		return &release, nil
	}

	var releases []Release
	if err := c.getJSON(c.apiURL+"/releases?per_page=30", &releases); err != nil {
		return nil, err
	}
	for i := range releases {
		if c.matchesChannel(&releases[i]) {
			return &releases[i], nil
		}
	}
	return nil, fmt.Errorf("no releases found matching channel %s", c.channel)
}

func (c *Checker) getJSON(url string, out interface{}) error {
	resp, err := c.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("failed to fetch release: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("github API returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse release: %w", err)
	}
	return nil
}

func (c *Checker) matchesChannel(release *Release) bool {
	if release.Draft {
		return false
	}
	switch c.channel {
	case ChannelStable:
		return !release.Prerelease
	case ChannelPrerelease, ChannelDev:
		return true
	default:
		return false
	}
}

// IsUpdateAvailable reports whether a newer release exists. The release is
// returned only when an update is available.
func (c *Checker) IsUpdateAvailable() (bool, *Release, error) {
	release, err := c.LatestRelease()
	if err != nil {
		return false, nil, err
	}

	latest := normalizeVersion(strings.TrimPrefix(release.TagName, "v"))
	current := normalizeVersion(strings.TrimPrefix(c.currentVersion, "v"))

	if isNewer(latest, current) {
		return true, release, nil
	}
	return false, nil, nil
}

// DownloadAndInstall fetches the platform archive and replaces the installed
// binaries.
func (c *Checker) DownloadAndInstall(release *Release) error {
	asset := c.findBinaryAsset(release)
	if asset == nil {
		return fmt.Errorf("no compatible binary found for %s/%s", runtime.GOOS, runtime.GOARCH)
	}

	tempFile, err := c.downloadAsset(asset)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tempFile) }()

	if !strings.HasSuffix(asset.Name, ".zip") {
		return fmt.Errorf("unsupported archive format: %s", asset.Name)
	}
	return c.installFromZip(tempFile)
}

// findBinaryAsset picks the archive matching the running platform, falling
// back to any asset naming the OS.
func (c *Checker) findBinaryAsset(release *Release) *Asset {
	pattern := fmt.Sprintf("lectured-%s-%s.zip", runtime.GOOS, runtime.GOARCH)

	for i := range release.Assets {
		if strings.Contains(release.Assets[i].Name, pattern) {
			return &release.Assets[i]
		}
	}
	for i := range release.Assets {
		if strings.Contains(release.Assets[i].Name, runtime.GOOS) {
			return &release.Assets[i]
		}
	}
	return nil
}

func (c *Checker) downloadAsset(asset *Asset) (string, error) {
	resp, err := c.httpClient.Get(asset.BrowserDownloadURL)
	if err != nil {
		return "", fmt.Errorf("failed to download: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	tempFile := filepath.Join(os.TempDir(), asset.Name)
	file, err := os.Create(tempFile)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := io.Copy(file, resp.Body); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return tempFile, nil
}

func (c *Checker) installFromZip(zipPath string) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}
	defer func() { _ = reader.Close() }()

	tempDir, err := os.MkdirTemp("", "lectured-update-")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	for _, f := range reader.File {
		// Reject entries that escape the extraction directory.
		fpath := filepath.Join(tempDir, f.Name)
		if !strings.HasPrefix(fpath, filepath.Clean(tempDir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes extraction dir: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(fpath), 0755); err != nil {
			return fmt.Errorf("failed to create parent directory: %w", err)
		}
		if err := extractFile(f, fpath); err != nil {
			return err
		}
	}

	return c.installBinaries(tempDir)
}

func extractFile(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open file in zip: %w", err)
	}
	defer func() { _ = rc.Close() }()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create extracted file: %w", err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("failed to extract file: %w", err)
	}
	return nil
}

// installBinaries copies the lectured binaries from the extracted archive
// into the install directory and marks them executable.
func (c *Checker) installBinaries(sourceDir string) error {
	for _, binary := range installedBinaries {
		var sourcePath string
		err := filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() && strings.Contains(info.Name(), binary) {
				sourcePath = path
				return filepath.SkipDir
			}
			return nil
		})
		if err != nil || sourcePath == "" {
			return fmt.Errorf("binary %s not found in archive", binary)
		}

		destPath := filepath.Join(c.installDir, binary)
		if err := copyFile(sourcePath, destPath); err != nil {
			return fmt.Errorf("failed to install %s: %w", binary, err)
		}
		if err := os.Chmod(destPath, 0755); err != nil {
			return fmt.Errorf("failed to chmod %s: %w", destPath, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = source.Close() }()

	destination, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = destination.Close() }()

	_, err = io.Copy(destination, source)
	return err
}

// buildSuffix strips git-describe noise ("-2-g5ea24ba", "-dirty") so local
// builds compare as their base version. Pre-release tags like "-rc1" stay.
var buildSuffix = regexp.MustCompile(`(-\d+-g[0-9a-f]+)?(-dirty)?$`)

func normalizeVersion(version string) string {
	return buildSuffix.ReplaceAllString(version, "")
}

// isNewer reports whether version1 > version2, comparing dot-separated
// numeric components.
func isNewer(version1, version2 string) bool {
	parts1 := strings.Split(version1, ".")
	parts2 := strings.Split(version2, ".")

	for i := 0; i < len(parts1) && i < len(parts2); i++ {
		var v1, v2 int
		if _, err := fmt.Sscanf(parts1[i], "%d", &v1); err != nil {
			v1 = 0
		}
		if _, err := fmt.Sscanf(parts2[i], "%d", &v2); err != nil {
			v2 = 0
		}
		if v1 > v2 {
			return true
		}
		if v1 < v2 {
			return false
		}
	}
	return len(parts1) > len(parts2)
}
