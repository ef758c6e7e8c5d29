package autoupdate

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizeVersion(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"0.3.0", "0.3.0"},
		{"0.3.0-dirty", "0.3.0"},
		{"0.3.0-2-g5ea24ba", "0.3.0"},
		{"0.3.0-2-g5ea24ba-dirty", "0.3.0"},
		{"0.2.0-rc1", "0.2.0-rc1"},
		{"1.0.0-beta.1", "1.0.0-beta.1"},
		{"0.1.0-dev", "0.1.0-dev"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := normalizeVersion(tt.input); got != tt.expected {
				t.Errorf("normalizeVersion(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestIsNewer(t *testing.T) {
	tests := []struct {
		version1 string
		version2 string
		expected bool
	}{
		{"0.3.0", "0.2.0", true},
		{"0.2.0", "0.3.0", false},
		{"1.0.0", "0.9.9", true},
		{"0.3.0", "0.3.0", false},
		{"0.3.1", "0.3.0", true},
		{"0.3.0-rc1", "0.2.0", true},
	}

	for _, tt := range tests {
		t.Run(tt.version1+" vs "+tt.version2, func(t *testing.T) {
			if got := isNewer(tt.version1, tt.version2); got != tt.expected {
				t.Errorf("isNewer(%q, %q) = %v, want %v", tt.version1, tt.version2, got, tt.expected)
			}
		})
	}
}

func TestMatchesChannel(t *testing.T) {
	stable := &Release{TagName: "v0.3.0"}
	pre := &Release{TagName: "v0.4.0-rc1", Prerelease: true}
	draft := &Release{TagName: "v0.5.0", Draft: true}

	tests := []struct {
		name    string
		channel ReleaseChannel
		release *Release
		want    bool
	}{
		{"stable accepts stable", ChannelStable, stable, true},
		{"stable rejects prerelease", ChannelStable, pre, false},
		{"prerelease accepts both", ChannelPrerelease, pre, true},
		{"dev accepts prerelease", ChannelDev, pre, true},
		{"draft always rejected", ChannelDev, draft, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker("tiroq", "lectured", "0.1.0", t.TempDir())
			c.SetChannel(tt.channel)
			if got := c.matchesChannel(tt.release); got != tt.want {
				t.Errorf("matchesChannel = %v, want %v", got, tt.want)
			}
		})
	}
}

func newTestChecker(t *testing.T, version string, handler http.HandlerFunc) *Checker {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewChecker("tiroq", "lectured", version, t.TempDir())
	c.apiURL = srv.URL
	return c
}

func TestIsUpdateAvailable(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/releases/latest" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"tag_name": "v0.3.0", "name": "0.3.0"}`))
	}

	t.Run("older installed version", func(t *testing.T) {
		c := newTestChecker(t, "0.2.0", handler)
		available, release, err := c.IsUpdateAvailable()
		if err != nil {
			t.Fatalf("IsUpdateAvailable: %v", err)
		}
		if !available || release == nil {
			t.Fatal("expected update to be available")
		}
		if release.TagName != "v0.3.0" {
			t.Errorf("tag = %q", release.TagName)
		}
	})

	t.Run("current version", func(t *testing.T) {
		c := newTestChecker(t, "0.3.0", handler)
		available, release, err := c.IsUpdateAvailable()
		if err != nil {
			t.Fatalf("IsUpdateAvailable: %v", err)
		}
		if available || release != nil {
			t.Error("no update expected when already latest")
		}
	})

	t.Run("dirty local build of latest", func(t *testing.T) {
		c := newTestChecker(t, "0.3.0-2-g5ea24ba-dirty", handler)
		available, _, err := c.IsUpdateAvailable()
		if err != nil {
			t.Fatalf("IsUpdateAvailable: %v", err)
		}
		if available {
			t.Error("build metadata must not trigger an update")
		}
	})
}

func TestLatestReleaseChannelFilter(t *testing.T) {
	c := newTestChecker(t, "0.1.0", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/releases" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`[
			{"tag_name": "v0.5.0", "draft": true},
			{"tag_name": "v0.4.0-rc1", "prerelease": true},
			{"tag_name": "v0.3.0"}
		]`))
	})
	c.SetChannel(ChannelPrerelease)

	release, err := c.LatestRelease()
	if err != nil {
		t.Fatalf("LatestRelease: %v", err)
	}
	if release.TagName != "v0.4.0-rc1" {
		t.Errorf("expected first non-draft in channel, got %q", release.TagName)
	}
}

func TestLatestReleaseAPIError(t *testing.T) {
	c := newTestChecker(t, "0.1.0", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusForbidden)
	})

	if _, err := c.LatestRelease(); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestFindBinaryAsset(t *testing.T) {
	c := NewChecker("tiroq", "lectured", "0.1.0", t.TempDir())

	release := &Release{Assets: []Asset{
		{Name: "lectured-plan9-amd64.zip"},
		{Name: "checksums.txt"},
	}}
	if asset := c.findBinaryAsset(release); asset != nil {
		t.Errorf("expected no match for foreign platforms, got %q", asset.Name)
	}
}
