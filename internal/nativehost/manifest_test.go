package nativehost

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateChromeManifest(t *testing.T) {
	var m ChromeManifest
	require.NoError(t, json.Unmarshal(GenerateChromeManifest("/usr/bin/focusgate", "abcdef"), &m))

	assert.Equal(t, HostName, m.Name)
	assert.Equal(t, "/usr/bin/focusgate", m.Path)
	assert.Equal(t, "stdio", m.Type)
	assert.Equal(t, []string{"chrome-extension://abcdef/"}, m.AllowedOrigins)
}

func TestGenerateFirefoxManifest(t *testing.T) {
	var m FirefoxManifest
	require.NoError(t, json.Unmarshal(GenerateFirefoxManifest("/usr/bin/focusgate", "fg@example.org"), &m))

	assert.Equal(t, HostName, m.Name)
	assert.Equal(t, []string{"fg@example.org"}, m.AllowedExtensions)
}

func TestGetManifestPath_Linux(t *testing.T) {
	home := "/home/u"

	p := getManifestPath(BrowserChrome, "linux", home)
	assert.Equal(t, filepath.Join(home, ".config", "google-chrome", "NativeMessagingHosts", HostName+".json"), p)

	p = getManifestPath(BrowserFirefox, "linux", home)
	assert.Equal(t, filepath.Join(home, ".mozilla", "native-messaging-hosts", HostName+".json"), p)
}

func TestGetManifestPath_UnsupportedPlatform(t *testing.T) {
	assert.Empty(t, getManifestPath(BrowserChrome, "plan9", "/home/u"))
}

func TestManifestInstaller_Validate(t *testing.T) {
	m := &ManifestInstaller{}
	assert.ErrorContains(t, m.Validate(), "host path")

	m.HostPath = "/usr/bin/focusgate"
	assert.NoError(t, m.Validate())
}

func TestManifestInstaller_ChromeNeedsID(t *testing.T) {
	m := &ManifestInstaller{
		HostPath: "/usr/bin/focusgate",
		BaseDir:  t.TempDir(),
	}
	_, err := m.InstallChrome(BrowserChrome)
	assert.ErrorContains(t, err, "chrome extension ID")
}

func TestManifestInstaller_FirefoxOnlyInstall(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("no manifest path on this platform")
	}

	// No Chrome ID configured; the Firefox path must not demand one.
	m := &ManifestInstaller{
		HostPath:           "/usr/bin/focusgate",
		FirefoxExtensionID: "fg@example.org",
		BaseDir:            t.TempDir(),
	}

	path, err := m.InstallFirefox()
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var written FirefoxManifest
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, []string{"fg@example.org"}, written.AllowedExtensions)
}

func TestManifestInstaller_InstallAndUninstall(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("no manifest path on this platform")
	}

	m := &ManifestInstaller{
		HostPath:          "/usr/bin/focusgate",
		ChromeExtensionID: "abcdef",
		BaseDir:           t.TempDir(),
	}

	path, err := m.InstallChrome(BrowserChromium)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var written ChromeManifest
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, HostName, written.Name)

	require.NoError(t, UninstallManifest(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Removing twice is fine.
	assert.NoError(t, UninstallManifest(path))
}

func TestManifestInstaller_FirefoxNeedsID(t *testing.T) {
	m := &ManifestInstaller{
		HostPath: "/usr/bin/focusgate",
		BaseDir:  t.TempDir(),
	}
	_, err := m.InstallFirefox()
	assert.ErrorContains(t, err, "firefox extension ID")
}
