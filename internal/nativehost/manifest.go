package nativehost

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// HostName is the native messaging host identifier. It must match the "name"
// field in the installed manifest and the name the extension connects with.
const HostName = "com.focusgate.host"

// Browser is a supported browser family for native messaging.
type Browser string

const (
	BrowserChrome   Browser = "chrome"
	BrowserFirefox  Browser = "firefox"
	BrowserChromium Browser = "chromium"
	BrowserEdge     Browser = "edge"
	BrowserBrave    Browser = "brave"
)

// SupportedBrowsers returns all browsers a manifest can be installed for.
func SupportedBrowsers() []Browser {
	return []Browser{BrowserChrome, BrowserFirefox, BrowserChromium, BrowserEdge, BrowserBrave}
}

// ChromeManifest is the Chrome/Chromium native messaging host manifest.
type ChromeManifest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Path           string   `json:"path"`
	Type           string   `json:"type"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// FirefoxManifest is the Firefox native messaging host manifest.
type FirefoxManifest struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	Path              string   `json:"path"`
	Type              string   `json:"type"`
	AllowedExtensions []string `json:"allowed_extensions"`
}

// GenerateChromeManifest renders a Chrome/Chromium manifest document.
func GenerateChromeManifest(hostPath, extensionID string) []byte {
	m := ChromeManifest{
		Name:           HostName,
		Description:    "FocusGate Site Blocker Native Host",
		Path:           hostPath,
		Type:           "stdio",
		AllowedOrigins: []string{"chrome-extension://" + extensionID + "/"},
	}
	b, _ := json.MarshalIndent(m, "", "  ")
	return b
}

// GenerateFirefoxManifest renders a Firefox manifest document.
func GenerateFirefoxManifest(hostPath, extensionID string) []byte {
	m := FirefoxManifest{
		Name:              HostName,
		Description:       "FocusGate Site Blocker Native Host",
		Path:              hostPath,
		Type:              "stdio",
		AllowedExtensions: []string{extensionID},
	}
	b, _ := json.MarshalIndent(m, "", "  ")
	return b
}

// getManifestPath returns the manifest file location for a browser on a
// platform, or "" when the combination is unsupported.
func getManifestPath(browser Browser, platform, homeDir string) string {
	manifestFile := HostName + ".json"

	switch platform {
	case "darwin":
		appSupport := filepath.Join(homeDir, "Library", "Application Support")
		switch browser {
		case BrowserChrome:
			return filepath.Join(appSupport, "Google", "Chrome", "NativeMessagingHosts", manifestFile)
		case BrowserChromium:
			return filepath.Join(appSupport, "Chromium", "NativeMessagingHosts", manifestFile)
		case BrowserFirefox:
			return filepath.Join(appSupport, "Mozilla", "NativeMessagingHosts", manifestFile)
		case BrowserEdge:
			return filepath.Join(appSupport, "Microsoft Edge", "NativeMessagingHosts", manifestFile)
		case BrowserBrave:
			return filepath.Join(appSupport, "BraveSoftware", "Brave-Browser", "NativeMessagingHosts", manifestFile)
		}
	case "linux":
		switch browser {
		case BrowserChrome:
			return filepath.Join(homeDir, ".config", "google-chrome", "NativeMessagingHosts", manifestFile)
		case BrowserChromium:
			return filepath.Join(homeDir, ".config", "chromium", "NativeMessagingHosts", manifestFile)
		case BrowserFirefox:
			return filepath.Join(homeDir, ".mozilla", "native-messaging-hosts", manifestFile)
		case BrowserEdge:
			return filepath.Join(homeDir, ".config", "microsoft-edge", "NativeMessagingHosts", manifestFile)
		case BrowserBrave:
			return filepath.Join(homeDir, ".config", "BraveSoftware", "Brave-Browser", "NativeMessagingHosts", manifestFile)
		}
	}
	return ""
}

// ManifestInstaller installs and removes native messaging manifests.
type ManifestInstaller struct {
	HostPath           string
	ChromeExtensionID  string
	FirefoxExtensionID string
	BaseDir            string // Override for testing; empty uses the real home dir
}

// Validate checks the fields every installation needs. Browser-specific
// extension IDs are checked on the install paths that use them.
func (m *ManifestInstaller) Validate() error {
	if m.HostPath == "" {
		return errors.New("host path is required")
	}
	return nil
}

func (m *ManifestInstaller) getHomeDir() string {
	if m.BaseDir != "" {
		return m.BaseDir
	}
	home, _ := os.UserHomeDir()
	return home
}

// InstallChrome writes a manifest for a Chrome-family browser and returns
// the path it was written to.
func (m *ManifestInstaller) InstallChrome(browser Browser) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	if m.ChromeExtensionID == "" {
		return "", errors.New("chrome extension ID is required")
	}

	manifestPath := getManifestPath(browser, runtime.GOOS, m.getHomeDir())
	if manifestPath == "" {
		return "", fmt.Errorf("unsupported browser/platform: %s/%s", browser, runtime.GOOS)
	}

	if err := os.MkdirAll(filepath.Dir(manifestPath), 0755); err != nil {
		return "", fmt.Errorf("create manifest directory: %w", err)
	}
	manifest := GenerateChromeManifest(m.HostPath, m.ChromeExtensionID)
	if err := os.WriteFile(manifestPath, manifest, 0644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return manifestPath, nil
}

// InstallFirefox writes the Firefox manifest and returns its path.
func (m *ManifestInstaller) InstallFirefox() (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	if m.FirefoxExtensionID == "" {
		return "", errors.New("firefox extension ID is required")
	}

	manifestPath := getManifestPath(BrowserFirefox, runtime.GOOS, m.getHomeDir())
	if manifestPath == "" {
		return "", fmt.Errorf("unsupported platform for Firefox: %s", runtime.GOOS)
	}

	if err := os.MkdirAll(filepath.Dir(manifestPath), 0755); err != nil {
		return "", fmt.Errorf("create manifest directory: %w", err)
	}
	manifest := GenerateFirefoxManifest(m.HostPath, m.FirefoxExtensionID)
	if err := os.WriteFile(manifestPath, manifest, 0644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return manifestPath, nil
}

// UninstallManifest removes a previously installed manifest file.
func UninstallManifest(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return os.Remove(path)
}
