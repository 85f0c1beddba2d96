// Package collab declares the contracts the interception core consumes from
// its collaborators: certificate installation, device and app discovery, and
// traffic redirection. Implementations live outside this module; the core
// only depends on these interfaces and on the tiered strategy runner that
// composes them.
package collab

import "context"

// InstallResult is the outcome of a certificate install attempt.
type InstallResult string

const (
	// InstalledAutomatically means the certificate is trusted with no user
	// action required.
	InstalledAutomatically InstallResult = "installed_automatically"

	// RequiresManualInstall means the certificate was delivered but the
	// user must finish trusting it by hand.
	RequiresManualInstall InstallResult = "requires_manual_install"

	// Failed means the attempt did not install anything.
	Failed InstallResult = "failed"
)

// CertificateInstaller places a proxy CA certificate into a device's trust
// store.
type CertificateInstaller interface {
	// Install attempts the installation. A Failed result should come with
	// a non-nil error describing why.
	Install(ctx context.Context, deviceID string) (InstallResult, error)
}

// DeviceInfo identifies a discoverable device.
type DeviceInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Model string `json:"model,omitempty"`
}

// AppInfo identifies an application on a device.
type AppInfo struct {
	UID     int    `json:"uid"`
	Package string `json:"package"`
	Label   string `json:"label,omitempty"`
}

// DeviceDiscovery enumerates devices and the apps on them.
type DeviceDiscovery interface {
	ListDevices(ctx context.Context) ([]DeviceInfo, error)
	ListApps(ctx context.Context, deviceID string) ([]AppInfo, error)
}

// TrafficRedirector steers a single app's traffic through the proxy port and
// back out again.
type TrafficRedirector interface {
	Enable(ctx context.Context, deviceID string, appUID, proxyPort int) error
	Disable(ctx context.Context, deviceID string, appUID int) error
}
