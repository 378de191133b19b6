// Package device defines the device/app metadata collaborator.
//
// The pipeline never gathers platform metadata itself; the host SDK supplies
// an InfoProvider and the serial processor attaches its documents to session
// rows and event payloads.
package device

// InfoProvider supplies platform metadata documents.
//
// Implementations must be safe for concurrent use: the serial processor
// calls them from its worker goroutine while the host app may rebuild
// documents on its own threads.
type InfoProvider interface {
	// AppInfo describes the application (version, build, package id).
	// isUpdate is true when the document is refreshed mid-session, e.g.
	// after an install referrer update.
	AppInfo(isUpdate bool) map[string]any

	// DeviceInfo describes the device (model, OS version, locale).
	DeviceInfo() map[string]any

	// StateInfo is the current device/app state snapshot attached to every
	// persisted event (battery, network, memory).
	StateInfo() map[string]any

	// Location is the last known location document, or nil when location
	// tracking is disabled.
	Location() map[string]any
}

// StaticProvider returns fixed documents. Useful for tests and for hosts
// without dynamic state.
type StaticProvider struct {
	App    map[string]any
	Device map[string]any
	State  map[string]any
	Loc    map[string]any
}

func (p *StaticProvider) AppInfo(bool) map[string]any { return p.App }

func (p *StaticProvider) DeviceInfo() map[string]any { return p.Device }

func (p *StaticProvider) StateInfo() map[string]any { return p.State }

func (p *StaticProvider) Location() map[string]any { return p.Loc }
