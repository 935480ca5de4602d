package schemas

import (
	"time"
)

// -- DevTools Pocket Schemas --

// EventType classifies a captured pocket event.
type EventType string

const (
	EventConsoleError EventType = "console-error"
	EventConsoleLog   EventType = "console-log"
	EventNetwork      EventType = "network"
)

// CaughtEvent is one entry of a device's pocket log.
type CaughtEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Source    string    `json:"source,omitempty"`
	Line      int64     `json:"line,omitempty"`
	URL       string    `json:"url,omitempty"`
}

// PocketRules is the global capture configuration shared by every device.
type PocketRules struct {
	ConsoleFilterText string `json:"consoleFilterText" yaml:"console_filter"`
	ConsoleLogMatch   string `json:"consoleLogMatch" yaml:"console_log_match"`
	NetworkMatch      string `json:"networkMatch" yaml:"network_match"`
	IsNetworkEnabled  bool   `json:"isNetworkEnabled" yaml:"network_enabled"`
}

// PocketRulesPatch carries a partial rules update; nil fields are left untouched.
type PocketRulesPatch struct {
	ConsoleFilterText *string `json:"consoleFilterText,omitempty"`
	ConsoleLogMatch   *string `json:"consoleLogMatch,omitempty"`
	NetworkMatch      *string `json:"networkMatch,omitempty"`
	IsNetworkEnabled  *bool   `json:"isNetworkEnabled,omitempty"`
}

// Apply merges the patch over r and returns the result.
func (p PocketRulesPatch) Apply(r PocketRules) PocketRules {
	if p.ConsoleFilterText != nil {
		r.ConsoleFilterText = *p.ConsoleFilterText
	}
	if p.ConsoleLogMatch != nil {
		r.ConsoleLogMatch = *p.ConsoleLogMatch
	}
	if p.NetworkMatch != nil {
		r.NetworkMatch = *p.NetworkMatch
	}
	if p.IsNetworkEnabled != nil {
		r.IsNetworkEnabled = *p.IsNetworkEnabled
	}
	return r
}

// -- Browsing Context Event Schemas --

// LifecycleKind names a browsing surface lifecycle transition.
type LifecycleKind string

const (
	LifecycleStartLoading   LifecycleKind = "start-loading"
	LifecycleStopLoading    LifecycleKind = "stop-loading"
	LifecycleDidNavigate    LifecycleKind = "did-navigate"
	LifecycleDidFailLoad    LifecycleKind = "did-fail-load"
	LifecycleDomReady       LifecycleKind = "dom-ready"
	LifecycleDevToolsOpened LifecycleKind = "devtools-opened"
	LifecycleDevToolsClosed LifecycleKind = "devtools-closed"
)

// LifecycleEvent is emitted by a surface for each lifecycle transition.
type LifecycleEvent struct {
	Kind             LifecycleKind `json:"kind"`
	URL              string        `json:"url,omitempty"`
	ErrorCode        int           `json:"errorCode,omitempty"`
	ErrorDescription string        `json:"errorDescription,omitempty"`
	IsMainFrame      bool          `json:"isMainFrame"`
}

// ConsoleLevel is the severity of a console message.
type ConsoleLevel string

const (
	ConsoleVerbose ConsoleLevel = "verbose"
	ConsoleInfo    ConsoleLevel = "info"
	ConsoleWarning ConsoleLevel = "warning"
	ConsoleError   ConsoleLevel = "error"
)

// ConsoleMessage is a console entry raised inside a browsing surface.
type ConsoleMessage struct {
	Level    ConsoleLevel `json:"level"`
	Message  string       `json:"message"`
	SourceID string       `json:"sourceId,omitempty"`
	Line     int64        `json:"line,omitempty"`
}

// NetworkEvent describes a completed (or failed) network request. TargetID
// identifies the surface that issued the request.
type NetworkEvent struct {
	TargetID  string `json:"targetId"`
	RequestID string `json:"requestId"`
	URL       string `json:"url"`
	Method    string `json:"method,omitempty"`
	Status    int64  `json:"status,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
	Failed    bool   `json:"failed,omitempty"`
	ErrorText string `json:"errorText,omitempty"`
}

// Notification is a transient, user-facing message raised by a capture or an
// operation outcome.
type Notification struct {
	DeviceID  string    `json:"deviceId,omitempty"`
	Kind      string    `json:"kind"` // error, log, network, success
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
