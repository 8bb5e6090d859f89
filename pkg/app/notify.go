package app

import (
	"github.com/teslashibe/go-readaloud/pkg/hub"
	"github.com/teslashibe/go-readaloud/pkg/permission"
)

// Notices shown to the user.
const (
	NoticeCameraUnavailable   = "Unable to open camera"
	NoticePermissionDenied    = "Camera permission denied"
	NoticeNoImage             = "Capture an image first"
	NoticeLanguageUnsupported = "Language not supported"
	NoticeSpeechInitFailed    = "Speech engine failed to initialize"
	NoticeSpeechNotReady      = "Speech engine is not ready yet"
	NoticeSpeechFailed        = "Unable to read the text aloud"
	NoticeNoText              = "No text found in the image"
	NoticeNothingToRead       = "Recognize some text first"
	NoticeOCRUnavailable      = "Text recognition is unavailable"
)

// Notifier delivers events to the user interface.
type Notifier interface {
	// Notice shows a transient message.
	Notice(level, text string)

	// PermissionRequest asks the user to answer a permission prompt.
	PermissionRequest(code int, perm permission.Permission)
}

// PermissionPrompt is broadcast when the UI must ask for a permission.
type PermissionPrompt struct {
	Type       string                `json:"type"`
	Code       int                   `json:"code"`
	Permission permission.Permission `json:"permission"`
}

// HubNotifier broadcasts notices and prompts as JSON on a hub.
type HubNotifier struct {
	Hub *hub.Hub
}

// Notice broadcasts a hub.Notice.
func (n HubNotifier) Notice(level, text string) {
	_ = n.Hub.BroadcastJSON(hub.NewNotice(level, text))
}

// PermissionRequest broadcasts a PermissionPrompt.
func (n HubNotifier) PermissionRequest(code int, perm permission.Permission) {
	_ = n.Hub.BroadcastJSON(PermissionPrompt{Type: "permission_request", Code: code, Permission: perm})
}

type discardNotifier struct{}

func (discardNotifier) Notice(string, string)                        {}
func (discardNotifier) PermissionRequest(int, permission.Permission) {}
