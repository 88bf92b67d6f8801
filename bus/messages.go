package bus

import (
	"time"

	"github.com/JuhyeokC/whit/capture"
)

// Type tags a message envelope. The set of tags is closed; dispatch over an
// unlisted tag terminates in UnknownTypeError.
type Type string

const (
	TypeStartSelection    Type = "start-selection"
	TypeCancelSelection   Type = "cancel-selection"
	TypeFinishSelection   Type = "finish-selection"
	TypeCaptureRequest    Type = "capture-request"
	TypeSetLatestImage    Type = "set-latest-image"
	TypeGetLatestImage    Type = "get-latest-image"
	TypeAnalyzeRequest    Type = "analyze-request"
	TypeSaveHistoryItem   Type = "save-history-item"
	TypeGetHistory        Type = "get-history"
	TypeDeleteHistoryItem Type = "delete-history-item"
	TypeClearHistory      Type = "clear-history"
)

// knownTypes is the closed tag set. Request consults it to distinguish an
// unreachable receiver from a tag that simply does not exist.
var knownTypes = map[Type]bool{
	TypeStartSelection:    true,
	TypeCancelSelection:   true,
	TypeFinishSelection:   true,
	TypeCaptureRequest:    true,
	TypeSetLatestImage:    true,
	TypeGetLatestImage:    true,
	TypeAnalyzeRequest:    true,
	TypeSaveHistoryItem:   true,
	TypeGetHistory:        true,
	TypeDeleteHistoryItem: true,
	TypeClearHistory:      true,
}

// Message is one envelope variant. Each variant carries a fixed payload
// shape; replies are themselves Messages.
type Message interface {
	Type() Type
}

// HistoryItem is one saved analysis record.
type HistoryItem struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Thumb     []byte    `json:"thumb"`
	Result    string    `json:"result"`
	Model     string    `json:"model"`
	Tone      string    `json:"tone"`
}

// StartSelection asks the page context to arm the selection overlay.
type StartSelection struct{}

func (StartSelection) Type() Type { return TypeStartSelection }

// OKReply is the bare acknowledgement reply.
type OKReply struct {
	T     Type   `json:"type"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (r OKReply) Type() Type { return r.T }

// CancelSelection tells the coordinator a selection was abandoned. Fire and
// forget; no reply is required.
type CancelSelection struct{}

func (CancelSelection) Type() Type { return TypeCancelSelection }

// FinishSelection tells the coordinator a capture round completed.
type FinishSelection struct{}

func (FinishSelection) Type() Type { return TypeFinishSelection }

// CaptureRequest asks the privileged capture service for a full-viewport
// screenshot.
type CaptureRequest struct{}

func (CaptureRequest) Type() Type { return TypeCaptureRequest }

// CaptureReply carries the encoded full-frame screenshot.
type CaptureReply struct {
	OK        bool   `json:"ok"`
	ImageData []byte `json:"imageData,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (CaptureReply) Type() Type { return TypeCaptureRequest }

// SetLatestImage stores a capture in the coordinator's latest-capture slot.
// Last writer wins; there is no queue.
type SetLatestImage struct {
	Payload capture.CapturedImage `json:"payload"`
}

func (SetLatestImage) Type() Type { return TypeSetLatestImage }

// GetLatestImage fetches the latest-capture slot.
type GetLatestImage struct{}

func (GetLatestImage) Type() Type { return TypeGetLatestImage }

// LatestImageReply carries the slot content; Payload is nil when no capture
// has been stored yet.
type LatestImageReply struct {
	OK      bool                   `json:"ok"`
	Payload *capture.CapturedImage `json:"payload"`
}

func (LatestImageReply) Type() Type { return TypeGetLatestImage }

// AnalyzeRequest routes an image through the analysis cache. PromptText is
// optional; when empty the coordinator derives it from Tone.
type AnalyzeRequest struct {
	ImageData  []byte `json:"imageData"`
	PromptText string `json:"promptText,omitempty"`
	Tone       string `json:"tone"`
}

func (AnalyzeRequest) Type() Type { return TypeAnalyzeRequest }

// AnalyzeReply carries the analysis result. Cached reports whether the
// result came from the cache without a remote call.
type AnalyzeReply struct {
	OK     bool   `json:"ok"`
	Result string `json:"result,omitempty"`
	Cached bool   `json:"cached"`
	Model  string `json:"model,omitempty"`
	Tone   string `json:"tone,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (AnalyzeReply) Type() Type { return TypeAnalyzeRequest }

// SaveHistoryItem prepends an item to the history list.
type SaveHistoryItem struct {
	Item HistoryItem `json:"item"`
}

func (SaveHistoryItem) Type() Type { return TypeSaveHistoryItem }

// GetHistory lists history items, newest first.
type GetHistory struct{}

func (GetHistory) Type() Type { return TypeGetHistory }

// HistoryReply carries the history list.
type HistoryReply struct {
	OK    bool          `json:"ok"`
	Items []HistoryItem `json:"items"`
}

func (HistoryReply) Type() Type { return TypeGetHistory }

// DeleteHistoryItem removes one history item by ID.
type DeleteHistoryItem struct {
	ID string `json:"id"`
}

func (DeleteHistoryItem) Type() Type { return TypeDeleteHistoryItem }

// DeleteHistoryReply reports how many items were removed (0 or 1).
type DeleteHistoryReply struct {
	OK      bool `json:"ok"`
	Removed int  `json:"removed"`
}

func (DeleteHistoryReply) Type() Type { return TypeDeleteHistoryItem }

// ClearHistory removes every history item. The analysis cache lives in a
// separate namespace and is not touched.
type ClearHistory struct{}

func (ClearHistory) Type() Type { return TypeClearHistory }
