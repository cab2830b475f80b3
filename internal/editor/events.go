package editor

import (
	"fmt"

	"certgen/internal/layout"
	"certgen/internal/richtext"
)

// EventType 标识输入事件。
type EventType string

const (
	EventSelect       EventType = "select"
	EventClickCanvas  EventType = "click_canvas"
	EventPointerDown  EventType = "pointer_down"
	EventPointerMove  EventType = "pointer_move"
	EventPointerUp    EventType = "pointer_up"
	EventKey          EventType = "key"
	EventSetAlign     EventType = "set_align"
	EventBeginRename  EventType = "begin_rename"
	EventCommitRename EventType = "commit_rename"
	EventCancelRename EventType = "cancel_rename"
	EventDelete       EventType = "delete"
	EventApplyStyle   EventType = "apply_style"
	EventSetText      EventType = "set_text"
	EventToggle       EventType = "toggle_visible"
	EventZoom         EventType = "zoom"
	EventAddText      EventType = "add_text"
	EventAddPhoto     EventType = "add_photo"
	EventAddQR        EventType = "add_qr"
	EventUpdatePhoto  EventType = "update_photo"
	EventUpdateQR     EventType = "update_qr"
)

// Event 是一次用户交互，字段按类型取用。
type Event struct {
	Type      EventType        `json:"type"`
	Layer     LayerRef         `json:"layer"`
	PointerID int              `json:"pointerId"`
	Handle    Handle           `json:"handle,omitempty"`
	X         float64          `json:"x"`
	Y         float64          `json:"y"`
	Key       Key              `json:"key,omitempty"`
	Modifiers Modifiers        `json:"modifiers"`
	InInput   bool             `json:"inInput,omitempty"`
	Align     layout.TextAlign `json:"align,omitempty"`
	Text      string           `json:"text,omitempty"`
	Start     int              `json:"start"`
	End       int              `json:"end"`
	Style     richtext.Style   `json:"style"`
	Zoom      float64          `json:"zoom,omitempty"`

	Photo       *PhotoSpec   `json:"photo,omitempty"`
	PhotoUpdate *PhotoUpdate `json:"photoUpdate,omitempty"`
	QRUpdate    *QRUpdate    `json:"qrUpdate,omitempty"`
}

// Apply 分发事件。返回的错误均不改变文档。
func (e *Editor) Apply(ev Event) error {
	switch ev.Type {
	case EventSelect:
		return e.Select(ev.Layer)
	case EventClickCanvas:
		e.ClickCanvas()
	case EventPointerDown:
		return e.PointerDown(ev.PointerID, ev.Layer, ev.Handle, ev.X, ev.Y)
	case EventPointerMove:
		e.PointerMove(ev.PointerID, ev.X, ev.Y)
	case EventPointerUp:
		e.PointerUp(ev.PointerID)
	case EventKey:
		e.Nudge(ev.Key, ev.Modifiers, ev.InInput)
	case EventSetAlign:
		return e.SetTextAlign(ev.Layer, ev.Align)
	case EventBeginRename:
		return e.BeginRename(ev.Layer)
	case EventCommitRename:
		return e.CommitRename(ev.Text)
	case EventCancelRename:
		e.CancelRename()
	case EventDelete:
		return e.DeleteLayer(ev.Layer)
	case EventApplyStyle:
		return e.ApplyStyle(ev.Layer, ev.Start, ev.End, ev.Style)
	case EventSetText:
		return e.SetText(ev.Layer, ev.Text)
	case EventToggle:
		return e.ToggleVisible(ev.Layer)
	case EventZoom:
		return e.SetZoom(ev.Zoom)
	case EventAddText:
		_, err := e.AddTextLayer(ev.Layer.Namespace, ev.Text)
		return err
	case EventAddPhoto:
		if ev.Photo == nil {
			return fmt.Errorf("%s event has no photo", ev.Type)
		}
		_, err := e.AddPhotoLayer(ev.Layer.Namespace, *ev.Photo)
		return err
	case EventAddQR:
		_, err := e.AddQRLayer(ev.Layer.Namespace, ev.Text)
		return err
	case EventUpdatePhoto:
		if ev.PhotoUpdate == nil {
			return fmt.Errorf("%s event has no photoUpdate", ev.Type)
		}
		return e.UpdatePhoto(ev.Layer, *ev.PhotoUpdate)
	case EventUpdateQR:
		if ev.QRUpdate == nil {
			return fmt.Errorf("%s event has no qrUpdate", ev.Type)
		}
		return e.UpdateQR(ev.Layer, *ev.QRUpdate)
	default:
		return fmt.Errorf("unknown editor event %q", ev.Type)
	}
	return nil
}
