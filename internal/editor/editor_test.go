package editor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certgen/internal/fonts"
	"certgen/internal/layout"
	"certgen/internal/richtext"
)

// halfEm 把每个字符按半个字号宽度计算。
type halfEm struct{}

func (halfEm) MeasureBlock(spec fonts.Spec, text string, _ float64) float64 {
	return float64(utf8.RuneCountInString(text)) * spec.Size / 2
}

type fakeStore struct {
	saved map[uint]*layout.Config
}

func (s *fakeStore) Save(_ context.Context, id uint, cfg *layout.Config) error {
	if s.saved == nil {
		s.saved = map[uint]*layout.Config{}
	}
	s.saved[id] = cfg
	return nil
}

func textLayer(id string, x, y float64) layout.TextLayer {
	c := layout.Canvas{Width: 1000, Height: 800}
	l := layout.TextLayer{
		ID:         id,
		FontFamily: layout.DefaultFontFamily,
		Color:      layout.DefaultColor,
		MaxWidth:   layout.DefaultMaxWidth,
		LineHeight: layout.DefaultLineHeight,
		Visible:    true,
	}
	l.SetPosition(x, y, c)
	l.SetFontSize(20, c)
	return l
}

func newTestEditor(t *testing.T) *Editor {
	t.Helper()
	cfg := layout.New(layout.Canvas{Width: 1000, Height: 800})
	name := textLayer(layout.FieldName, 500, 300)
	no := textLayer(layout.FieldCertificateNo, 100, 700)
	no.LocksAlignment, no.LocksRichText = true, true
	date := textLayer(layout.FieldIssueDate, 700, 700)
	date.LocksAlignment, date.LocksRichText = true, true
	title := textLayer("title", 100, 100)
	title.RichText = richtext.FromPlainText("ABC")
	cfg.Certificate.TextLayers = []layout.TextLayer{name, no, date, title}
	return New(cfg, halfEm{})
}

func certText(id string) LayerRef {
	return LayerRef{Namespace: layout.NamespaceCertificate, Kind: KindText, ID: id}
}

func TestNewClonesInput(t *testing.T) {
	cfg := layout.New(layout.Canvas{Width: 10, Height: 10})
	cfg.Certificate.TextLayers = []layout.TextLayer{{ID: "a"}}

	e := New(cfg, nil)
	cfg.Certificate.TextLayers[0].ID = "b"

	assert.Equal(t, "a", e.Config().Certificate.TextLayers[0].ID)
}

func TestSelectAndClickCanvas(t *testing.T) {
	e := newTestEditor(t)

	require.NoError(t, e.Select(certText("title")))
	sel, ok := e.Selected()
	require.True(t, ok)
	assert.Equal(t, "title", sel.ID)

	e.ClickCanvas()
	_, ok = e.Selected()
	assert.False(t, ok)

	var verr *ValidationError
	assert.ErrorAs(t, e.Select(certText("missing")), &verr)
}

func TestAlignmentRoundTripPreservesAnchor(t *testing.T) {
	e := newTestEditor(t)
	ref := certText("title")

	require.NoError(t, e.SetTextAlign(ref, layout.AlignCenter))
	l, _ := e.Config().Certificate.TextLayer("title")
	assert.Equal(t, 115.0, l.X, "width 30 puts the center 15px right of the left edge")
	assert.InDelta(t, 0.115, l.XPercent, 1e-9)

	require.NoError(t, e.SetTextAlign(ref, layout.AlignRight))
	assert.Equal(t, 130.0, l.X)

	require.NoError(t, e.SetTextAlign(ref, layout.AlignLeft))
	assert.InDelta(t, 100.0, l.X, 1)
	assert.Equal(t, layout.AlignLeft, l.TextAlign)
}

func TestAlignmentClampsToCanvas(t *testing.T) {
	e := newTestEditor(t)
	l, _ := e.Config().Certificate.TextLayer("title")
	l.SetPosition(990, l.Y, e.Config().Canvas)

	require.NoError(t, e.SetTextAlign(certText("title"), layout.AlignRight))
	assert.Equal(t, 1000.0, l.X)
}

func TestAlignmentSkippedForLockedFields(t *testing.T) {
	e := newTestEditor(t)

	require.NoError(t, e.SetTextAlign(certText(layout.FieldCertificateNo), layout.AlignCenter))

	l, _ := e.Config().Certificate.TextLayer(layout.FieldCertificateNo)
	assert.Equal(t, 100.0, l.X)
	assert.Empty(t, l.TextAlign)
}

func TestAlignmentRejectsUnknownValue(t *testing.T) {
	e := newTestEditor(t)
	assert.ErrorIs(t, e.SetTextAlign(certText("title"), "middle"), ErrInvalidAlign)
}

func TestDragScalesByZoomAndClamps(t *testing.T) {
	e := newTestEditor(t)
	require.NoError(t, e.SetZoom(2))
	ref := certText("title")

	require.NoError(t, e.PointerDown(1, ref, HandleNone, 0, 0))
	assert.False(t, e.Dragging())
	assert.True(t, e.PointerMove(1, 100, 50))
	assert.True(t, e.Dragging())

	l, _ := e.Config().Certificate.TextLayer("title")
	assert.Equal(t, 150.0, l.X)
	assert.Equal(t, 125.0, l.Y)
	assert.InDelta(t, 0.15, l.XPercent, 1e-9)
	assert.InDelta(t, 125.0/800, l.YPercent, 1e-9)

	e.PointerMove(1, -10000, 10000)
	assert.Equal(t, 0.0, l.X)
	assert.Equal(t, 800.0, l.Y)

	assert.True(t, e.PointerUp(1))
	assert.False(t, e.Dragging())
}

func TestPointerCaptureIgnoresOtherPointers(t *testing.T) {
	e := newTestEditor(t)
	ref := certText("title")
	require.NoError(t, e.PointerDown(1, ref, HandleNone, 0, 0))

	assert.ErrorIs(t, e.PointerDown(2, certText("name"), HandleNone, 0, 0), ErrPointerCaptured)
	assert.False(t, e.PointerMove(2, 50, 50))
	assert.False(t, e.PointerUp(2))

	l, _ := e.Config().Certificate.TextLayer("title")
	assert.Equal(t, 100.0, l.X)

	assert.True(t, e.PointerUp(1))
	require.NoError(t, e.PointerDown(2, certText("name"), HandleNone, 0, 0))
}

func TestResizeTextCornerHandle(t *testing.T) {
	e := newTestEditor(t)
	ref := certText("title")

	require.NoError(t, e.PointerDown(1, ref, HandleSE, 0, 0))
	assert.True(t, e.Resizing())
	e.PointerMove(1, 50, 16)

	l, _ := e.Config().Certificate.TextLayer("title")
	assert.Equal(t, 350.0, l.MaxWidth)
	assert.InDelta(t, 2.0, l.LineHeight, 1e-9)

	e.PointerMove(1, -1000, 1000)
	assert.Equal(t, MinMaxWidth, l.MaxWidth)
	assert.Equal(t, layout.MaxLineHeight, l.LineHeight)

	e.PointerMove(1, 0, -1000)
	assert.Equal(t, layout.MinLineHeight, l.LineHeight)
}

func TestResizeQRStaysSquareAndCapped(t *testing.T) {
	e := newTestEditor(t)
	ref, err := e.AddQRLayer(layout.NamespaceCertificate, "")
	require.NoError(t, err)
	q, _ := e.Config().Certificate.QRLayer(ref.ID)
	assert.Equal(t, DefaultQRData, q.QRData)
	start := q.Width

	require.NoError(t, e.PointerDown(7, ref, HandleE, 0, 0))
	e.PointerMove(7, 20, 0)
	assert.Equal(t, start+20, q.Width)
	assert.Equal(t, q.Width, q.Height)

	e.PointerMove(7, 5000, 0)
	assert.Equal(t, 640.0, q.Width, "capped at 0.8 of the 800px short side")
	assert.Equal(t, q.Width, q.Height)

	e.PointerMove(7, -5000, 0)
	assert.Equal(t, MinQRSize, q.Width)
	e.PointerUp(7)
}

func TestResizePhotoKeepsAspect(t *testing.T) {
	e := newTestEditor(t)
	ref, err := e.AddPhotoLayer(layout.NamespaceCertificate, PhotoSpec{Src: "a.png", OriginalWidth: 400, OriginalHeight: 200})
	require.NoError(t, err)
	p, _ := e.Config().Certificate.PhotoLayer(ref.ID)
	assert.Equal(t, 250.0, p.Width)
	assert.Equal(t, 125.0, p.Height)

	require.NoError(t, e.PointerDown(1, ref, HandleW, 0, 0))
	right := p.X + p.Width
	e.PointerMove(1, -50, 0)

	assert.Equal(t, 300.0, p.Width)
	assert.Equal(t, 150.0, p.Height)
	assert.Equal(t, right, p.X+p.Width, "west handle keeps the right edge")
}

func TestNudgeSteps(t *testing.T) {
	e := newTestEditor(t)
	require.NoError(t, e.Select(certText("title")))
	l, _ := e.Config().Certificate.TextLayer("title")

	assert.True(t, e.Nudge(KeyRight, Modifiers{}, false))
	assert.Equal(t, 101.0, l.X)
	assert.True(t, e.Nudge(KeyDown, Modifiers{Shift: true}, false))
	assert.Equal(t, 110.0, l.Y)
	assert.True(t, e.Nudge(KeyLeft, Modifiers{Alt: true}, false))
	assert.InDelta(t, 100.9, l.X, 1e-9)

	assert.False(t, e.Nudge(KeyUp, Modifiers{}, true))
	assert.Equal(t, 110.0, l.Y)

	e.ClickCanvas()
	assert.False(t, e.Nudge(KeyUp, Modifiers{}, false))
}

func TestRename(t *testing.T) {
	e := newTestEditor(t)
	ref := certText("title")
	require.NoError(t, e.Select(ref))

	t.Run("collision is rejected and state unchanged", func(t *testing.T) {
		require.NoError(t, e.BeginRename(ref))
		err := e.CommitRename(layout.FieldName)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.ErrorIs(t, err, ErrDuplicateID)
		_, ok := e.Config().Certificate.TextLayer("title")
		assert.True(t, ok)
		_, renaming := e.Renaming()
		assert.True(t, renaming)
	})

	t.Run("unchanged value cancels", func(t *testing.T) {
		require.NoError(t, e.CommitRename("  title "))
		_, renaming := e.Renaming()
		assert.False(t, renaming)
	})

	t.Run("empty value cancels", func(t *testing.T) {
		require.NoError(t, e.BeginRename(ref))
		require.NoError(t, e.CommitRename(""))
		_, ok := e.Config().Certificate.TextLayer("title")
		assert.True(t, ok)
	})

	t.Run("commit renames and keeps selection", func(t *testing.T) {
		require.NoError(t, e.BeginRename(ref))
		require.NoError(t, e.CommitRename("course"))
		_, ok := e.Config().Certificate.TextLayer("course")
		assert.True(t, ok)
		sel, _ := e.Selected()
		assert.Equal(t, "course", sel.ID)
	})

	t.Run("required ids cannot be renamed", func(t *testing.T) {
		assert.ErrorIs(t, e.BeginRename(certText(layout.FieldName)), ErrRequiredLayer)
	})

	assert.ErrorIs(t, e.CommitRename("x"), ErrNotRenaming)
}

func TestDeleteGuardsRequiredLayers(t *testing.T) {
	e := newTestEditor(t)
	before := e.Snapshot().Certificate.TextLayers

	for _, id := range []string{layout.FieldName, layout.FieldCertificateNo, layout.FieldIssueDate} {
		err := e.DeleteLayer(certText(id))
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, id)
		assert.ErrorIs(t, err, ErrRequiredLayer)
	}
	assert.Equal(t, before, e.Config().Certificate.TextLayers)

	require.NoError(t, e.DeleteLayer(certText("title")))
	assert.Len(t, e.Config().Certificate.TextLayers, 3)
}

func TestDeleteGuardsScoreIssueDate(t *testing.T) {
	e := newTestEditor(t)
	ref, err := e.AddTextLayer(layout.NamespaceScore, "x")
	require.NoError(t, err)
	require.NoError(t, e.BeginRename(ref))
	require.NoError(t, e.CommitRename(layout.FieldIssueDate))

	assert.ErrorIs(t, e.DeleteLayer(LayerRef{Namespace: layout.NamespaceScore, Kind: KindText, ID: layout.FieldIssueDate}), ErrRequiredLayer)
}

func TestAddLayersGenerateUniqueIDs(t *testing.T) {
	e := newTestEditor(t)

	a, err := e.AddTextLayer(layout.NamespaceCertificate, "Hello")
	require.NoError(t, err)
	b, err := e.AddTextLayer(layout.NamespaceCertificate, "")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Regexp(t, `^text-\d+$`, a.ID)

	p1, _ := e.AddPhotoLayer(layout.NamespaceCertificate, PhotoSpec{})
	p2, _ := e.AddPhotoLayer(layout.NamespaceCertificate, PhotoSpec{})
	assert.NotEqual(t, p1.ID, p2.ID)
	assert.Regexp(t, `^photo-[0-9a-f]{8}$`, p1.ID)

	sel, _ := e.Selected()
	assert.Equal(t, p2, sel)

	_, err = e.AddTextLayer("back", "x")
	assert.ErrorIs(t, err, ErrUnknownNamespace)
}

func TestApplyStyle(t *testing.T) {
	e := newTestEditor(t)
	ref := certText("title")

	require.NoError(t, e.ApplyStyle(ref, 1, 2, richtext.Style{FontWeight: "bold"}))
	l, _ := e.Config().Certificate.TextLayer("title")
	assert.True(t, l.HasInlineFormatting)
	assert.Equal(t, "ABC", l.RichText.Flatten())
	v, err := e.CommonStyle(ref, richtext.FieldFontWeight, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, richtext.Mixed, v)

	require.NoError(t, e.ApplyStyle(ref, 2, 2, richtext.Style{Color: "#ff0000", FontSize: 40}))
	assert.Equal(t, "#ff0000", l.Color)
	assert.Equal(t, 40.0, l.FontSize)
	assert.InDelta(t, 0.05, l.FontSizePercent, 1e-9)
}

func TestApplyStyleOnLockedLayerChangesDefaults(t *testing.T) {
	e := newTestEditor(t)
	ref := certText(layout.FieldCertificateNo)

	require.NoError(t, e.ApplyStyle(ref, 0, 3, richtext.Style{FontWeight: "bold"}))

	l, _ := e.Config().Certificate.TextLayer(layout.FieldCertificateNo)
	assert.Nil(t, l.RichText)
	assert.Equal(t, "bold", l.FontWeight)
}

func TestToggleVisible(t *testing.T) {
	e := newTestEditor(t)
	ref := certText("title")

	require.NoError(t, e.ToggleVisible(ref))
	l, _ := e.Config().Certificate.TextLayer("title")
	assert.False(t, l.Visible)
	require.NoError(t, e.ToggleVisible(ref))
	assert.True(t, l.Visible)
}

func TestSaveValidatesRequiredFields(t *testing.T) {
	e := newTestEditor(t)
	store := &fakeStore{}

	require.NoError(t, e.Save(context.Background(), store, 3))
	require.Contains(t, store.saved, uint(3))

	// 保存的是快照，之后的编辑不影响已保存内容。
	require.NoError(t, e.SetText(certText("title"), "changed"))
	saved, _ := store.saved[3].Certificate.TextLayer("title")
	assert.Equal(t, "ABC", saved.DisplayText())

	e.Config().Certificate.TextLayers = e.Config().Certificate.TextLayers[:1]
	err := e.Save(context.Background(), store, 4)
	var missing *layout.MissingFieldsError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{layout.FieldCertificateNo, layout.FieldIssueDate}, missing.Missing)
	assert.NotContains(t, store.saved, uint(4))
}

func TestSetCanvasRenormalizes(t *testing.T) {
	e := newTestEditor(t)
	e.SetCanvas(layout.Canvas{Width: 2000, Height: 1600})

	l, _ := e.Config().Certificate.TextLayer("title")
	assert.Equal(t, 200.0, l.X)
	assert.Equal(t, 200.0, l.Y)
	assert.Equal(t, 40.0, l.FontSize)
}

func TestApplyDispatchesEvents(t *testing.T) {
	e := newTestEditor(t)
	ref := certText("title")

	require.NoError(t, e.Apply(Event{Type: EventPointerDown, Layer: ref, PointerID: 1}))
	require.NoError(t, e.Apply(Event{Type: EventPointerMove, PointerID: 1, X: 10, Y: 0}))
	require.NoError(t, e.Apply(Event{Type: EventPointerUp, PointerID: 1}))
	require.NoError(t, e.Apply(Event{Type: EventKey, Key: KeyRight}))

	l, _ := e.Config().Certificate.TextLayer("title")
	assert.Equal(t, 111.0, l.X)

	assert.Error(t, e.Apply(Event{Type: "bogus"}))
	assert.ErrorIs(t, e.Apply(Event{Type: EventZoom, Zoom: 0}), ErrInvalidZoom)
}

func TestApplyDecodesLayerEvents(t *testing.T) {
	e := newTestEditor(t)
	var events []Event
	require.NoError(t, json.Unmarshal([]byte(`[
	  {"type": "add_photo", "layer": {"namespace": "certificate"}, "photo": {"src": "assets/logo.png", "originalWidth": 200, "originalHeight": 100}},
	  {"type": "add_qr", "layer": {"namespace": "certificate"}},
	  {"type": "update_qr", "layer": {"namespace": "certificate", "kind": "qr"}, "qrUpdate": {"margin": 3, "foregroundColor": "#112233"}}
	]`), &events))

	require.NoError(t, e.Apply(events[0]))
	photos := e.Config().Certificate.PhotoLayers
	require.Len(t, photos, 1)
	assert.Equal(t, "assets/logo.png", photos[0].Src)
	assert.InDelta(t, 250, photos[0].Width, 0.01)
	assert.InDelta(t, 125, photos[0].Height, 0.01)

	require.NoError(t, e.Apply(events[1]))
	ref, ok := e.Selected()
	require.True(t, ok)
	assert.Equal(t, KindQR, ref.Kind)

	events[2].Layer.ID = ref.ID
	require.NoError(t, e.Apply(events[2]))
	qr := e.Config().Certificate.QRLayers[0]
	assert.Equal(t, 3, qr.Margin)
	assert.Equal(t, "#112233", qr.ForegroundColor)
	assert.Equal(t, DefaultQRData, qr.QRData)

	assert.Error(t, e.Apply(Event{Type: EventAddPhoto, Layer: LayerRef{Namespace: layout.NamespaceCertificate}}))
	assert.Error(t, e.Apply(Event{Type: EventUpdateQR, Layer: ref}))
}
