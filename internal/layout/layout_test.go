package layout

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certgen/internal/richtext"
)

func TestPercentRoundTrip(t *testing.T) {
	dims := []float64{1, 7, 599, 800, 1123, 3508}
	for _, d := range dims {
		for p := 0.0; p <= d; p += d / 37 {
			got := ToPixel(ToPercent(p, d), d)
			assert.InDelta(t, p, got, 1, "pixel %v dim %v", p, d)
		}
	}
}

func TestToPercentZeroDimension(t *testing.T) {
	assert.Zero(t, ToPercent(10, 0))
}

func TestRenormalizeKeepsRelativePlacement(t *testing.T) {
	cfg := New(Canvas{Width: 800, Height: 600})
	cfg.Certificate.TextLayers = []TextLayer{{
		ID:              "name",
		XPercent:        0.25,
		YPercent:        0.6,
		FontSize:        30,
		FontSizePercent: 0.05,
		MaxWidth:        400,
	}}
	cfg.Certificate.QRLayers = []QRLayer{{ID: "qr", XPercent: 0.5, YPercent: 0.5, WidthPercent: 0.1}}
	cfg.Certificate.PhotoLayers = []PhotoLayer{{ID: "photo", XPercent: 0.1, YPercent: 0.2, WidthPercent: 0.2, HeightPercent: 0.3}}

	cfg.Renormalize(Canvas{Width: 1600, Height: 1200})

	text := cfg.Certificate.TextLayers[0]
	assert.Equal(t, 400.0, text.X)
	assert.Equal(t, 720.0, text.Y)
	assert.Equal(t, 60.0, text.FontSize)
	assert.Equal(t, 800.0, text.MaxWidth)

	qr := cfg.Certificate.QRLayers[0]
	assert.Equal(t, 160.0, qr.Width)
	assert.Equal(t, qr.Width, qr.Height)
	assert.Equal(t, 800.0, qr.X)

	photo := cfg.Certificate.PhotoLayers[0]
	assert.Equal(t, 160.0, photo.X)
	assert.Equal(t, 240.0, photo.Y)
	assert.Equal(t, 320.0, photo.Width)
	assert.Equal(t, 360.0, photo.Height)

	assert.Equal(t, Canvas{Width: 1600, Height: 1200}, cfg.Canvas)
}

func TestDecodeBackfillsMissingFields(t *testing.T) {
	doc := []byte(`{
		"certificate": {"textLayers": [
			{"id": "name", "x": 100, "y": 50, "fontSize": 40},
			{"id": "certificate_no", "x": 10, "y": 10, "textAlign": "center"}
		]},
		"canvas": {"width": 1000, "height": 800}
	}`)

	cfg, err := Decode(doc)
	require.NoError(t, err)

	assert.Equal(t, CurrentVersion, cfg.Version)
	assert.Nil(t, cfg.Score)
	assert.Empty(t, cfg.Certificate.PhotoLayers)
	assert.Empty(t, cfg.Certificate.QRLayers)

	name := cfg.Certificate.TextLayers[0]
	assert.Equal(t, DefaultMaxWidth, name.MaxWidth)
	assert.Equal(t, DefaultLineHeight, name.LineHeight)
	assert.InDelta(t, 0.05, name.FontSizePercent, 1e-9)
	assert.InDelta(t, 0.1, name.XPercent, 1e-9)
	assert.True(t, name.Visible)
	assert.False(t, name.LocksAlignment)

	no := cfg.Certificate.TextLayers[1]
	assert.True(t, no.LocksAlignment)
	assert.True(t, no.LocksRichText)
	assert.Equal(t, AlignLeft, no.EffectiveAlign())
}

func TestDecodeDefaultsPhotoAndQR(t *testing.T) {
	doc := []byte(`{
		"certificate": {
			"textLayers": [],
			"photoLayers": [{"id": "p", "x": 0, "y": 0, "width": 100, "height": 100}],
			"qrLayers": [{"id": "q", "x": 0, "y": 0, "width": 120, "qrData": "{{CERTIFICATE_URL}}"}]
		},
		"score": {"textLayers": [{"id": "issue_date", "visible": false}]},
		"canvas": {"width": 1000, "height": 1000}
	}`)

	cfg, err := Decode(doc)
	require.NoError(t, err)

	p := cfg.Certificate.PhotoLayers[0]
	assert.Equal(t, DefaultPhotoZIndex, p.ZIndex)
	assert.Equal(t, 1.0, p.Opacity)
	assert.Equal(t, FitCover, p.FitMode)

	q := cfg.Certificate.QRLayers[0]
	assert.Equal(t, DefaultQRZIndex, q.ZIndex)
	assert.Equal(t, 120.0, q.Height)

	require.NotNil(t, cfg.Score)
	assert.False(t, cfg.Score.TextLayers[0].Visible)
}

func TestDecodeEmpty(t *testing.T) {
	_, err := Decode([]byte("  "))
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestEncodeDecodePreservesRichText(t *testing.T) {
	cfg := New(Canvas{Width: 100, Height: 100})
	cfg.Certificate.TextLayers = []TextLayer{{
		ID:       "name",
		RichText: richtext.RichText{{Text: "A", Style: richtext.Style{FontWeight: "bold"}}, {Text: "B"}},
		Visible:  true,
	}}

	data, err := Encode(cfg)
	require.NoError(t, err)
	back, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, cfg.Certificate.TextLayers[0].RichText, back.Certificate.TextLayers[0].RichText)
	assert.NotNil(t, back.Certificate.PhotoLayers)
}

func TestValidateListsExactlyMissingFields(t *testing.T) {
	cfg := New(Canvas{Width: 100, Height: 100})
	cfg.Certificate.TextLayers = []TextLayer{{ID: "name"}, {ID: "issue_date"}}

	err := cfg.Validate()

	var missing *MissingFieldsError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, NamespaceCertificate, missing.Namespace)
	assert.Equal(t, []string{"certificate_no"}, missing.Missing)
}

func TestValidateScoreNamespace(t *testing.T) {
	cfg := New(Canvas{Width: 100, Height: 100})
	cfg.Certificate.TextLayers = []TextLayer{{ID: "name"}, {ID: "certificate_no"}, {ID: "issue_date"}}
	require.NoError(t, cfg.Validate())

	cfg.Score = &LayerSet{}
	var missing *MissingFieldsError
	require.ErrorAs(t, cfg.Validate(), &missing)
	assert.Equal(t, NamespaceScore, missing.Namespace)
	assert.Equal(t, []string{"issue_date"}, missing.Missing)
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := New(Canvas{Width: 100, Height: 100})
	cfg.Certificate.TextLayers = []TextLayer{{ID: "name", RichText: richtext.FromPlainText("x")}}
	cfg.Score = &LayerSet{PhotoLayers: []PhotoLayer{{ID: "p", Crop: &Crop{Width: 1}}}}

	snap := cfg.Clone()
	cfg.Certificate.TextLayers[0].ID = "changed"
	cfg.Certificate.TextLayers[0].RichText[0].Text = "y"
	cfg.Score.PhotoLayers[0].Crop.Width = 0.5

	assert.Equal(t, "name", snap.Certificate.TextLayers[0].ID)
	assert.Equal(t, "x", snap.Certificate.TextLayers[0].RichText[0].Text)
	assert.Equal(t, 1.0, snap.Score.PhotoLayers[0].Crop.Width)
}
