package qrcode

import (
	"bytes"
	"context"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusattend/internal/cloudinary"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func TestAttendURL(t *testing.T) {
	assert.Equal(t, "https://campus.test/attend/abc/", AttendURL("https://campus.test/", "abc"))
	assert.Equal(t, "/attend/abc/", AttendURL("", "abc"))
}

func TestRenderProducesPNG(t *testing.T) {
	b := Render("https://campus.test/attend/abc/", 0)
	require.True(t, bytes.HasPrefix(b, pngMagic))
	img, err := png.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, DefaultSize, img.Bounds().Dx())
}

func TestRenderFallsBackToPlaceholder(t *testing.T) {
	// beyond QR capacity
	b := Render(strings.Repeat("x", 8000), 64)
	assert.Equal(t, Placeholder(), b)

	img, err := png.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, 1, img.Bounds().Dx())
}

func TestGeneratorWithFileStore(t *testing.T) {
	g := NewGenerator(NewFileStore(t.TempDir()), 128)
	ctx := context.Background()

	ref, err := g.Generate(ctx, "5f1c-uuid", "https://campus.test")
	require.NoError(t, err)
	assert.Equal(t, "qr_codes/qr_5f1c-uuid.png", ref)

	b, err := g.Load(ctx, ref)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(b, pngMagic))

	_, err = g.Load(ctx, "../../etc/passwd")
	assert.Error(t, err)
}

func TestGeneratorWithCloudinary(t *testing.T) {
	var uploaded []byte
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write(uploaded)
			return
		}
		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(f)
		uploaded = buf.Bytes()
		_, _ = w.Write([]byte(`{"public_id":"qr_s1","secure_url":"` + srvURL + `/img/qr_s1.png"}`))
	}))
	defer srv.Close()
	srvURL = srv.URL

	c := cloudinary.New("demo", "key", "secret", "qr_codes")
	c.APIBase = srv.URL
	g := NewGenerator(NewCloudinaryStore(c), 0)

	ref, err := g.Generate(context.Background(), "s1", "https://campus.test")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/img/qr_s1.png", ref)

	b, err := g.Load(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(b, pngMagic))

	_, err = g.Load(context.Background(), "qr_codes/local.png")
	assert.Error(t, err)
}
