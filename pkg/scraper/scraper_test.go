package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<!doctype html>
<html><head><title> Best  Coffee Grinders </title><style>h2{color:red}</style></head>
<body>
  <h1>Choosing a <em>coffee</em> grinder</h1>
  <h1>Second h1 is ignored</h1>
  <h2>Burr vs blade</h2>
  <h3>Conical burrs</h3>
  <h3>Flat burrs</h3>
  <h2>Budget picks</h2>
  <h2>   </h2>
  <script>document.write("<h2>injected</h2>")</script>
</body></html>`

func TestParse(t *testing.T) {
	tree, err := Parse(strings.NewReader(page))
	require.NoError(t, err)

	assert.Equal(t, "Best Coffee Grinders", tree.Title)
	assert.Equal(t, "Choosing a coffee grinder", tree.H1)
	assert.Equal(t, []string{"Burr vs blade", "Budget picks"}, tree.H2s)
	assert.Equal(t, []string{"Conical burrs", "Flat burrs"}, tree.H3s)
}

func TestExtract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	s := New(Options{UserAgent: "test-agent", AllowPrivateHosts: true})
	tree, err := s.Extract(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Choosing a coffee grinder", tree.H1)
}

func TestExtractFailures(t *testing.T) {
	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>nothing here</p></body></html>`))
	}))
	defer empty.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer slow.Close()

	s := New(Options{AllowPrivateHosts: true, Timeout: 50 * time.Millisecond})
	ctx := context.Background()

	_, err := s.Extract(ctx, "ftp://example.com/file")
	assert.ErrorIs(t, err, ErrUnsupportedURL)

	_, err = s.Extract(ctx, notFound.URL)
	assert.ErrorContains(t, err, "status 404")

	_, err = s.Extract(ctx, empty.URL)
	assert.ErrorIs(t, err, ErrNoHeadings)

	_, err = s.Extract(ctx, slow.URL)
	assert.Error(t, err)
}

func TestExtractBlocksPrivateHosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	s := New(Options{})
	_, err := s.Extract(context.Background(), srv.URL)
	assert.ErrorIs(t, err, errBlockedHost)
}
