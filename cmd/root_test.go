package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bookmeta/internal/book"
	"github.com/JakeFAU/bookmeta/internal/config"
	"github.com/JakeFAU/bookmeta/internal/cover"
)

type fakeApp struct {
	records []book.Record
	cover   *cover.Result
	gotReq  book.LookupRequest
	closed  bool
}

func (f *fakeApp) Identify(_ context.Context, req book.LookupRequest, sink book.Sink) error {
	f.gotReq = req
	for _, r := range f.records {
		sink.Put(r)
	}
	return nil
}

func (f *fakeApp) Download(_ context.Context, req book.LookupRequest) (*cover.Result, error) {
	f.gotReq = req
	return f.cover, nil
}

func (f *fakeApp) Handler() http.Handler { return http.NotFoundHandler() }
func (f *fakeApp) Logger() *zap.Logger   { return zap.NewNop() }
func (f *fakeApp) Close()                { f.closed = true }

// runRoot executes the root command against fake. It swaps the package-level
// factory, so callers must not run in parallel.
func runRoot(t *testing.T, fake *fakeApp, args ...string) (string, error) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "bookmeta.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("logging:\n  development: false\n  level: error\n"), 0o600))

	orig := newApp
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) { return fake, nil }
	t.Cleanup(func() { newApp = orig })

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIdentifyCmd_PrintsSortedRecords(t *testing.T) {
	fake := &fakeApp{records: []book.Record{
		{Title: "Duna Mesiáš", Authors: []string{"Frank Herbert"}, Identifier: "dune-2", Relevance: 1},
		{Title: "Duna", Authors: []string{"Frank Herbert"}, Identifier: "dune-1", Relevance: 2},
	}}

	out, err := runRoot(t, fake, "identify", "--title", " Duna ", "--author", "Frank Herbert")
	require.NoError(t, err)
	require.True(t, fake.closed)
	require.Equal(t, "Duna", fake.gotReq.Title)
	require.Equal(t, []string{"Frank Herbert"}, fake.gotReq.Authors)

	var got []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2)
	require.Equal(t, "Duna", got[0]["title"])
}

func TestIdentifyCmd_NoMatchesPrintsEmptyArray(t *testing.T) {
	out, err := runRoot(t, &fakeApp{}, "identify", "--isbn", "9788025707418")
	require.NoError(t, err)
	require.JSONEq(t, "[]", out)
}

func TestIdentifyCmd_RequiresCriteria(t *testing.T) {
	_, err := runRoot(t, &fakeApp{}, "identify", "--author", "Frank Herbert")
	require.ErrorContains(t, err, "--title, --id or --isbn")
}

func TestCoverCmd_WritesFile(t *testing.T) {
	fake := &fakeApp{cover: &cover.Result{
		Identifier:  "dune-1",
		URL:         "https://www.databazeknih.cz/img/books/dune.jpg",
		ContentType: "image/jpeg",
		Data:        []byte("jpeg-bytes"),
	}}
	dest := filepath.Join(t.TempDir(), "cover.jpg")

	out, err := runRoot(t, fake, "cover", "--id", "dune-1", "--out", dest)
	require.NoError(t, err)
	require.Contains(t, out, fake.cover.URL)
	require.Equal(t, "dune-1", fake.gotReq.Identifier)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "jpeg-bytes", string(data))
}

func TestCoverCmd_NoCover(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "cover.jpg")
	_, err := runRoot(t, &fakeApp{}, "cover", "--id", "dune-1", "--out", dest)
	require.ErrorIs(t, err, errNoCover)
	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr))
}

func TestCoverCmd_RequiresOut(t *testing.T) {
	_, err := runRoot(t, &fakeApp{}, "cover", "--id", "dune-1")
	require.ErrorContains(t, err, "--out")
}

func TestServe_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := serve(ctx, config.ServerConfig{Port: 0}, http.NotFoundHandler(), zap.NewNop())
	require.NoError(t, err)
}
