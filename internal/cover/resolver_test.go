package cover

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bookmeta/internal/book"
	"github.com/JakeFAU/bookmeta/internal/cache/memory"
	"github.com/JakeFAU/bookmeta/internal/hash/sha256"
	memstore "github.com/JakeFAU/bookmeta/internal/storage/memory"
)

var jpeg = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F'}

type fakeIdentifier struct {
	mu      sync.Mutex
	calls   int
	records []book.Record
	cancel  context.CancelFunc
}

func (f *fakeIdentifier) Identify(_ context.Context, _ book.LookupRequest, sink book.Sink) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	for _, r := range f.records {
		sink.Put(r)
	}
	if f.cancel != nil {
		f.cancel()
	}
	return nil
}

type fakeSession struct {
	mu      sync.Mutex
	bodies  map[string][]byte
	fetched []string
}

func (s *fakeSession) Fetch(_ context.Context, rawURL string, _ time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, rawURL)
	body, ok := s.bodies[rawURL]
	if !ok {
		return nil, book.ErrNotFound
	}
	return body, nil
}

func (s *fakeSession) Clone() book.Session { return s }

func TestDownload_CacheHitSkipsLookup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache := memory.New()
	require.NoError(t, cache.SetCoverURL(ctx, "duna-1234", "https://img/duna.jpg"))
	ident := &fakeIdentifier{}
	session := &fakeSession{bodies: map[string][]byte{"https://img/duna.jpg": jpeg}}
	store := memstore.NewBlobStore()

	r := New(Config{}, ident, cache, cache, session, store, sha256.New(), zap.NewNop())
	res, err := r.Download(ctx, book.LookupRequest{Identifier: "duna-1234"})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Zero(t, ident.calls)
	require.Equal(t, jpeg, res.Data)
	require.Equal(t, "image/jpeg", res.ContentType)
	require.Nil(t, res.Record)

	digest, err := sha256.New().Hash(jpeg)
	require.NoError(t, err)
	require.Equal(t, "memory://covers/duna-1234/"+digest+".jpg", res.StoredURI)
	_, ok := store.Get("covers/duna-1234/" + digest + ".jpg")
	require.True(t, ok)
}

func TestDownload_ISBNMapsToCachedIdentifier(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache := memory.New()
	require.NoError(t, cache.SetIdentifierByISBN(ctx, "9788025707418", "duna-1234"))
	require.NoError(t, cache.SetCoverURL(ctx, "duna-1234", "https://img/duna.jpg"))
	ident := &fakeIdentifier{}
	session := &fakeSession{bodies: map[string][]byte{"https://img/duna.jpg": jpeg}}

	r := New(Config{}, ident, cache, cache, session, nil, nil, zap.NewNop())
	res, err := r.Download(ctx, book.LookupRequest{ISBN: "978-80-257-0741-8"})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, "duna-1234", res.Identifier)
	require.Zero(t, ident.calls)
	require.Empty(t, res.StoredURI)
}

func TestDownload_MissRunsLookupAndPicksMostRelevant(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache := memory.New()
	require.NoError(t, cache.SetCoverURL(ctx, "duna-mesias-2", "https://img/mesias.jpg"))
	require.NoError(t, cache.SetCoverURL(ctx, "duna-1", "https://img/duna.png"))
	ident := &fakeIdentifier{records: []book.Record{
		{Identifier: "duna-mesias-2", Title: "Duna Mesiáš", Relevance: 0, HasCover: true},
		{Identifier: "duna-1", Title: "Duna", Relevance: 1, HasCover: true},
	}}
	session := &fakeSession{bodies: map[string][]byte{
		"https://img/duna.png":   []byte("\x89PNG\r\n\x1a\n0000"),
		"https://img/mesias.jpg": jpeg,
	}}

	r := New(Config{}, ident, cache, cache, session, nil, nil, zap.NewNop())
	res, err := r.Download(ctx, book.LookupRequest{Title: "duna"})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, 1, ident.calls)
	require.Equal(t, "duna-1", res.Identifier)
	require.Equal(t, "image/png", res.ContentType)
	require.NotNil(t, res.Record)
	require.Equal(t, "Duna", res.Record.Title)
}

func TestDownload_NoCoverIsNotAnError(t *testing.T) {
	t.Parallel()

	ident := &fakeIdentifier{records: []book.Record{{Identifier: "duna-1", Title: "Duna"}}}
	r := New(Config{}, ident, memory.New(), nil, &fakeSession{}, nil, nil, zap.NewNop())

	res, err := r.Download(context.Background(), book.LookupRequest{Title: "Duna"})
	require.NoError(t, err)
	require.Nil(t, res)
}

func TestDownload_FetchFailureReturnsNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache := memory.New()
	require.NoError(t, cache.SetCoverURL(ctx, "duna-1234", "https://img/gone.jpg"))
	session := &fakeSession{bodies: map[string][]byte{}}

	r := New(Config{}, &fakeIdentifier{}, cache, cache, session, nil, nil, zap.NewNop())
	res, err := r.Download(ctx, book.LookupRequest{Identifier: "duna-1234"})
	require.NoError(t, err)
	require.Nil(t, res)
}

func TestDownload_CanceledDuringLookupSkipsFetch(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ident := &fakeIdentifier{
		records: []book.Record{{Identifier: "duna-1", Title: "Duna", CoverURL: "https://img/duna.jpg", HasCover: true}},
		cancel:  cancel,
	}
	session := &fakeSession{bodies: map[string][]byte{"https://img/duna.jpg": jpeg}}

	r := New(Config{}, ident, nil, nil, session, nil, nil, zap.NewNop())
	res, err := r.Download(ctx, book.LookupRequest{Title: "Duna"})
	require.NoError(t, err)
	require.Nil(t, res)
	require.Empty(t, session.fetched)
}

type failingIdentifier struct{}

func (failingIdentifier) Identify(context.Context, book.LookupRequest, book.Sink) error {
	return errors.New("bad request")
}

func TestDownload_Misuse(t *testing.T) {
	t.Parallel()

	r := New(Config{}, failingIdentifier{}, nil, nil, &fakeSession{}, nil, nil, zap.NewNop())
	_, err := r.Download(context.Background(), book.LookupRequest{Timeout: -1})
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = r.Download(context.Background(), book.LookupRequest{Title: "Duna"})
	require.Error(t, err)
}

func TestSortByRelevance(t *testing.T) {
	t.Parallel()

	records := []book.Record{
		{Identifier: "c", Title: "Other", Relevance: 0},
		{Identifier: "b", Title: "Duna", Relevance: 2, HasCover: true},
		{Identifier: "d", Title: "Duna", Relevance: 1},
		{Identifier: "a", Title: "Something", Relevance: 3},
	}
	SortByRelevance(records, book.LookupRequest{Identifier: "a", Title: "Duna"})

	got := make([]string, len(records))
	for i, r := range records {
		got[i] = r.Identifier
	}
	require.Equal(t, []string{"a", "d", "b", "c"}, got)
}

func TestObjectPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "covers/duna/abc.png", ObjectPath("/covers/", "duna", "abc", "https://img/x.PNG?w=100"))
	require.Equal(t, "covers/duna/abc.jpg", ObjectPath("covers", "duna", "abc", "https://img/cover"))
}
