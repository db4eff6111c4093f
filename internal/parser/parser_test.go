package parser

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/bookmeta/internal/book"
)

const detailURL = "https://www.databazeknih.cz/knihy/duna-1234"

func TestParser_FullDetailPage(t *testing.T) {
	t.Parallel()

	cache := newFakeCache()
	p := New(DefaultOptions(), cache, cache, zap.NewNop())

	rec, err := p.Parse(context.Background(), Documents{
		URL:           detailURL,
		Primary:       loadDoc(t, "detail.html"),
		Supplementary: loadDoc(t, "more_info.html"),
	})
	require.NoError(t, err)

	require.Equal(t, "duna-1234", rec.Identifier)
	require.Equal(t, "Duna", rec.Title)
	require.Equal(t, []string{"Frank Herbert"}, rec.Authors)
	require.Equal(t, "Duna", rec.Series)
	require.NotNil(t, rec.SeriesIndex)
	require.Zero(t, rec.SeriesIndex.Cmp(big.NewRat(1, 1)))
	require.Equal(t,
		"<p>Planeta Arrakis je jediným zdrojem koření.<br>Paul Atreides &amp; jeho rodina přicházejí.</p>",
		rec.Comments,
	)
	require.Equal(t, "Baronet", rec.Publisher)
	require.NotNil(t, rec.PubDate)
	require.Equal(t, time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC), *rec.PubDate)
	require.Equal(t, []string{"Sci-fi", "Literatura americká"}, rec.Tags)
	require.Equal(t, 5, rec.Rating)
	require.Equal(t, "9788025707418", rec.ISBN)
	require.Equal(t, []string{"ces"}, rec.Languages)
	require.Equal(t, "https://www.databazeknih.cz/img/books/12_/1234/duna.jpg", rec.CoverURL)
	require.True(t, rec.HasCover)
	require.Equal(t, map[string]string{"databazeknih": "duna-1234", "isbn": "9788025707418"}, rec.Identifiers)

	url, ok, err := cache.CoverURL(context.Background(), "duna-1234")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.CoverURL, url)
	id, ok, err := cache.IdentifierByISBN(context.Background(), "9788025707418")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "duna-1234", id)
}

func TestParser_MissingAuthorsDropsRecord(t *testing.T) {
	t.Parallel()

	p := New(DefaultOptions(), nil, nil, zap.NewNop())
	_, err := p.Parse(context.Background(), Documents{URL: detailURL, Primary: loadDoc(t, "minimal.html")})
	require.ErrorIs(t, err, book.ErrIncompleteRecord)
}

func TestParser_MissingIdentifierDropsRecord(t *testing.T) {
	t.Parallel()

	p := New(DefaultOptions(), nil, nil, zap.NewNop())
	_, err := p.Parse(context.Background(), Documents{
		URL:     "https://www.databazeknih.cz/autori/frank-herbert",
		Primary: loadDoc(t, "detail.html"),
	})
	require.ErrorIs(t, err, book.ErrIncompleteRecord)
}

func TestParser_WithoutSupplementarySkipsISBNAndLanguage(t *testing.T) {
	t.Parallel()

	cache := newFakeCache()
	p := New(DefaultOptions(), cache, cache, zap.NewNop())
	rec, err := p.Parse(context.Background(), Documents{URL: detailURL, Primary: loadDoc(t, "detail.html")})
	require.NoError(t, err)
	require.Empty(t, rec.ISBN)
	require.Empty(t, rec.Languages)
	require.Zero(t, cache.isbnWrites())
}

func TestParser_NonSeriesLinkAndFallbacks(t *testing.T) {
	t.Parallel()

	p := New(DefaultOptions(), nil, nil, zap.NewNop())
	rec, err := p.Parse(context.Background(), Documents{
		URL:     "https://www.databazeknih.cz/knihy/povidky-77",
		Primary: loadDoc(t, "not_series.html"),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Karel Čapek", "Josef Čapek"}, rec.Authors)
	require.Empty(t, rec.Series)
	require.Nil(t, rec.SeriesIndex)
	require.Equal(t, "<p>První řádek.</p>", rec.Comments)
	require.Zero(t, rec.Rating)
	require.Nil(t, rec.PubDate)
	require.False(t, rec.HasCover)
}

func TestParser_SeriesIndexFailureKeepsSeriesName(t *testing.T) {
	t.Parallel()

	p := New(DefaultOptions(), nil, nil, zap.NewNop())
	rec, err := p.Parse(context.Background(), Documents{
		URL:     "https://www.databazeknih.cz/knihy/zaklinac-5",
		Primary: loadDoc(t, "bad_index.html"),
	})
	require.NoError(t, err)
	require.Equal(t, "Zaklínač", rec.Series)
	require.Nil(t, rec.SeriesIndex)
	require.Equal(t, 1, rec.Rating)
	require.Equal(t, "https://www.databazeknih.cz/img/books/zaklinac.jpg", rec.CoverURL)
}

func TestParser_DisabledStepsAreSkipped(t *testing.T) {
	t.Parallel()

	opts := Options{}
	p := New(opts, nil, nil, zap.NewNop())
	rec, err := p.Parse(context.Background(), Documents{URL: detailURL, Primary: loadDoc(t, "detail.html")})
	require.NoError(t, err)
	require.Empty(t, rec.Series)
	require.Empty(t, rec.Comments)
	require.Zero(t, rec.Rating)
	require.NotContains(t, rec.Identifiers, book.IdentifierName)
	require.Equal(t, "Baronet", rec.Publisher)
}

func TestParser_FailingRuleDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	p := New(DefaultOptions(), nil, nil, zap.NewNop())
	p.rules = append([]Rule{
		{
			Field:   "exploding",
			Source:  SourcePrimary,
			Locator: "//h1",
			Assign:  func(*assembly, Match) error { panic("boom") },
		},
		{
			Field:   "bad-xpath",
			Source:  SourcePrimary,
			Locator: "//h1[",
			Assign:  func(*assembly, Match) error { return nil },
		},
		{
			Field:   "erroring",
			Source:  SourcePrimary,
			Locator: "//h1",
			Assign:  func(*assembly, Match) error { return errors.New("nope") },
		},
	}, p.rules...)

	rec, err := p.Parse(context.Background(), Documents{URL: detailURL, Primary: loadDoc(t, "detail.html")})
	require.NoError(t, err)
	require.Equal(t, "Duna", rec.Title)
	require.Equal(t, "Baronet", rec.Publisher)
}

func TestParser_CacheFailuresAreIgnored(t *testing.T) {
	t.Parallel()

	cache := newFakeCache()
	cache.err = errors.New("cache down")
	p := New(DefaultOptions(), cache, cache, zap.NewNop())
	rec, err := p.Parse(context.Background(), Documents{
		URL:           detailURL,
		Primary:       loadDoc(t, "detail.html"),
		Supplementary: loadDoc(t, "more_info.html"),
	})
	require.NoError(t, err)
	require.True(t, rec.HasCover)
	require.Equal(t, "9788025707418", rec.ISBN)
}

func TestParseDocument_Empty(t *testing.T) {
	t.Parallel()

	_, err := ParseDocument([]byte("   "))
	require.ErrorIs(t, err, book.ErrMalformed)
}

func loadDoc(t *testing.T, name string) *html.Node {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	doc, err := ParseDocument(data)
	require.NoError(t, err)
	return doc
}

type fakeCache struct {
	mu     sync.Mutex
	covers map[string]string
	isbns  map[string]string
	err    error
}

func newFakeCache() *fakeCache {
	return &fakeCache{covers: map[string]string{}, isbns: map[string]string{}}
}

func (c *fakeCache) CoverURL(_ context.Context, id string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.covers[id]
	return v, ok, nil
}

func (c *fakeCache) SetCoverURL(_ context.Context, id, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.covers[id] = url
	return nil
}

func (c *fakeCache) IdentifierByISBN(_ context.Context, isbn string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.isbns[isbn]
	return v, ok, nil
}

func (c *fakeCache) SetIdentifierByISBN(_ context.Context, isbn, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.isbns[isbn] = id
	return nil
}

func (c *fakeCache) isbnWrites() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.isbns)
}
