// Package cover finds and downloads a cover image for a lookup request.
package cover

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bookmeta/internal/book"
	"github.com/JakeFAU/bookmeta/internal/isbn"
	"github.com/JakeFAU/bookmeta/internal/metrics"
	"github.com/JakeFAU/bookmeta/internal/results"
)

// ErrInvalidRequest reports a malformed cover request.
var ErrInvalidRequest = errors.New("invalid cover request")

const (
	defaultTimeout = 30 * time.Second
	defaultPrefix  = "covers"
	defaultExt     = ".jpg"
)

// Identifier runs a full lookup into sink.
type Identifier interface {
	Identify(ctx context.Context, req book.LookupRequest, sink book.Sink) error
}

// Config controls cover downloads.
type Config struct {
	Timeout time.Duration
	// Prefix is the object path prefix used when a BlobStore is configured.
	Prefix string
}

// Result is a downloaded cover.
type Result struct {
	Identifier  string       `json:"identifier,omitempty"`
	URL         string       `json:"url"`
	ContentType string       `json:"content_type"`
	Data        []byte       `json:"-"`
	StoredURI   string       `json:"stored_uri,omitempty"`
	Record      *book.Record `json:"record,omitempty"`
}

// Resolver locates cover URLs through the cache, running a lookup on a miss.
type Resolver struct {
	cfg      Config
	identify Identifier
	cache    book.CoverURLCache
	isbns    book.ISBNCache
	session  book.Session
	store    book.BlobStore
	hasher   book.Hasher
	logger   *zap.Logger
}

// New constructs a Resolver. cache and isbns may be nil. Pass a nil store to
// skip persisting covers.
func New(
	cfg Config,
	identify Identifier,
	cache book.CoverURLCache,
	isbns book.ISBNCache,
	session book.Session,
	store book.BlobStore,
	hasher book.Hasher,
	logger *zap.Logger,
) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		cfg:      cfg,
		identify: identify,
		cache:    cache,
		isbns:    isbns,
		session:  session,
		store:    store,
		hasher:   hasher,
		logger:   logger.Named("cover"),
	}
}

// Download returns the cover for req, or nil when none is found, the request
// is canceled or the image cannot be fetched. Only a malformed request is an error.
func (r *Resolver) Download(ctx context.Context, req book.LookupRequest) (*Result, error) {
	if req.Timeout < 0 {
		return nil, fmt.Errorf("download cover: %w: negative timeout", ErrInvalidRequest)
	}

	identifier := r.requestIdentifier(ctx, req)
	coverURL := r.cachedURL(ctx, identifier)
	var record *book.Record

	if coverURL == "" {
		r.logger.Info("no cached cover found, running identify", zap.String("identifier", identifier))
		queue := results.NewQueue()
		if err := r.identify.Identify(ctx, req, queue); err != nil {
			return nil, fmt.Errorf("download cover: %w", err)
		}
		if ctx.Err() != nil {
			metrics.ObserveCoverDownload("canceled")
			return nil, nil
		}
		records := queue.Drain()
		SortByRelevance(records, req)
		for i := range records {
			if u := r.recordURL(ctx, records[i]); u != "" {
				coverURL = u
				identifier = records[i].Identifier
				record = &records[i]
				break
			}
		}
	}

	if coverURL == "" {
		r.logger.Info("no cover found")
		metrics.ObserveCoverDownload("missing")
		return nil, nil
	}
	if ctx.Err() != nil {
		metrics.ObserveCoverDownload("canceled")
		return nil, nil
	}

	log := r.logger.With(zap.String("url", coverURL), zap.String("identifier", identifier))
	log.Info("downloading cover")
	timeout := req.Timeout
	if timeout == 0 {
		timeout = r.cfg.Timeout
	}
	data, err := r.session.Clone().Fetch(ctx, coverURL, timeout)
	if err != nil {
		log.Error("failed to download cover", zap.Error(err))
		metrics.ObserveCoverDownload("failed")
		return nil, nil
	}

	res := &Result{
		Identifier:  identifier,
		URL:         coverURL,
		ContentType: http.DetectContentType(data),
		Data:        data,
		Record:      record,
	}
	r.persist(ctx, res, log)
	metrics.ObserveCoverDownload("downloaded")
	return res, nil
}

// requestIdentifier returns the direct identifier, or the one cached for the request's ISBN.
func (r *Resolver) requestIdentifier(ctx context.Context, req book.LookupRequest) string {
	if id := strings.TrimSpace(req.Identifier); id != "" {
		return id
	}
	normalized := isbn.Normalize(req.ISBN)
	if normalized == "" || r.isbns == nil {
		return ""
	}
	id, ok, err := r.isbns.IdentifierByISBN(ctx, normalized)
	if err != nil {
		r.logger.Warn("isbn cache lookup failed", zap.String("isbn", normalized), zap.Error(err))
		return ""
	}
	if !ok {
		return ""
	}
	return id
}

func (r *Resolver) cachedURL(ctx context.Context, identifier string) string {
	if identifier == "" || r.cache == nil {
		return ""
	}
	u, ok, err := r.cache.CoverURL(ctx, identifier)
	if err != nil {
		r.logger.Warn("cover cache lookup failed", zap.String("identifier", identifier), zap.Error(err))
		return ""
	}
	if !ok {
		return ""
	}
	return u
}

// recordURL prefers the cached URL and falls back to the URL parsed into the record.
func (r *Resolver) recordURL(ctx context.Context, rec book.Record) string {
	if u := r.cachedURL(ctx, rec.Identifier); u != "" {
		return u
	}
	return rec.CoverURL
}

func (r *Resolver) persist(ctx context.Context, res *Result, log *zap.Logger) {
	if r.store == nil || r.hasher == nil || res.Identifier == "" {
		return
	}
	digest, err := r.hasher.Hash(res.Data)
	if err != nil {
		log.Warn("hash cover failed", zap.Error(err))
		return
	}
	objectPath := ObjectPath(r.cfg.Prefix, res.Identifier, digest, res.URL)
	uri, err := r.store.PutObject(ctx, objectPath, res.ContentType, bytes.NewReader(res.Data))
	if err != nil {
		log.Warn("store cover failed", zap.String("path", objectPath), zap.Error(err))
		return
	}
	res.StoredURI = uri
	log.Debug("stored cover", zap.String("uri", uri))
}

// ObjectPath names a stored cover: <prefix>/<identifier>/<digest><ext>, with
// the extension taken from the source URL.
func ObjectPath(prefix, identifier, digest, sourceURL string) string {
	ext := strings.ToLower(path.Ext(strings.SplitN(sourceURL, "?", 2)[0]))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
	default:
		ext = defaultExt
	}
	return path.Join(strings.Trim(prefix, "/"), identifier, digest+ext)
}

// SortByRelevance orders records best first: a direct identifier match, then
// an exact title match, then candidate rank, then records with a cover.
func SortByRelevance(records []book.Record, req book.LookupRequest) {
	key := func(rec book.Record) [4]int {
		var k [4]int
		if req.Identifier == "" || rec.Identifier != req.Identifier {
			k[0] = 1
		}
		if req.Title == "" || !strings.EqualFold(strings.TrimSpace(rec.Title), strings.TrimSpace(req.Title)) {
			k[1] = 1
		}
		k[2] = rec.Relevance
		if !rec.HasCover {
			k[3] = 1
		}
		return k
	}
	sort.SliceStable(records, func(i, j int) bool {
		a, b := key(records[i]), key(records[j])
		for n := range a {
			if a[n] != b[n] {
				return a[n] < b[n]
			}
		}
		return false
	})
}
