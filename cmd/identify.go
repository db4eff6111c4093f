package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/bookmeta/internal/book"
	"github.com/JakeFAU/bookmeta/internal/cover"
	"github.com/JakeFAU/bookmeta/internal/results"
)

type lookupFlags struct {
	title      string
	authors    []string
	identifier string
	isbn       string
	timeout    time.Duration
}

func (f *lookupFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "book title")
	cmd.Flags().StringArrayVar(&f.authors, "author", nil, "author name (repeatable)")
	cmd.Flags().StringVar(&f.identifier, "id", "", "databazeknih identifier, e.g. duna-1234")
	cmd.Flags().StringVar(&f.isbn, "isbn", "", "ISBN-10 or ISBN-13")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "per-fetch timeout (0 uses http.timeout)")
}

func (f *lookupFlags) request() (book.LookupRequest, error) {
	req := book.LookupRequest{
		Identifier: strings.TrimSpace(f.identifier),
		ISBN:       strings.TrimSpace(f.isbn),
		Title:      strings.TrimSpace(f.title),
		Timeout:    f.timeout,
	}
	for _, a := range f.authors {
		if a = strings.TrimSpace(a); a != "" {
			req.Authors = append(req.Authors, a)
		}
	}
	if req.Empty() {
		return book.LookupRequest{}, fmt.Errorf("one of --title, --id or --isbn is required")
	}
	if req.Timeout < 0 {
		return book.LookupRequest{}, fmt.Errorf("--timeout must not be negative")
	}
	return req, nil
}

func newIdentifyCmd() *cobra.Command {
	flags := &lookupFlags{}
	cmd := &cobra.Command{
		Use:   "identify",
		Short: "Look up book metadata and print matching records as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := flags.request()
			if err != nil {
				return err
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			queue := results.NewQueue()
			if err := a.Identify(cmd.Context(), req, queue); err != nil {
				return fmt.Errorf("identify: %w", err)
			}
			records := queue.Drain()
			cover.SortByRelevance(records, req)
			if records == nil {
				records = []book.Record{}
			}
			a.Logger().Info("identify finished", zap.Int("records", len(records)))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		},
	}
	flags.register(cmd)
	return cmd
}
