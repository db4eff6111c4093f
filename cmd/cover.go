package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// errNoCover is returned when a lookup finishes without a downloadable cover.
var errNoCover = errors.New("no cover found")

func newCoverCmd() *cobra.Command {
	flags := &lookupFlags{}
	var out string
	cmd := &cobra.Command{
		Use:   "cover",
		Short: "Download a book cover",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := flags.request()
			if err != nil {
				return err
			}
			if out == "" {
				return fmt.Errorf("--out is required")
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := a.Download(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("download cover: %w", err)
			}
			if res == nil {
				return errNoCover
			}
			if err := os.WriteFile(out, res.Data, 0o600); err != nil {
				return fmt.Errorf("write cover: %w", err)
			}
			a.Logger().Info("cover saved",
				zap.String("path", out),
				zap.String("source", res.URL),
				zap.String("stored_uri", res.StoredURI),
			)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), res.URL)
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "file to write the cover image to")
	return cmd
}
