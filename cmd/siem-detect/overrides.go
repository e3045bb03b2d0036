package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"siem-detect/internal/manager"
	s3store "siem-detect/internal/storage/s3"
)

func newOverridesCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "overrides",
		Short: "Manage override documents stored in S3",
	}
	cmd.AddCommand(newOverridesPushCmd(opts), newOverridesListCmd(opts), newOverridesShowCmd(opts))
	return cmd
}

// overridesClient loads configuration and connects to the override bucket.
func overridesClient(ctx context.Context, opts *options) (*s3store.Client, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	client, err := s3store.NewClient(ctx, &cfg.Overrides.S3, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return client, nil
}

func newOverridesPushCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "push <file>...",
		Short: "Validate override documents and upload them under the configured prefix",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Parse every document before connecting or uploading any.
			docs, err := readDocuments(args)
			if err != nil {
				return err
			}
			client, err := overridesClient(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return pushDocuments(cmd.Context(), client, cmd.OutOrStdout(), args, docs)
		},
	}
}

func readDocuments(paths []string) (map[string][]byte, error) {
	docs := make(map[string][]byte, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if _, err := manager.ParseDocument(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		docs[path] = data
	}
	return docs, nil
}

func pushDocuments(ctx context.Context, client *s3store.Client, w io.Writer, paths []string, docs map[string][]byte) error {
	for _, path := range paths {
		out, err := client.Upload(ctx, &s3store.UploadInput{
			Key:         filepath.Base(path),
			Body:        docs[path],
			ContentType: "application/yaml",
			Metadata:    map[string]string{"source": filepath.Base(path)},
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %s  %s\n", passStyle.Render("PUT "), out.Location)
	}
	m := client.GetMetrics()
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("%d document(s), %d bytes uploaded", m.ObjectsUploaded, m.BytesUploaded)))
	return nil
}

func newOverridesListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List override documents stored in S3",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := overridesClient(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return listDocuments(cmd.Context(), client, cmd.OutOrStdout())
		},
	}
}

func listDocuments(ctx context.Context, client *s3store.Client, w io.Writer) error {
	if status := client.HealthCheck(ctx); !status.Healthy {
		return fmt.Errorf("bucket %s unreachable: %s", client.Bucket(), status.Error)
	}

	objects, err := client.List(ctx, "")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-50s  %8s  %s", "KEY", "SIZE", "MODIFIED")))
	for _, o := range objects {
		fmt.Fprintf(w, "%-50s  %8d  %s\n", o.Key, o.Size, o.LastModified.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func newOverridesShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <key>",
		Short: "Print an override document stored in S3 and check that it parses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := overridesClient(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return showDocument(cmd.Context(), client, cmd.OutOrStdout(), args[0])
		},
	}
}

// showDocument prints the document stored under key. A document that does
// not parse is still printed, then reported as an error.
func showDocument(ctx context.Context, client *s3store.Client, w io.Writer, key string) error {
	data, err := client.Download(ctx, key)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	doc, err := manager.ParseDocument(data)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("# %d override entr(ies), %d bytes", len(doc.Overrides), len(data))))
	return nil
}
