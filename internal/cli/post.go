package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seventeenk/storefront/internal/core/service"
)

func newPostCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Manage blog posts",
	}
	cmd.AddCommand(newPostCreateCommand(opts), newPostListCommand(opts))
	return cmd
}

func newPostCreateCommand(opts *rootOptions) *cobra.Command {
	var (
		in          service.NewPost
		contentFile string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Publish a blog post",
		Long: `Publishes a blog post. The HTML body comes from --content or from
--content-file, where "-" reads standard input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if contentFile != "" {
				if in.Content != "" {
					return errors.New("use either --content or --content-file")
				}
				body, err := readContent(cmd, contentFile)
				if err != nil {
					return err
				}
				in.Content = body
			}

			s, err := opts.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			post, err := service.NewCatalogService(s.store, s.logger).CreatePost(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), post.ID)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&in.Title, "title", "", "Post title (required)")
	f.StringVar(&in.Author, "author", "", "Author name (required)")
	f.StringVar(&in.Content, "content", "", "HTML body")
	f.StringVar(&contentFile, "content-file", "", `File holding the HTML body, "-" for stdin`)
	f.StringVar(&in.CoverImage, "cover-image", "", "Cover image URL")
	cmd.MarkFlagRequired("title")
	cmd.MarkFlagRequired("author")
	return cmd
}

func readContent(cmd *cobra.Command, path string) (string, error) {
	body, err := readInput(cmd, path)
	if err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}
	return string(body), nil
}

func newPostListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List blog posts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			posts, err := service.NewCatalogService(s.store, s.logger).ListPosts(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tAUTHOR\tCREATED")
			for _, p := range posts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Title, p.Author, p.CreatedAt.Format("2006-01-02"))
			}
			return w.Flush()
		},
	}
}
