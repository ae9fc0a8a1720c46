package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seventeenk/storefront/internal/core/service"
)

func newItemCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Manage marketplace items",
	}
	cmd.AddCommand(newItemCreateCommand(opts), newItemListCommand(opts))
	return cmd
}

func newItemCreateCommand(opts *rootOptions) *cobra.Command {
	var in service.NewItem

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Publish a new marketplace item",
		Long: `Publishes an item to the catalog. The drive link is only ever sent by
email after a free download or a confirmed payment.

Example:
  storefront item create --title "Oak Planks" --type Textures --free \
    --tags wood,pbr --drive-link https://drive.example/oak`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			item, err := service.NewCatalogService(s.store, s.logger).CreateItem(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), item.ID)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&in.Title, "title", "", "Item title (required)")
	f.StringVar(&in.Type, "type", "", "Catalog category, e.g. Textures")
	f.StringVar(&in.Description, "description", "", "Item description")
	f.StringSliceVar(&in.Tags, "tags", nil, "Comma separated tags")
	f.StringSliceVar(&in.License, "license", nil, "Comma separated license names")
	f.StringSliceVar(&in.Images, "images", nil, "Comma separated image URLs")
	f.BoolVar(&in.IsFree, "free", false, "Offer the item as a free download")
	f.Int64Var(&in.Price, "price", 0, "Price in minor currency units")
	f.StringVar(&in.DriveLink, "drive-link", "", "Download link delivered by email (required)")
	cmd.MarkFlagRequired("title")
	cmd.MarkFlagRequired("drive-link")
	return cmd
}

func newItemListCommand(opts *rootOptions) *cobra.Command {
	var itemType string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List marketplace items, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			items, err := service.NewCatalogService(s.store, s.logger).ListItems(cmd.Context(), itemType)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tTYPE\tFREE\tPRICE\tDOWNLOADS")
			for _, it := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%d\n", it.ID, it.Title, it.Type, it.IsFree, it.Price, it.Downloads)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&itemType, "type", "", "Only list items of this type")
	return cmd
}
