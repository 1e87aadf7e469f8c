package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/petermazzocco/go-image-tiers/internal/app"
	"github.com/petermazzocco/go-image-tiers/internal/config"
	"github.com/petermazzocco/go-image-tiers/internal/tiers"
	"github.com/petermazzocco/go-image-tiers/internal/users"
	"github.com/petermazzocco/go-image-tiers/models"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// env is what the subcommands operate on.
type env struct {
	cfg   *config.Config
	db    *gorm.DB
	tiers *tiers.Store
	users *users.Service
}

type opener func(ctx context.Context) (*env, error)

func newRootCmd(open opener) *cobra.Command {
	var e *env
	root := &cobra.Command{
		Use:   "tierctl",
		Short: "Administer account tiers and thumbnail sizes",
		Long: `tierctl manages the tier policy of the image service.

Example usage:
  tierctl seed                              # Apply TIERS_FILE or the built-in tiers
  tierctl tiers list                        # Show tiers and their sizes
  tierctl tiers set-sizes Premium 100 200   # Replace a tier's sizes
  tierctl users set-tier a@b.com Premium    # Move a user to another tier
  tierctl thumbnails list 42                # Show an image's thumbnails`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			e, err = open(cmd.Context())
			return err
		},
	}
	get := func() *env { return e }

	root.AddCommand(newSeedCmd(get), newTiersCmd(get), newUsersCmd(get), newThumbnailsCmd(get))
	return root
}

func newSeedCmd(get func() *env) *cobra.Command {
	var (
		file        string
		missingOnly bool
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create or update tiers from a YAML seed",
		Long: `Create or update tiers from a YAML seed. Existing tiers are overwritten
with the seed's sizes and flags unless --missing-only is given, which is
what the API server does at startup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e := get()
			var (
				specs []tiers.Spec
				err   error
			)
			if file != "" {
				specs, err = tiers.LoadSeed(file)
			} else {
				specs, err = app.TierSpecs(e.cfg)
			}
			if err != nil {
				return err
			}
			if missingOnly {
				created, err := e.tiers.SeedMissing(cmd.Context(), specs)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %d of %d tiers\n", created, len(specs))
				return nil
			}
			if err := e.tiers.Seed(cmd.Context(), specs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d tiers\n", len(specs))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "seed file (default: TIERS_FILE or built-in tiers)")
	cmd.Flags().BoolVar(&missingOnly, "missing-only", false, "only create tiers that do not exist yet")
	return cmd
}

func newTiersCmd(get func() *env) *cobra.Command {
	cmd := &cobra.Command{Use: "tiers", Short: "Inspect and edit tiers"}

	cmd.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tiers",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := get().tiers.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIER\tSIZES\tORIGINAL\tLINKS")
			for i := range all {
				printTier(tw, &all[i])
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set-sizes <tier> [heights...]",
		Short: "Replace the thumbnail sizes of a tier",
		Long: `Replace the thumbnail sizes of a tier. Existing thumbnails are kept in
storage; images simply stop showing sizes the tier no longer permits.
Passing no heights removes every size.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			heights, err := parseHeights(args[1:])
			if err != nil {
				return err
			}
			tier, err := get().tiers.SetSizes(cmd.Context(), args[0], heights)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			printTier(tw, tier)
			return tw.Flush()
		},
	})
	return cmd
}

func newUsersCmd(get func() *env) *cobra.Command {
	cmd := &cobra.Command{Use: "users", Short: "Manage users"}

	var name, tierName string
	create := &cobra.Command{
		Use:   "create <email>",
		Short: "Create a user on the default or a given tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				name = strings.SplitN(args[0], "@", 2)[0]
			}
			u, err := get().users.Create(cmd.Context(), name, args[0], tierName)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %d (%s) on tier %s\n", u.ID, u.Email, u.Tier.Name)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name (default: local part of the email)")
	create.Flags().StringVar(&tierName, "tier", "", "tier name (default: DEFAULT_TIER)")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "set-tier <email> <tier>",
		Short: "Move a user to another tier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := get()
			u, err := e.users.GetByEmail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			u, err = e.users.SetTier(cmd.Context(), u.ID, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now on tier %s\n", u.Email, u.Tier.Name)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <email>",
		Short: "Delete a user with all their images and links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := get()
			u, err := e.users.GetByEmail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := e.users.Delete(cmd.Context(), u.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", u.Email)
			return nil
		},
	})
	return cmd
}

func newThumbnailsCmd(get func() *env) *cobra.Command {
	cmd := &cobra.Command{Use: "thumbnails", Short: "Inspect generated thumbnails"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <image-id>",
		Short: "List every stored thumbnail of an image, visible or not",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid image id %q", args[0])
			}
			var thumbs []models.Thumbnail
			err = get().db.WithContext(cmd.Context()).
				Preload("Size").
				Where("image_id = ?", id).
				Order("id").
				Find(&thumbs).Error
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "HEIGHT\tKEY\tCREATED")
			for _, th := range thumbs {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", th.Size.Height, th.StorageKey, th.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	})
	return cmd
}

func printTier(tw *tabwriter.Writer, t *models.AccountTier) {
	heights := make([]string, 0, len(t.ThumbnailSizes))
	for _, s := range t.ThumbnailSizes {
		heights = append(heights, strconv.FormatUint(uint64(s.Height), 10))
	}
	sizes := strings.Join(heights, ",")
	if sizes == "" {
		sizes = "-"
	}
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name, sizes, yesNo(t.ServeOriginal), yesNo(t.AllowLinkGeneration))
}

func parseHeights(args []string) ([]uint, error) {
	out := make([]uint, 0, len(args))
	for _, a := range args {
		h, err := strconv.ParseUint(a, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid height %q", a)
		}
		out = append(out, uint(h))
	}
	return out, nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
