package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/cratesync/internal/config"
	"github.com/blackwell-systems/cratesync/internal/output"
	"github.com/blackwell-systems/cratesync/internal/store"
)

var (
	followCmd = &cobra.Command{
		Use:   "follow CRATE",
		Short: "Add a crate to a user's favorites",
		Long: `Follow adds a crate to a user's favorites. Favorites survive imports as long as
the crate stays in the catalog; they are removed with the crate otherwise.`,
		Example: `  cratesync follow serde --user alice
  CRATESYNC_USER=alice cratesync follow tokio`,
		Args: cobra.ExactArgs(1),
		RunE: runFollow,
	}

	unfollowCmd = &cobra.Command{
		Use:   "unfollow CRATE",
		Short: "Remove a crate from a user's favorites",
		Args:  cobra.ExactArgs(1),
		RunE:  runUnfollow,
	}

	followedCmd = &cobra.Command{
		Use:   "followed",
		Short: "List a user's favorite crates",
		Args:  cobra.NoArgs,
		RunE:  runFollowed,
	}
)

func init() {
	for _, c := range []*cobra.Command{followCmd, unfollowCmd, followedCmd} {
		c.Flags().StringP(config.KeyUser, "u", "", "account name (default: $CRATESYNC_USER)")
		RootCmd.AddCommand(c)
	}
}

func runFollow(cmd *cobra.Command, args []string) error {
	st, err := openExistingStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	u, err := lookupUser(ctx, st)
	if err != nil {
		return err
	}
	c, err := lookupCrate(ctx, st, args[0])
	if err != nil {
		return err
	}

	err = st.Follow(ctx, u.ID, c.ID)
	if errors.Is(err, store.ErrConstraintViolation) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s already follows %s\n", u.Name, c.Name)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s now follows %s\n", u.Name, c.Name)
	return nil
}

func runUnfollow(cmd *cobra.Command, args []string) error {
	st, err := openExistingStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	u, err := lookupUser(ctx, st)
	if err != nil {
		return err
	}
	c, err := lookupCrate(ctx, st, args[0])
	if err != nil {
		return err
	}

	if err := st.Unfollow(ctx, u.ID, c.ID); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s no longer follows %s\n", u.Name, c.Name)
	return nil
}

func runFollowed(cmd *cobra.Command, args []string) error {
	st, err := openExistingStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	u, err := lookupUser(ctx, st)
	if err != nil {
		return err
	}

	crates, err := st.ListFollowedCrates(ctx, u.ID)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), output.RenderCrateTable(crates))
	return nil
}
