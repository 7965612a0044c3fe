package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/blackwell-systems/cratesync/internal/store"
)

// minPasswordLength is the shortest password user add accepts.
const minPasswordLength = 8

var (
	userCmd = &cobra.Command{
		Use:   "user",
		Short: "Manage local accounts",
		Long: `Accounts own favorites. Imports never create, change or delete accounts.

Passwords are stored as bcrypt hashes.`,
	}

	userAddCmd = &cobra.Command{
		Use:   "add NAME",
		Short: "Create an account",
		Long: `Create an account. On a terminal the password is prompted for twice
without echo; otherwise it is read from the first line of standard input.`,
		Example: `  echo 's3cret-pass' | cratesync user add alice`,
		Args:    cobra.ExactArgs(1),
		RunE:    runUserAdd,
	}

	userRemoveCmd = &cobra.Command{
		Use:   "remove NAME",
		Short: "Delete an account and its favorites",
		Args:  cobra.ExactArgs(1),
		RunE:  runUserRemove,
	}
)

func init() {
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userRemoveCmd)
	RootCmd.AddCommand(userCmd)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	name := args[0]
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("user name must not be empty")
	}

	password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.CreateSchemaContext(cmd.Context()); err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}

	u, err := st.CreateUser(cmd.Context(), name, string(hash))
	if errors.Is(err, store.ErrConstraintViolation) {
		return fmt.Errorf("user %q already exists", name)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Created user %s (id %d)\n", u.Name, u.ID)
	return nil
}

// readPassword reads the new account's password. On a terminal it prompts
// twice without echo; otherwise it reads the first line of r.
func readPassword(r io.Reader, prompt io.Writer) (string, error) {
	var password string
	if f, ok := r.(interface{ Fd() uintptr }); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		first, err := promptPassword(fd, prompt, "Password: ")
		if err != nil {
			return "", err
		}
		second, err := promptPassword(fd, prompt, "Confirm password: ")
		if err != nil {
			return "", err
		}
		if first != second {
			return "", fmt.Errorf("passwords do not match")
		}
		password = first
	} else {
		scanner := bufio.NewScanner(r)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", fmt.Errorf("failed to read password: %w", err)
			}
			return "", fmt.Errorf("no password given on standard input")
		}
		password = strings.TrimRight(scanner.Text(), "\r")
	}

	if len(password) < minPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	// bcrypt ignores everything past 72 bytes
	if len(password) > 72 {
		return "", fmt.Errorf("password must be at most 72 bytes")
	}
	return password, nil
}

func promptPassword(fd int, prompt io.Writer, label string) (string, error) {
	fmt.Fprint(prompt, label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}

func runUserRemove(cmd *cobra.Command, args []string) error {
	st, err := openExistingStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	u, err := st.GetUserByName(ctx, args[0])
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("user %q does not exist", args[0])
	}
	if err != nil {
		return err
	}

	if err := st.DeleteUser(ctx, u.ID); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed user %s\n", u.Name)
	return nil
}
