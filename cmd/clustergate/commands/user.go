package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/clustergate/internal/cli/output"
	"github.com/marmos91/clustergate/internal/cli/prompt"
	"github.com/marmos91/clustergate/pkg/config"
	"github.com/marmos91/clustergate/pkg/controlplane/models"
	"github.com/marmos91/clustergate/pkg/controlplane/store"
)

var (
	userPasswordStdin bool
	userDisplayName   string
	userYes           bool
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage password backend users",
	Long: `Manage the users admitted by the password security backend. Users are
stored in the control plane database configured in the database section.

Examples:
  clustergate user add worker-1
  echo "$PASSWORD" | clustergate user add worker-2 --password-stdin
  clustergate user list
  clustergate user passwd worker-1
  clustergate user disable worker-1
  clustergate user remove worker-1`,
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserAdd,
}

var userListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List users",
	Args:    cobra.NoArgs,
	RunE:    runUserList,
}

var userRemoveCmd = &cobra.Command{
	Use:     "remove <username>",
	Aliases: []string{"delete", "rm"},
	Short:   "Delete a user",
	Args:    cobra.ExactArgs(1),
	RunE:    runUserRemove,
}

var userPasswdCmd = &cobra.Command{
	Use:     "passwd <username>",
	Aliases: []string{"password"},
	Short:   "Change a user's password",
	Args:    cobra.ExactArgs(1),
	RunE:    runUserPasswd,
}

var userEnableCmd = &cobra.Command{
	Use:   "enable <username>",
	Short: "Allow a user to authenticate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setUserEnabled(args[0], true)
	},
}

var userDisableCmd = &cobra.Command{
	Use:   "disable <username>",
	Short: "Reject a user without deleting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setUserEnabled(args[0], false)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{userAddCmd, userPasswdCmd} {
		cmd.Flags().BoolVar(&userPasswordStdin, "password-stdin", false, "Read the password from stdin")
	}
	userAddCmd.Flags().StringVar(&userDisplayName, "display-name", "", "Display name")
	userRemoveCmd.Flags().BoolVarP(&userYes, "yes", "y", false, "Do not ask for confirmation")

	userCmd.AddCommand(userAddCmd, userListCmd, userRemoveCmd, userPasswdCmd, userEnableCmd, userDisableCmd)
}

// UserList renders users.
type UserList []*models.User

// Headers implements output.TableRenderer.
func (l UserList) Headers() []string {
	return []string{"USERNAME", "ENABLED", "DISPLAY NAME", "LAST LOGIN", "CREATED"}
}

// Rows implements output.TableRenderer.
func (l UserList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, u := range l {
		lastLogin := "never"
		if u.LastLogin != nil {
			lastLogin = u.LastLogin.Local().Format(time.DateTime)
		}
		display := u.DisplayName
		if display == "" {
			display = "-"
		}
		rows = append(rows, []string{
			u.Username,
			fmt.Sprintf("%t", u.Enabled),
			display,
			lastLogin,
			u.CreatedAt.Local().Format(time.DateOnly),
		})
	}
	return rows
}

// openStore opens the control plane database of the configured member.
func openStore() (*store.GORMStore, error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, err
	}
	return store.New(&cfg.Database)
}

func readNewPassword() (string, error) {
	if userPasswordStdin {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read password from stdin: %w", err)
		}
		password := strings.TrimRight(line, "\r\n")
		if err := models.ValidatePassword(password); err != nil {
			return "", err
		}
		return password, nil
	}

	password, err := prompt.New().NewPassword(models.MinPasswordLength)
	if errors.Is(err, prompt.ErrNotTerminal) {
		return "", errors.New("stdin is not a terminal; use --password-stdin")
	}
	return password, err
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	username := args[0]

	password, err := readNewPassword()
	if err != nil {
		return err
	}
	hash, err := models.HashPassword(password)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	user := &models.User{
		Username:     username,
		PasswordHash: hash,
		Enabled:      true,
		DisplayName:  userDisplayName,
	}
	if _, err := st.CreateUser(context.Background(), user); err != nil {
		return fmt.Errorf("failed to create user %q: %w", username, err)
	}

	printer, err := newPrinter()
	if err != nil {
		return err
	}
	printer.Success(fmt.Sprintf("User %q created", username))
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter()
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	users, err := st.ListUsers(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}
	if len(users) == 0 && printer.Format() == output.FormatTable {
		_, _ = fmt.Fprintln(os.Stdout, "No users found")
		return nil
	}
	return printer.Print(UserList(users))
}

func runUserRemove(cmd *cobra.Command, args []string) error {
	username := args[0]

	if !userYes {
		ok, err := prompt.New().Confirm(fmt.Sprintf("Delete user %q?", username), false)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := st.DeleteUser(context.Background(), username); err != nil {
		return fmt.Errorf("failed to delete user %q: %w", username, err)
	}
	_, _ = fmt.Fprintf(os.Stdout, "User %q deleted\n", username)
	return nil
}

func runUserPasswd(cmd *cobra.Command, args []string) error {
	username := args[0]

	password, err := readNewPassword()
	if err != nil {
		return err
	}
	hash, err := models.HashPassword(password)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := st.UpdatePassword(context.Background(), username, hash); err != nil {
		return fmt.Errorf("failed to update password of %q: %w", username, err)
	}
	_, _ = fmt.Fprintf(os.Stdout, "Password of %q updated\n", username)
	return nil
}

func setUserEnabled(username string, enabled bool) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := st.SetUserEnabled(context.Background(), username, enabled); err != nil {
		return fmt.Errorf("failed to update user %q: %w", username, err)
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	_, _ = fmt.Fprintf(os.Stdout, "User %q %s\n", username, state)
	return nil
}
