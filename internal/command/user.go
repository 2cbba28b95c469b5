package command

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func userCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage stored logins",
	}
	cmd.AddCommand(
		userAddCommand(),
		userRemoveCommand(),
		userListCommand(),
	)
	return cmd
}

func userAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add NAME [PASSWORD]",
		Short: "Add login",
		Long: "Adds a login for the provided username and password. Passwords may be\n" +
			"provided as an argument, via stdin or through the interactive prompt.",
		Args: cobra.RangeArgs(1, 2), //nolint:mnd // name and optional password
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}

			name := args[0]
			var passwd string
			if len(args) > 1 {
				passwd = args[1]
			} else if passwd, err = promptPassword(cmd, name); err != nil {
				return err
			}

			added, err := store.Add(cmd.Context(), name, passwd)
			if err != nil {
				return err
			}
			if added {
				logger.InfoContext(cmd.Context(), "added login", slog.String("name", name))
			}
			return nil
		},
	}
}

func userRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove NAME",
		Short: "Remove login",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}

			name := args[0]
			logger = logger.With(slog.String("name", name))
			ok, err := confirm(cmd, fmt.Sprintf("Remove login %q? It will no longer open the stream.", name))
			if !ok || err != nil {
				logger.InfoContext(cmd.Context(), "aborted login removal")
				return err
			}
			removed, err := store.Remove(cmd.Context(), name)
			if err != nil {
				return err
			}
			if removed {
				logger.InfoContext(cmd.Context(), "login removed")
			}
			return nil
		},
	}
}

func userListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored usernames",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			for _, name := range store.Usernames() {
				if _, err = fmt.Fprintln(cmd.OutOrStdout(), name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
