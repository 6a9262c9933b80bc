package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"librarydesk/internal/app"
	"librarydesk/internal/membership"
)

func newUserAddCmd() *cobra.Command {
	var name, email, role, password string

	cmd := &cobra.Command{
		Use:   "useradd",
		Short: "Create an account with any role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := membership.ParseRole(role)
			if err != nil {
				return err
			}
			if password == "" {
				if password, err = promptPassword(cmd.ErrOrStderr(), email); err != nil {
					return err
				}
			}

			cfg, log, err := setup()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			store, err := app.OpenStore(ctx, cfg.Storage, log)
			if err != nil {
				return err
			}
			defer store.Close()

			u, err := app.NewServices(store, cfg.Auth).Members.Register(ctx, membership.Registration{
				Name: name, Email: email, Password: password, Role: r,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", u.Role, u.Email, u.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&role, "role", string(membership.RoleMember), "member, librarian or admin")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// promptPassword reads a password twice from the terminal without echo.
func promptPassword(w io.Writer, email string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal to prompt on; pass --password")
	}

	read := func(prompt string) (string, error) {
		fmt.Fprint(w, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(w)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	first, err := read(fmt.Sprintf("Password for %s: ", email))
	if err != nil {
		return "", err
	}
	second, err := read("Repeat password: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("passwords do not match")
	}
	return first, nil
}
