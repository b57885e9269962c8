package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

func newCredentialCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credential",
		Aliases: []string{"cred"},
		Short:   "Manage encrypted API credentials",
	}
	cmd.AddCommand(
		newCredentialAddCmd(opts),
		newCredentialListCmd(opts),
		newCredentialDeleteCmd(opts),
	)
	return cmd
}

func newCredentialAddCmd(opts *cliOptions) *cobra.Command {
	var (
		userID   string
		name     string
		credType string
		value    string
		id       string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Encrypt and store a credential; the value is read from stdin when --value is omitted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if value == "" {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				value = strings.TrimSpace(string(raw))
			}
			if value == "" {
				return schema.NewError(schema.ErrCodeValidation, "credential value is empty")
			}

			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			vault, err := a.requireVault()
			if err != nil {
				return err
			}

			if id == "" {
				id = uuid.NewString()
			}
			cred := &store.Credential{
				ID:     id,
				UserID: userID,
				Name:   name,
				Type:   schema.CredentialType(strings.ToUpper(credType)),
			}
			if err := vault.Store(cmd.Context(), cred, value); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cred)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner of the credential")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&credType, "type", "", "credential type: GEMINI or DEEPSEEK")
	cmd.Flags().StringVar(&value, "value", "", "secret value (prefer stdin)")
	cmd.Flags().StringVar(&id, "id", "", "credential ID to create or rotate (default: random)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newCredentialListCmd(opts *cliOptions) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's credentials without their values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			vault, err := a.requireVault()
			if err != nil {
				return err
			}
			creds, err := vault.List(cmd.Context(), userID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(creds) == 0 {
				fmt.Fprintln(out, "No credentials found")
				return nil
			}
			fmt.Fprintf(out, "Credentials (%d):\n", len(creds))
			for _, c := range creds {
				fmt.Fprintf(out, "  %-36s %-9s %-20s %s\n", c.ID, c.Type, c.Name, c.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner of the credentials")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newCredentialDeleteCmd(opts *cliOptions) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "delete <credential-id>",
		Short: "Delete a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			vault, err := a.requireVault()
			if err != nil {
				return err
			}
			if err := vault.Delete(cmd.Context(), args[0], userID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner of the credential")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
