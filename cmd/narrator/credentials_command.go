package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-narrator/internal/speech"
)

func newCredentialsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Inspect and toggle speech provider credentials",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List credentials and whether they are enabled",
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := credentialStore(ctx)
				if err != nil {
					return err
				}
				creds, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				if len(creds) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No credentials in %s\n", store.Path())
					return nil
				}
				rows := make([][]string, 0, len(creds))
				for _, c := range creds {
					rows = append(rows, []string{c.ID, yesNo(c.Enabled), strconv.Itoa(len(c.Keys)), maskKey(c.Key())})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Enabled", "Keys", "Key"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			},
		},
		toggleCredentialCommand(ctx, "enable", true),
		toggleCredentialCommand(ctx, "disable", false),
	)
	return cmd
}

func toggleCredentialCommand(ctx *commandContext, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := credentialStore(ctx)
			if err != nil {
				return err
			}
			if err := store.SetEnabled(cmd.Context(), args[0], enabled); err != nil {
				if errors.Is(err, speech.ErrUnknownCredential) {
					return fmt.Errorf("credential %q not found in %s", args[0], store.Path())
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Credential %s %sd\n", args[0], verb)
			return nil
		},
	}
}

func credentialStore(ctx *commandContext) (*speech.FileCredentials, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Speech.CredentialsPath == "" {
		return nil, errors.New("speech.credentials_path is not configured")
	}
	return speech.NewFileCredentials(cfg.Speech.CredentialsPath), nil
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
