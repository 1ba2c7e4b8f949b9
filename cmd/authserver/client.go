package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	oauth "github.com/giantswarm/authserver"
	"github.com/giantswarm/authserver/server"
	"github.com/giantswarm/authserver/storage"
)

func newClientCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage registered clients",
	}
	cmd.AddCommand(newClientAddCmd(a))
	return cmd
}

func newClientAddCmd(a *app) *cobra.Command {
	var (
		reg        server.ClientRegistration
		clientType string
	)

	cmd := &cobra.Command{
		Use:   "add ALIAS",
		Short: "Register a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg.Alias = args[0]
			reg.Type = storage.ClientType(clientType)
			if err := reg.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			srv, err := a.newServer(store, nil)
			if err != nil {
				return err
			}
			client, err := srv.RegisterClient(ctx, reg)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(oauth.NewClientResponse(client))
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&clientType, "type", string(storage.ClientTypeConfidential), "Client type (confidential, public)")
	flags.StringVar(&reg.Secret, "secret", "", "Client secret, required for confidential clients")
	flags.StringVar(&reg.AllowedScopes, "scopes", "", "Space separated scopes the client may request")
	flags.StringVar(&reg.DefaultScopes, "default-scopes", "", "Scopes granted when a request names none")
	flags.StringSliceVar(&reg.RedirectURIs, "redirect-uri", nil, "Registered redirect URI (repeatable)")
	flags.BoolVar(&reg.Trusted, "trusted", false, "Allow the resource owner password grant")
	return cmd
}

func newUserCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage resource owners",
	}
	cmd.AddCommand(newUserAddCmd(a))
	return cmd
}

func newUserAddCmd(a *app) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "add USERNAME",
		Short: "Register a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			srv, err := a.newServer(store, nil)
			if err != nil {
				return err
			}
			user, err := srv.RegisterUser(ctx, args[0], password)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", user.ID, user.Username)
			return err
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "User password")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
