package main

import (
	"context"
	"fmt"
	"os"

	"agora/api/internal/authpw"
	"agora/api/internal/logging"
	"agora/api/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	serveCommand := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API (the default command)",
		Run:   RootCommand.Run,
	}
	RootCommand.AddCommand(serveCommand)

	migrateCommand := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		Run: func(cmd *cobra.Command, args []string) {
			_, db := mustSetup(context.Background(), true)
			defer db.Close()
			logging.Info().Msg("Migrations applied")
		},
	}
	RootCommand.AddCommand(migrateCommand)

	var username, emailAddr, password string
	createAdminCommand := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an approved admin account, or promote an existing one",
		Run: func(cmd *cobra.Command, args []string) {
			if username == "" || emailAddr == "" || password == "" {
				fmt.Printf("You must provide --username, --email and --password.\n\n")
				cmd.Usage()
				os.Exit(1)
			}

			ctx := context.Background()
			_, db := mustSetup(ctx, true)
			defer db.Close()

			user, err := authpw.NewService(store.NewPostgresStore(db)).EnsureAdmin(ctx, authpw.RegisterRequest{
				Username: username,
				Email:    emailAddr,
				Password: password,
			})
			if err != nil {
				logging.Fatal().Err(err).Msg("create admin failed")
			}
			fmt.Printf("Admin %s (%s) is ready.\n", user.Username, user.ID)
		},
	}
	createAdminCommand.Flags().StringVar(&username, "username", "", "admin username")
	createAdminCommand.Flags().StringVar(&emailAddr, "email", "", "admin email address")
	createAdminCommand.Flags().StringVar(&password, "password", "", "admin password")
	RootCommand.AddCommand(createAdminCommand)
}
