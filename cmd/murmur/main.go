package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/nasermirzaei89/murmur"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

const appName = "murmur"

func main() {
	ctx := context.Background()

	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.WarnContext(ctx, "failed to load .env file", "error", err)
	}

	murmur.SetupLogger()

	err = rootCmd().ExecuteContext(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to run command", "error", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Comments, replies and likes for static pages",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}

	cmd.AddCommand(serveCmd(), migrateCmd(), exportCmd(), versionCmd())

	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the comments server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	app, err := murmur.NewApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	return app.Run(ctx)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or revert the sqlite schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return murmur.MigrateUp(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert all migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return murmur.MigrateDown(cmd.Context())
			},
		},
	)

	return cmd
}

func exportCmd() *cobra.Command {
	var (
		pageKey string
		format  string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the comments and likes of a page",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return murmur.Export(cmd.Context(), cmd.OutOrStdout(), pageKey, format)
		},
	}

	cmd.Flags().StringVar(&pageKey, "page", "", "Page key, for example /blog/hello-world")
	cmd.Flags().StringVar(&format, "format", murmur.ExportFormatJSON, "Output format (json, yaml)")
	_ = cmd.MarkFlagRequired("page")

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	}
}
