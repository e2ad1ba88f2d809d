package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/buildsmarter/siteintel-resolve/internal/model"
)

var (
	resolveKind      string
	resolvePreferred string
	resolveLimit     int
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <query>",
	Short: "Resolve one location query and print the result as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		resp, err := env.orchestrator.Resolve(ctx, model.Query{
			Raw:               strings.Join(args, " "),
			Kind:              model.QueryKind(resolveKind),
			Identity:          "cli",
			PreferredProvider: resolvePreferred,
			Limit:             resolveLimit,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveKind, "kind", "", "override query classification (address|parcel_id|intersection|point)")
	resolveCmd.Flags().StringVar(&resolvePreferred, "provider", "", "try the named provider first")
	resolveCmd.Flags().IntVar(&resolveLimit, "limit", 0, "max candidates to return (default from config)")
	rootCmd.AddCommand(resolveCmd)
}
