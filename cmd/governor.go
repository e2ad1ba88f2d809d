package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/buildsmarter/siteintel-resolve/internal/apilog"
	"github.com/buildsmarter/siteintel-resolve/internal/db"
	"github.com/buildsmarter/siteintel-resolve/internal/governor"
)

var governorCmd = &cobra.Command{
	Use:   "governor",
	Short: "Inspect and control the emergency cost mode",
}

var governorStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print whether emergency cost mode is active",
	RunE: func(cmd *cobra.Command, args []string) error {
		gov, pool, err := connectGovernor(cmd)
		if err != nil {
			return err
		}
		defer pool.Close()

		if gov.Active(cmd.Context()) {
			fmt.Println("emergency cost mode: active (paid providers disabled)")
		} else {
			fmt.Println("emergency cost mode: inactive")
		}
		return nil
	},
}

var governorOnCmd = &cobra.Command{
	Use:   "on",
	Short: "Engage emergency cost mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setGovernor(cmd, true)
	},
}

var governorOffCmd = &cobra.Command{
	Use:   "off",
	Short: "Disengage emergency cost mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setGovernor(cmd, false)
	},
}

var governorEvaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Compare today's spend against budget thresholds and flip the flag if crossed",
	Long:  "Intended to run on a schedule. Engages emergency cost mode when daily spend reaches the critical threshold and disengages it once spend falls back under the warning threshold.",
	RunE: func(cmd *cobra.Command, args []string) error {
		gov, pool, err := connectGovernor(cmd)
		if err != nil {
			return err
		}
		defer pool.Close()

		active, spend, err := gov.Evaluate(cmd.Context(), apilog.New(pool), cfg.Budget)
		if err != nil {
			return err
		}

		state := "inactive"
		if active {
			state = "active"
		}
		fmt.Printf("spend today: $%.4f (warn $%.2f, critical $%.2f)\nemergency cost mode: %s\n",
			spend, cfg.Budget.Warn, cfg.Budget.Critical, state)
		return nil
	},
}

func setGovernor(cmd *cobra.Command, active bool) error {
	gov, pool, err := connectGovernor(cmd)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := gov.Set(cmd.Context(), active); err != nil {
		return err
	}
	if active {
		fmt.Println("emergency cost mode engaged")
	} else {
		fmt.Println("emergency cost mode disengaged")
	}
	return nil
}

func connectGovernor(cmd *cobra.Command) (*governor.Governor, db.Pool, error) {
	if cfg.Database.URL == "" {
		return nil, nil, eris.New("governor: database.url is required")
	}
	pool, err := db.Connect(cmd.Context(), cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	gov := governor.New(pool)
	if err := gov.Migrate(cmd.Context()); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return gov, pool, nil
}

func init() {
	governorCmd.AddCommand(governorStatusCmd, governorOnCmd, governorOffCmd, governorEvaluateCmd)
	rootCmd.AddCommand(governorCmd)
}
