package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

// recurringCommands runs the recurring scheduler once, for operators and external cron.
func recurringCommands(app *vaultpayInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recurring",
		Short: "manage recurring payments",
	}

	var autoExecute bool
	run := &cobra.Command{
		Use:   "run",
		Short: "materialize due recurring payments and optionally execute them",
		Run: func(cmd *cobra.Command, args []string) {
			result, err := app.vp.RunRecurringCron(context.Background(), autoExecute)
			if err != nil {
				log.Fatalf("recurring run failed: %v", err)
			}

			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				log.Fatal(err)
			}
			fmt.Println(string(data))
		},
	}
	run.Flags().BoolVar(&autoExecute, "auto-execute", false, "execute the materialized payments when the configuration allows it")

	cmd.AddCommand(run)
	return cmd
}
