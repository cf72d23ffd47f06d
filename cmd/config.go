package main

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/blnkfinance/vaultpay/config"
	"github.com/spf13/cobra"
)

const redacted = "********"

// configCommands prints the computed configuration with secrets masked.
func configCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "config outputs your instance's computed configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Fetch()
			if err != nil {
				log.Fatalf("Error getting config: %v\n", err)
			}

			masked := *cfg
			mask(&masked.Server.SecretKey)
			mask(&masked.Auth.JWTSecret)
			mask(&masked.Recurring.CronSecret)
			mask(&masked.Screening.APIKey)
			mask(&masked.MPC.APIKey)

			data, err := json.MarshalIndent(masked, "", "    ")
			if err != nil {
				log.Fatalf("Error printing config: %v\n", err)
			}

			fmt.Println(string(data))
		},
	}
	return cmd
}

func mask(value *string) {
	if *value != "" {
		*value = redacted
	}
}
