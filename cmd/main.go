/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/blnkfinance/vaultpay"
	"github.com/blnkfinance/vaultpay/config"
	"github.com/blnkfinance/vaultpay/database"
	"github.com/blnkfinance/vaultpay/internal/auth"
	"github.com/blnkfinance/vaultpay/internal/notification"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// VaultPay is the CLI application, wrapping the root Cobra command.
type VaultPay struct {
	cmd *cobra.Command
}

// vaultpayInstance holds the engine and its configuration for the subcommands.
type vaultpayInstance struct {
	vp   *vaultpay.VaultPay
	auth *auth.Authenticator
	cnf  *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the engine before any command runs.
func preRun(app *vaultpayInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		vp, err := setupVaultPay(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.vp = vp
		app.auth = auth.NewAuthenticator(vp.Redis(), cnf.Auth)
		app.cnf = cnf
		return nil
	}
}

func setupVaultPay(cfg *config.Configuration) (*vaultpay.VaultPay, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	vp, err := vaultpay.NewVaultPay(db)
	if err != nil {
		return nil, fmt.Errorf("error creating vaultpay: %v", err)
	}
	return vp, nil
}

func NewCLI() *VaultPay {
	var configFile string
	app := &vaultpayInstance{}

	var rootCmd = &cobra.Command{
		Use:   "vaultpay",
		Short: "Confidential payment settlement engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./vaultpay.json", "Configuration file for vaultpay")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(recurringCommands(app))
	rootCmd.AddCommand(configCommands())

	return &VaultPay{cmd: rootCmd}
}

func (v VaultPay) executeCLI() {
	if err := v.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
