// Command sylvia-iot-cli is a thin operator CLI over sdk.Client: login,
// tokeninfo and unit listing/creation. Per SPEC_FULL.md §2.2's "the CLI
// UX" out-of-scope boundary, this covers the handful of commands that
// exercise the SDK end to end, not a full administrative tool.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sylvia-iot/sylvia-iot-core/sdk"
)

func main() {
	var authURL, brokerURL, token string

	root := &cobra.Command{
		Use:   "sylvia-iot-cli",
		Short: "sylvia-iot-cli drives the platform's auth and broker APIs",
	}
	root.PersistentFlags().StringVar(&authURL, "auth-url", "http://localhost:1080", "authorization service base URL")
	root.PersistentFlags().StringVar(&brokerURL, "broker-url", "http://localhost:3080", "broker service base URL")
	root.PersistentFlags().StringVar(&token, "token", "", "bearer token (skips login)")

	newClient := func() (*sdk.Client, error) {
		c, err := sdk.New(sdk.Options{AuthURL: authURL, BrokerURL: brokerURL})
		if err != nil {
			return nil, err
		}
		if token != "" {
			c.SetToken(token)
		}
		return c, nil
	}

	loginCmd := &cobra.Command{
		Use:   "login [account] [password]",
		Short: "authenticate and print an access token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			result, err := c.Login(context.Background(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	tokeninfoCmd := &cobra.Command{
		Use:   "tokeninfo",
		Short: "resolve the current token to its identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			id, err := c.TokenInfo(context.Background())
			if err != nil {
				return err
			}
			return printJSON(id)
		},
	}

	unitCmd := &cobra.Command{Use: "unit", Short: "broker unit operations"}
	unitListCmd := &cobra.Command{
		Use:   "list",
		Short: "list units",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			units, err := c.ListUnits(context.Background())
			if err != nil {
				return err
			}
			return printJSON(units)
		},
	}
	unitCreateCmd := &cobra.Command{
		Use:   "create [code] [ownerId] [name]",
		Short: "create a unit",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			id, err := c.CreateUnit(context.Background(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"unitId": id})
		},
	}
	unitCmd.AddCommand(unitListCmd, unitCreateCmd)

	root.AddCommand(loginCmd, tokeninfoCmd, unitCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
