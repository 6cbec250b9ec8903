package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
)

func connectCmd() *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "Print the URL that links your GitHub account",
		Action: func(c *cli.Context) error {
			api, err := newClient(c)
			if err != nil {
				return err
			}
			authz, err := api.Authorize(c.Context)
			if err != nil {
				return err
			}
			fmt.Println("Open this URL in a browser to connect GitHub:")
			fmt.Println()
			fmt.Println("  " + authz.AuthorizationURL)
			fmt.Println()
			fmt.Println("Then run `archonctl status` to confirm.")
			return nil
		},
	}
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show whether GitHub is connected",
		Action: func(c *cli.Context) error {
			api, err := newClient(c)
			if err != nil {
				return err
			}
			st, err := api.ConnectionStatus(c.Context)
			if err != nil {
				return err
			}
			if !st.Connected {
				color.Yellow("GitHub not connected")
				return nil
			}
			color.Green("Connected as %s", st.Username)
			if st.ConnectedAt != nil {
				fmt.Printf("since %s\n", st.ConnectedAt.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func disconnectCmd() *cli.Command {
	return &cli.Command{
		Name:  "disconnect",
		Usage: "Unlink GitHub and forget its credential",
		Action: func(c *cli.Context) error {
			api, err := newClient(c)
			if err != nil {
				return err
			}
			if err := api.Disconnect(c.Context); err != nil {
				return err
			}
			color.Green("GitHub disconnected")
			return nil
		},
	}
}
