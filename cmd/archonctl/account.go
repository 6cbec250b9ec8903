package main

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/sakif/archon/internal/client"
)

func credentialFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Usage: "Account email"},
		&cli.StringFlag{
			Name:    "password",
			Usage:   "Account password (prompted when omitted)",
			EnvVars: []string{"ARCHON_PASSWORD"},
		},
	}
}

func registerCmd() *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "Create an account and sign in",
		Flags: append(credentialFlags(),
			&cli.StringFlag{Name: "name", Usage: "Display name"},
		),
		Action: func(c *cli.Context) error {
			email, password, err := credentials(c)
			if err != nil {
				return err
			}
			api := client.New(c.String("server"), "", nil)
			sess, err := api.Register(c.Context, email, password, c.String("name"))
			if err != nil {
				return err
			}
			return storeSession(sess)
		},
	}
}

func loginCmd() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Sign in and save the session",
		Flags: credentialFlags(),
		Action: func(c *cli.Context) error {
			email, password, err := credentials(c)
			if err != nil {
				return err
			}
			api := client.New(c.String("server"), "", nil)
			sess, err := api.Login(c.Context, email, password)
			if err != nil {
				return err
			}
			return storeSession(sess)
		},
	}
}

func logoutCmd() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Forget the saved session",
		Action: func(c *cli.Context) error {
			path, err := sessionPath()
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			color.Green("Signed out")
			return nil
		},
	}
}

func whoamiCmd() *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "Show the signed-in account",
		Action: func(c *cli.Context) error {
			api, err := newClient(c)
			if err != nil {
				return err
			}
			u, err := api.Me(c.Context)
			if err != nil {
				return err
			}
			fmt.Printf("%s <%s>\n", u.DisplayName, u.Email)
			return nil
		},
	}
}

func storeSession(sess *client.Session) error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	if err := saveSession(path, sess.Token); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	color.Green("Signed in as %s", sess.User.Email)
	return nil
}

// credentials takes email and password from flags, prompting for whatever
// is missing. The password is read without echo on a terminal.
func credentials(c *cli.Context) (email, password string, err error) {
	email, password = c.String("email"), c.String("password")
	in := bufio.NewReader(os.Stdin)

	if email == "" {
		fmt.Fprint(os.Stderr, "Email: ")
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return "", "", fmt.Errorf("reading email: %w", err)
		}
		email = strings.TrimSpace(line)
	}

	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		fd := int(os.Stdin.Fd())
		if term.IsTerminal(fd) {
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return "", "", fmt.Errorf("reading password: %w", err)
			}
			password = string(b)
		} else {
			line, err := in.ReadString('\n')
			if err != nil && line == "" {
				return "", "", fmt.Errorf("reading password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}
	}
	return email, password, nil
}
