/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hasznalt/apiserver/config"
	"github.com/hasznalt/apiserver/internal/auth"
	"github.com/hasznalt/apiserver/internal/db"
	"github.com/hasznalt/apiserver/internal/server"
	"github.com/hasznalt/apiserver/internal/services"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage accounts",
}

var accountRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register an account from the terminal",
	Long: `Registers an account directly against the database. The password is
read from the terminal without echo, or from stdin when it is not a terminal.

	hasznalt account register --username alice`,
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")

		password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}

		cfg := config.LoadConfig()
		log := newLogger(cfg)

		dbConn, err := db.Open(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer dbConn.Close()

		cookies := auth.NewCookieCodec(cfg.Session.Secret, cfg.Session.CookieSecure)
		svc := server.NewAccountService(dbConn, cookies, log)

		written, err := svc.Register(cmd.Context(), username, password)
		if err != nil {
			if errors.Is(err, services.ErrConflict) {
				return fmt.Errorf("account %q already exists", username)
			}
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%d row(s) written\n", written)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountRegisterCmd)

	accountRegisterCmd.Flags().StringP("username", "u", "", "username of the new account")
	_ = accountRegisterCmd.MarkFlagRequired("username")
}

// readPassword prompts on a terminal, otherwise reads the first line of in.
func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
