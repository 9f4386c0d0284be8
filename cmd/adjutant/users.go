package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"github.com/pquerna/otp/totp"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"pkt.systems/adjutant/internal/appconfig"
	"pkt.systems/adjutant/internal/auth"
	"pkt.systems/adjutant/schema"
	"pkt.systems/pslog"
)

const (
	defaultPassphraseLength = 20
	totpIssuer              = "adjutant"
)

func newUsersCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage adjutant accounts",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")

	cmd.AddCommand(newUsersListCmd(&cfgPath))
	cmd.AddCommand(newUsersAddCmd(&cfgPath))
	cmd.AddCommand(newUsersDeleteCmd(&cfgPath))
	cmd.AddCommand(newUsersRotateTOTPCmd(&cfgPath))
	cmd.AddCommand(newUsersUnpairCmd(&cfgPath))

	return cmd
}

func openAccountStore(cmd *cobra.Command, cfgPath string) (*auth.Store, error) {
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return auth.NewStoreWithLogger(cfg.Auth.AccountFile, pslog.Ctx(cmd.Context()))
}

func newUsersListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openAccountStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, account := range store.Accounts() {
				state := "unpaired"
				if account.Paired() {
					state = fmt.Sprintf("paired to chat %s", account.ChatID)
				}
				_, _ = fmt.Fprintf(out, "%s (%s)\n", account.Username, state)
			}
			return nil
		},
	}
}

func newUsersAddCmd(cfgPath *string) *cobra.Command {
	var passphraseFromStdin bool
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Add an account and print its enrollment secrets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := args[0]
			if err := schema.ValidateUserID(schema.UserID(username)); err != nil {
				return errors.New("invalid username: must match [a-z0-9._-]")
			}
			passphrase, generated, err := resolvePassphrase(cmd, passphraseFromStdin)
			if err != nil {
				return err
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			key, err := totp.Generate(totp.GenerateOpts{
				Issuer:      totpIssuer,
				AccountName: username,
			})
			if err != nil {
				return err
			}
			store, err := openAccountStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			if err := store.AddAccount(auth.Account{
				Username:       username,
				PassphraseHash: string(hash),
				TOTPSecret:     key.Secret(),
			}); err != nil {
				return err
			}
			printEnrollment(cmd.OutOrStdout(), username, passphrase, generated, key.Secret(), key.URL())
			return nil
		},
	}
	cmd.Flags().BoolVar(&passphraseFromStdin, "passphrase-from-stdin", false, "read pairing passphrase from stdin instead of generating one")
	return cmd
}

func newUsersDeleteCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <username>",
		Short: "Delete an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openAccountStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			if err := store.DeleteAccount(args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted account: %s\n", args[0])
			return nil
		},
	}
}

func newUsersRotateTOTPCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-totp <username>",
		Short: "Replace an account's TOTP secret and print the new QR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := args[0]
			key, err := totp.Generate(totp.GenerateOpts{
				Issuer:      totpIssuer,
				AccountName: username,
			})
			if err != nil {
				return err
			}
			store, err := openAccountStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			if err := store.RotateTOTP(username, key.Secret()); err != nil {
				return err
			}
			printEnrollment(cmd.OutOrStdout(), username, "", false, key.Secret(), key.URL())
			return nil
		},
	}
}

func newUsersUnpairCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "unpair <username>",
		Short: "Unbind an account's chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openAccountStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			if err := store.Unpair(args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "unpaired account: %s\n", args[0])
			return nil
		},
	}
}

func resolvePassphrase(cmd *cobra.Command, fromStdin bool) (string, bool, error) {
	if fromStdin {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", false, err
		}
		passphrase := strings.TrimSpace(string(data))
		if passphrase == "" {
			return "", false, errors.New("passphrase from stdin is empty")
		}
		return passphrase, false, nil
	}
	passphrase, err := generatePassphrase(defaultPassphraseLength)
	if err != nil {
		return "", false, err
	}
	return passphrase, true, nil
}

func generatePassphrase(length int) (string, error) {
	if length <= 0 {
		length = defaultPassphraseLength
	}
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	for i, b := range bytes {
		bytes[i] = charset[int(b)%len(charset)]
	}
	return string(bytes), nil
}

func printEnrollment(w io.Writer, username, passphrase string, showPassphrase bool, secret, url string) {
	_, _ = fmt.Fprintf(w, "username: %s\n", username)
	if showPassphrase && passphrase != "" {
		_, _ = fmt.Fprintf(w, "pairing_passphrase: %s\n", passphrase)
	}
	_, _ = fmt.Fprintf(w, "totp_secret: %s\n", secret)
	_, _ = fmt.Fprintf(w, "otpauth_url: %s\n", url)
	_, _ = fmt.Fprintln(w, "totp_qr:")
	qrterminal.GenerateHalfBlock(url, qrterminal.L, w)
	_, _ = fmt.Fprintf(w, "pair from your chat with: /pair %s <passphrase> <totp>\n", username)
}
