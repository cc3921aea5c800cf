package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/predictstake/internal/crypto"
)

// Environment fallbacks shared with the service configuration.
const (
	envPrivateKey = "PREDICTSTAKE_WALLET_PRIVATE_KEY"
	envPassword   = "PREDICTSTAKE_WALLET_KEY_PASSWORD"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "predictstake-key",
		Short:         "predictstake wallet key tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		generateCmd(),
		encryptCmd(),
		decryptCmd(),
		addressCmd(),
		signCmd(),
		verifyCmd(),
	)
	return root
}

func generateCmd() *cobra.Command {
	var out, password string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Create a new wallet key and store it encrypted",
		RunE: func(cmd *cobra.Command, args []string) error {
			pk, err := ethcrypto.GenerateKey()
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			keyHex := common.Bytes2Hex(ethcrypto.FromECDSA(pk))
			addr, err := writeEncrypted(keyHex, orEnv(password, envPassword), out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "address: %s\nkey file: %s\n", addr, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "wallet.json", "key file to create")
	cmd.Flags().StringVarP(&password, "password", "p", "", "key file password (default $"+envPassword+")")
	return cmd
}

func encryptCmd() *cobra.Command {
	var key, out, password string
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a raw private key into a key file",
		RunE: func(cmd *cobra.Command, args []string) error {
			key = orEnv(key, envPrivateKey)
			if key == "" {
				return errors.New("no private key given (use --key or $" + envPrivateKey + ")")
			}
			addr, err := writeEncrypted(key, orEnv(password, envPassword), out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "address: %s\nkey file: %s\n", addr, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&key, "key", "k", "", "hex private key (default $"+envPrivateKey+")")
	cmd.Flags().StringVarP(&out, "out", "o", "wallet.json", "key file to create")
	cmd.Flags().StringVarP(&password, "password", "p", "", "key file password (default $"+envPassword+")")
	return cmd
}

func decryptCmd() *cobra.Command {
	var in, password string
	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Print the raw private key held in a key file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(in)
			if err != nil {
				return fmt.Errorf("read key file: %w", err)
			}
			keyHex, err := crypto.DecryptKey(data, orEnv(password, envPassword))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "0x"+keyHex)
			return nil
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "wallet.json", "key file to read")
	cmd.Flags().StringVarP(&password, "password", "p", "", "key file password (default $"+envPassword+")")
	return cmd
}

func addressCmd() *cobra.Command {
	var in, password string
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Print the address of a key file",
		Long:  "Print the address recorded in a key file. With a password the file is decrypted and the address derived from the key.",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(in)
			if err != nil {
				return fmt.Errorf("read key file: %w", err)
			}
			password = orEnv(password, envPassword)
			if password == "" {
				addr, err := crypto.KeyFileAddress(data)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), addr)
				return nil
			}
			keyHex, err := crypto.DecryptKey(data, password)
			if err != nil {
				return err
			}
			signer, err := crypto.NewSigner(keyHex)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signer.Address().Hex())
			return nil
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "wallet.json", "key file to read")
	cmd.Flags().StringVarP(&password, "password", "p", "", "key file password (default $"+envPassword+")")
	return cmd
}

func signCmd() *cobra.Command {
	var key, in, password string
	cmd := &cobra.Command{
		Use:   "sign <message>",
		Short: "Sign a message with the wallet (personal_sign)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := crypto.LoadSigner(crypto.KeyConfig{
				RawPrivateKey:    orEnv(key, envPrivateKey),
				EncryptedKeyPath: in,
				KeyPassword:      orEnv(password, envPassword),
			})
			if err != nil {
				return err
			}
			sig, err := signer.SignMessage([]byte(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "address: %s\nsignature: %s\n", signer.Address().Hex(), sig)
			return nil
		},
	}
	cmd.Flags().StringVarP(&key, "key", "k", "", "hex private key (default $"+envPrivateKey+")")
	cmd.Flags().StringVarP(&in, "in", "i", "", "key file to read when no raw key is given")
	cmd.Flags().StringVarP(&password, "password", "p", "", "key file password (default $"+envPassword+")")
	return cmd
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <message> <signature> [address]",
		Short: "Recover the signer of a message, optionally checking it",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := crypto.RecoverMessageSigner([]byte(args[0]), args[1])
			if err != nil {
				return err
			}
			if len(args) == 3 {
				if !common.IsHexAddress(args[2]) {
					return fmt.Errorf("%q is not an address", args[2])
				}
				if common.HexToAddress(args[2]) != addr {
					return fmt.Errorf("signature is from %s, not %s", addr.Hex(), common.HexToAddress(args[2]).Hex())
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), addr.Hex())
			return nil
		},
	}
}

func writeEncrypted(keyHex, password, out string) (string, error) {
	if password == "" {
		return "", errors.New("no password given (use --password or $" + envPassword + ")")
	}
	data, err := crypto.EncryptKey(keyHex, password)
	if err != nil {
		return "", err
	}
	if err := crypto.WriteKeyFile(out, data); err != nil {
		return "", err
	}
	return crypto.KeyFileAddress(data)
}

func orEnv(v, key string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return os.Getenv(key)
}
