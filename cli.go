package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gluk-w/claworc/keyvault/internal/config"
	"github.com/gluk-w/claworc/keyvault/internal/crypto"
	"github.com/gluk-w/claworc/keyvault/internal/logging"
	"github.com/gluk-w/claworc/keyvault/internal/sshkeys"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "keyvault",
		Short:         "Credential and SSH key management service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serveCommand,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API (default)",
			Args:  cobra.NoArgs,
			RunE:  serveCommand,
		},
		newMasterKeyCmd(),
		newKeygenCmd(),
		newValidateCmd(),
		newLogsCmd(),
	)
	return root
}

func serveCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	return runServe(cmd.Context(), cfg)
}

func newMasterKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "master-key",
		Short: "Print a new random master key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateMasterKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

type keygenOptions struct {
	keyType       string
	bits          int
	comment       string
	passphraseEnv string
	out           string
	native        bool
}

func newKeygenCmd() *cobra.Command {
	var opts keygenOptions
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an SSH key pair into local files",
		Long: `Generates a key pair with the same backends the API uses and writes
<out> (mode 0600) and <out>.pub (mode 0644). Existing files are never
overwritten.

The passphrase is read from the environment variable named by
--passphrase-env so it does not appear in the process list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.keyType, "type", "t", "rsa", "key type: rsa, ed25519, ecdsa or dsa")
	cmd.Flags().IntVarP(&opts.bits, "bits", "b", 0, "key size in bits (0 selects the default)")
	cmd.Flags().StringVarP(&opts.comment, "comment", "C", "", "public key comment")
	cmd.Flags().StringVar(&opts.passphraseEnv, "passphrase-env", "", "environment variable holding the passphrase")
	cmd.Flags().StringVarP(&opts.out, "out", "f", "", "private key output path")
	cmd.Flags().BoolVar(&opts.native, "native", false, "do not use ssh-keygen")
	cmd.MarkFlagRequired("out")
	return cmd
}

func runKeygen(cmd *cobra.Command, opts keygenOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var passphrase string
	if opts.passphraseEnv != "" {
		v, ok := os.LookupEnv(opts.passphraseEnv)
		if !ok {
			return fmt.Errorf("environment variable %s is not set", opts.passphraseEnv)
		}
		passphrase = v
	}

	gen := sshkeys.NewGenerator(sshkeys.GeneratorConfig{
		KeygenPath:    cfg.KeygenPath,
		KeygenTimeout: cfg.KeygenTimeout,
		DisableKeygen: opts.native,
	})
	kp, err := gen.Generate(cmd.Context(), sshkeys.GenerateRequest{
		KeyType:    sshkeys.KeyType(opts.keyType),
		KeySize:    opts.bits,
		Comment:    opts.comment,
		Passphrase: passphrase,
	})
	if err != nil {
		return err
	}
	if err := sshkeys.SaveKeyPair(opts.out, kp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Generated %s %d-bit key with %s\n", kp.KeyType, kp.KeySize, kp.Backend)
	fmt.Fprintf(out, "Private key: %s\n", opts.out)
	fmt.Fprintf(out, "Public key:  %s.pub\n", opts.out)
	fmt.Fprintf(out, "Fingerprint: %s\n", kp.Fingerprint)
	return nil
}

func newValidateCmd() *cobra.Command {
	var passphraseEnv string
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a private or public key file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			if !strings.Contains(string(blob), "PRIVATE KEY") {
				info, err := sshkeys.ParsePublicKey(blob)
				if err != nil {
					return err
				}
				return enc.Encode(info)
			}

			var passphrase []byte
			if passphraseEnv != "" {
				passphrase = []byte(os.Getenv(passphraseEnv))
			}
			res := sshkeys.ValidatePrivateKeyWithPassphrase(blob, passphrase)
			if err := enc.Encode(res); err != nil {
				return err
			}
			if res.Status == sshkeys.StatusMalformed {
				return fmt.Errorf("%s: %s", args[0], res.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&passphraseEnv, "passphrase-env", "", "environment variable holding the passphrase")
	return cmd
}

func newLogsCmd() *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the tail of the server log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if lines <= 0 {
				lines = 200
			}
			content, err := logging.ReadTail(cfg.ResolvedLogPath(), lines)
			if err != nil {
				return err
			}
			if content != "" {
				fmt.Fprintln(cmd.OutOrStdout(), content)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 200, "number of lines")
	return cmd
}
