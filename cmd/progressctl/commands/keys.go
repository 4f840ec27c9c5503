package commands

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alem-hub/shadow-ranch/config"
	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
	httpserver "github.com/alem-hub/shadow-ranch/internal/interface/http"
)

func newKeygenCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ed25519 key for a development authority",
		Long: `Generate an ed25519 key pair and write the hex-encoded seed to --out.

The printed authority is the base58 public key that owns records created
with tokens signed by this key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			seed := make([]byte, ed25519.SeedSize)
			if _, err := rand.Read(seed); err != nil {
				return printError("Cannot generate key", err.Error(), nil)
			}

			if err := os.WriteFile(outPath, []byte(hex.EncodeToString(seed)+"\n"), 0o600); err != nil {
				return printError("Cannot write key file", err.Error(), nil)
			}

			authority, err := authorityOf(ed25519.NewKeyFromSeed(seed))
			if err != nil {
				return printError("Cannot derive authority", err.Error(), nil)
			}

			out := cmd.OutOrStdout()
			printSuccess(out, "wrote seed to %s", outPath)
			fmt.Fprintln(out, authority.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "authority.key", "file to write the hex-encoded seed to")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		keyPath  string
		audience string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a request token for the HTTP API",
		Long: `Sign a short-lived EdDSA request token with the key in --key.

Use the printed token as "Authorization: Bearer <token>". The audience
defaults to AUTH_AUDIENCE.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := readKey(keyPath)
			if err != nil {
				return printError("Cannot read key", err.Error(),
					[]string{"Create one with `progressctl keygen --out " + keyPath + "`."})
			}

			if audience == "" {
				cfg, err := config.Load()
				if err != nil {
					return printError("Invalid configuration", err.Error(),
						[]string{"Pass --audience explicitly."})
				}
				audience = cfg.Auth.Audience
			}

			token, err := httpserver.SignRequestToken(key, audience, ttl, time.Now())
			if err != nil {
				return printError("Cannot sign token", err.Error(), nil)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&keyPath, "key", "authority.key", "file with the hex-encoded ed25519 seed")
	cmd.Flags().StringVar(&audience, "audience", "", "token audience (default AUTH_AUDIENCE)")
	cmd.Flags().DurationVar(&ttl, "ttl", 5*time.Minute, "token lifetime")
	return cmd
}

// readKey loads a hex-encoded ed25519 seed.
func readKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func authorityOf(key ed25519.PrivateKey) (progress.Authority, error) {
	return progress.AuthorityFromPublicKey(key.Public().(ed25519.PublicKey))
}
