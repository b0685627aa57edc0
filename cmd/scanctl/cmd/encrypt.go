package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/repohawk/scanner/pkg/crypto"
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt a credential for storage",
	Long: `Encrypt a credential with the server's encryption key.

The secret is read from stdin so it never lands in shell history. The
key is taken from APP_ENCRYPTION_KEY or APP_ENCRYPTION_PASSPHRASE and
APP_ENCRYPTION_SALT, the same variables the server reads. The output
carries the storage prefix and can be inserted into the credentials
table directly.`,
	RunE: runEncrypt,
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	enc, err := encryptorFromEnv()
	if err != nil {
		return err
	}

	if flagVerbose {
		fmt.Fprintln(os.Stderr, "Reading secret from stdin...")
	}
	reader := bufio.NewReader(os.Stdin)
	secret, err := reader.ReadString('\n')
	if err != nil && secret == "" {
		return fmt.Errorf("read secret: %w", err)
	}
	secret = strings.TrimRight(secret, "\r\n")
	if secret == "" {
		return fmt.Errorf("empty secret")
	}

	sealed, err := crypto.Seal(enc, secret)
	if err != nil {
		return fmt.Errorf("encrypt secret: %w", err)
	}

	fmt.Println(sealed)
	return nil
}

func encryptorFromEnv() (crypto.Encryptor, error) {
	if keyHex := os.Getenv("APP_ENCRYPTION_KEY"); keyHex != "" {
		return crypto.NewCipherFromHex(keyHex)
	}
	passphrase := os.Getenv("APP_ENCRYPTION_PASSPHRASE")
	salt := os.Getenv("APP_ENCRYPTION_SALT")
	if passphrase != "" && salt != "" {
		return crypto.NewCipherFromPassphrase(passphrase, salt)
	}
	return nil, fmt.Errorf("set APP_ENCRYPTION_KEY or APP_ENCRYPTION_PASSPHRASE and APP_ENCRYPTION_SALT")
}
