package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/Jeffreasy/LaventeCareMailer/internal/crypto"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "keygen",
		Short:        "Generate secrets for .env.local",
		SilenceUsage: true,
	}

	var bits int
	jwtCmd := &cobra.Command{
		Use:   "jwt",
		Short: "Generate an RSA private key for signing access tokens",
		RunE: func(cmd *cobra.Command, _ []string) error {
			privateKey, err := rsa.GenerateKey(rand.Reader, bits)
			if err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}
			privPEM := pem.EncodeToMemory(&pem.Block{
				Type:  "RSA PRIVATE KEY",
				Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
			})

			cmd.Println("--- COPY BELOW TO .env.local ---")
			cmd.Printf("JWT_PRIVATE_KEY=\"%s\"\n", string(privPEM))
			cmd.Println("--------------------------------")
			return nil
		},
	}
	jwtCmd.Flags().IntVar(&bits, "bits", 2048, "RSA key size")

	secretCmd := &cobra.Command{
		Use:   "secret",
		Short: "Generate a SECRET_KEY for the credential vault",
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, err := crypto.GenerateSecret()
			if err != nil {
				return err
			}
			cmd.Println("--- COPY BELOW TO .env.local ---")
			cmd.Printf("SECRET_KEY=%s\n", secret)
			cmd.Println("--------------------------------")
			cmd.Println("Changing SECRET_KEY later makes stored app passwords undecryptable.")
			return nil
		},
	}

	root.AddCommand(jwtCmd, secretCmd)
	root.SetOut(os.Stdout)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
