// Command lipsignal-keygen generates the RS256 keypair the auth
// service signs and verifies access/refresh tokens with (§4.4, §10.3).
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	fsversion "github.com/lipsignal/lipsignal-go/internal/version"
	"github.com/lipsignal/lipsignal-go/internal/securefile"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const rsaKeyBits = 2048

type ready struct {
	Version        string `json:"version"`
	Commit         string `json:"commit"`
	Date           string `json:"date"`
	PrivateKeyFile string `json:"private_key_file"`
	PublicKeyFile  string `json:"public_key_file"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	showVersion := false
	outDir := "."
	privFile := ""
	pubFile := ""
	overwrite := false

	fs := flag.NewFlagSet("lipsignal-keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVar(&outDir, "out-dir", outDir, "output directory for generated key files")
	fs.StringVar(&privFile, "private-key-file", privFile, "output file for the RSA private key (default: <out-dir>/jwt_private_key.pem)")
	fs.StringVar(&pubFile, "public-key-file", pubFile, "output file for the RSA public key (default: <out-dir>/jwt_public_key.pem)")
	fs.BoolVar(&overwrite, "overwrite", false, "overwrite existing files")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if showVersion {
		_, _ = fmt.Fprintln(stdout, fsversion.String(version, commit, date))
		return 0
	}

	outDir = strings.TrimSpace(outDir)
	if outDir == "" {
		outDir = "."
	}
	if privFile == "" {
		privFile = filepath.Join(outDir, "jwt_private_key.pem")
	} else if !filepath.IsAbs(privFile) {
		privFile = filepath.Join(outDir, privFile)
	}
	if pubFile == "" {
		pubFile = filepath.Join(outDir, "jwt_public_key.pem")
	} else if !filepath.IsAbs(pubFile) {
		pubFile = filepath.Join(outDir, pubFile)
	}

	if !overwrite {
		if fileExists(privFile) {
			fmt.Fprintf(stderr, "refusing to overwrite existing file: %s (use --overwrite)\n", privFile)
			return 2
		}
		if fileExists(pubFile) {
			fmt.Fprintf(stderr, "refusing to overwrite existing file: %s (use --overwrite)\n", pubFile)
			return 2
		}
	}

	if err := securefile.MkdirAllOwnerOnly(outDir); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubBytes,
	})

	if err := securefile.WriteFileAtomic(privFile, privPEM, 0o600); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if err := securefile.WriteFileAtomic(pubFile, pubPEM, 0o644); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	out := ready{
		Version:        version,
		Commit:         commit,
		Date:           date,
		PrivateKeyFile: privFile,
		PublicKeyFile:  pubFile,
	}
	_ = json.NewEncoder(stdout).Encode(out)
	return 0
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
