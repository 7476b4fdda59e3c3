package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"userboard.io/internal/keys"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	switch os.Args[1] {
	case "generate":
		runGenerate()
	case "check":
		runCheck()
	default:
		usage()
	}
}

// runGenerate writes private.pem and public.pem into the target directory.
func runGenerate() {
	if len(os.Args) < 3 {
		usage()
	}
	dir := os.Args[2]
	bits := 2048
	if len(os.Args) > 3 {
		n, err := strconv.Atoi(os.Args[3])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid key size %q\n", os.Args[3])
			os.Exit(1)
		}
		bits = n
	}

	material, err := keys.Generate(bits)
	if err != nil {
		fail("generate", err)
	}
	privatePEM, publicPEM, err := material.EncodePEM()
	if err != nil {
		fail("encode", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		fail("create dir", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "private.pem"), privatePEM, 0o600); err != nil {
		fail("write private key", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "public.pem"), publicPEM, 0o644); err != nil {
		fail("write public key", err)
	}
	fmt.Printf("generated %d-bit key pair in %s (kid %s)\n", bits, dir, material.KeyID())
}

// runCheck loads a key pair the same way the API does.
func runCheck() {
	if len(os.Args) < 4 {
		usage()
	}
	material, err := keys.Load(os.Args[2], os.Args[3])
	if err != nil {
		fail("load", err)
	}
	fmt.Printf("key pair OK (kid %s)\n", material.KeyID())
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "%s failed: %v\n", step, err)
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s generate <dir> [bits] | check <private.pem> <public.pem>\n", os.Args[0])
	os.Exit(1)
}
