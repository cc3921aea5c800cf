// Command predictstake-key manages the wallet key used by predictstake:
// encrypting a raw key into a password-protected key file, inspecting key
// files and signing or verifying messages with the wallet.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
