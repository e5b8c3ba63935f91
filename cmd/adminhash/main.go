// Command adminhash prints a bcrypt hash for ADMIN_PASSWORD_HASH. The
// password is read from the first argument or, if absent, from stdin.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/Skufu/veincheck/internal/auth"
)

func main() {
	password, err := readPassword(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "adminhash: %v\n", err)
		os.Exit(1)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "adminhash: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}

func readPassword(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
