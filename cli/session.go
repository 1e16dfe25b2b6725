// ABOUTME: Session CLI commands
// ABOUTME: Stores the signed-in user, company, gateway URL, and token in the config file
package cli

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/harperreed/vendas/config"
	"golang.org/x/term"
)

// SessionSetCommand saves the session to the config at path. The token is
// read from the terminal without echo, or from the first line of stdin when
// stdin is not a terminal.
func SessionSetCommand(cfg *config.Config, path string, args []string, stdin *os.File, out io.Writer) error {
	fs := flag.NewFlagSet("session set", flag.ExitOnError)
	user := fs.String("user", "", "User ID (required)")
	name := fs.String("name", "", "Display name")
	company := fs.String("company", "", "Company ID (required)")
	role := fs.String("role", "SELLER", "Role (SELLER, MANAGER)")
	sellerCode := fs.String("seller-code", "", "Seller code on the ERP")
	gatewayURL := fs.String("gateway", "", "Gateway base URL")
	noToken := fs.Bool("no-token", false, "Keep the stored token")
	_ = fs.Parse(args)

	if *user == "" {
		return fmt.Errorf("--user is required")
	}
	if *company == "" {
		return fmt.Errorf("--company is required")
	}

	cfg.Session.UserID = *user
	cfg.Session.UserName = *name
	cfg.Session.CompanyID = *company
	cfg.Session.Role = strings.ToUpper(*role)
	cfg.Session.SellerCode = *sellerCode
	if *gatewayURL != "" {
		cfg.GatewayURL = strings.TrimRight(*gatewayURL, "/")
	}

	if !*noToken {
		token, err := readToken(stdin, out)
		if err != nil {
			return err
		}
		cfg.Token = token
	}

	if err := config.SaveTo(path, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	_, _ = fmt.Fprintf(out, "✓ Session saved for %s (%s)\n", cfg.Session.UserID, cfg.Session.CompanyID)
	_, _ = fmt.Fprintf(out, "  Gateway: %s\n", cfg.GatewayURL)
	return nil
}

func readToken(stdin *os.File, out io.Writer) (string, error) {
	fd := int(stdin.Fd())
	if term.IsTerminal(fd) {
		_, _ = fmt.Fprint(out, "Gateway token: ")
		raw, err := term.ReadPassword(fd)
		_, _ = fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return "", fmt.Errorf("no token on stdin")
	}
	return token, nil
}

// SessionShowCommand prints the stored session without the token.
func SessionShowCommand(cfg *config.Config, out io.Writer) error {
	if !cfg.HasSession() {
		_, _ = fmt.Fprintln(out, "No session configured.")
		return nil
	}
	s := cfg.Session
	_, _ = fmt.Fprintf(out, "User:    %s %s\n", s.UserID, s.UserName)
	_, _ = fmt.Fprintf(out, "Company: %s\n", s.CompanyID)
	_, _ = fmt.Fprintf(out, "Role:    %s\n", s.Role)
	_, _ = fmt.Fprintf(out, "Gateway: %s\n", cfg.GatewayURL)
	_, _ = fmt.Fprintf(out, "Token:   %t\n", cfg.Token != "")
	return nil
}
