package main

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/onedrived/onedrived/internal/config"
	"github.com/onedrived/onedrived/internal/drive"
)

func newAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize access to your account",
		Long: "Prints an authorization URL to open in a browser, then exchanges " +
			"the pasted redirect URL for credentials stored in the config directory.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAuth(cmd)
		},
	}
}

func runAuth(cmd *cobra.Command) error {
	dir := config.Dir()
	if err := config.CheckConfigDir(dir); err != nil {
		return err
	}

	oauthCfg := drive.NewOAuthConfig()
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Open this URL in a browser and sign in:\n\n  %s\n\n",
		oauthCfg.AuthCodeURL("", oauth2.AccessTypeOffline))
	fmt.Fprint(out, "After signing in, paste the full URL of the page you were redirected to:\n> ")

	reader := bufio.NewReader(cmd.InOrStdin())

	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading redirect URL: %w", err)
	}

	code, err := extractAuthCode(strings.TrimSpace(line))
	if err != nil {
		return err
	}

	tok, err := oauthCfg.Exchange(context.Background(), code)
	if err != nil {
		return fmt.Errorf("exchanging authorization code: %w", err)
	}

	path := config.TokenPath(dir)
	if err := drive.SaveToken(path, tok); err != nil {
		return err
	}

	fmt.Fprintf(out, "Credentials saved to %s\n", path)

	return nil
}

// extractAuthCode pulls the authorization code out of a pasted redirect
// URL. A bare code is accepted too.
func extractAuthCode(input string) (string, error) {
	if input == "" {
		return "", fmt.Errorf("empty redirect URL")
	}

	if !strings.Contains(input, "://") {
		return input, nil
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("parsing redirect URL: %w", err)
	}

	code := u.Query().Get("code")
	if code == "" {
		return "", fmt.Errorf("redirect URL carries no authorization code")
	}

	return code, nil
}
