package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/crewctl/crewctl/internal/auth"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the credential injected into agent processes",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in with the OAuth device flow",
	Args:  cobra.NoArgs,
	RunE:  runAuthLogin,
}

var authSetKeyCmd = &cobra.Command{
	Use:   "set-key [api-key]",
	Short: "Use a static API key instead of OAuth",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthSetKey,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored credential",
	Args:  cobra.NoArgs,
	RunE:  runAuthLogout,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active credential",
	Args:  cobra.NoArgs,
	RunE:  runAuthStatus,
}

func init() {
	authCmd.AddCommand(authLoginCmd, authSetKeyCmd, authLogoutCmd, authStatusCmd)
	rootCmd.AddCommand(authCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	mgr, err := newAuthManager(cmd)
	if err != nil {
		return err
	}

	login, err := mgr.StartLogin(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Open %s and enter code %s\n",
		style(styleBoldWhite, login.VerificationURL),
		style(styleBoldCyan, login.UserCode))
	fmt.Println(style(colorDim, "Waiting for authorization..."))

	if err := mgr.CompleteLogin(cmd.Context(), login.DeviceCode, login.ExpiresIn); err != nil {
		if errors.Is(err, auth.ErrDeviceAuthExpired) {
			return fmt.Errorf("the device code expired or was denied; run `crewctl auth login` again")
		}
		return err
	}
	fmt.Printf("%s logged in\n", style(styleBoldGreen, "✓"))
	return nil
}

func runAuthSetKey(cmd *cobra.Command, args []string) error {
	mgr, err := newAuthManager(cmd)
	if err != nil {
		return err
	}
	if err := mgr.SetAPIKey(args[0]); err != nil {
		return err
	}
	fmt.Printf("%s API key stored\n", style(styleBoldGreen, "✓"))
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	mgr, err := newAuthManager(cmd)
	if err != nil {
		return err
	}
	if err := mgr.Logout(); err != nil {
		return err
	}
	fmt.Printf("%s credential removed\n", style(styleBoldGreen, "✓"))
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	mgr, err := newAuthManager(cmd)
	if err != nil {
		return err
	}
	sum := mgr.Summary()
	if sum.Method == "" {
		fmt.Println("Not authenticated. Run `crewctl auth login` or `crewctl auth set-key`.")
		return nil
	}
	fmt.Printf("method: %s\n", style(styleBoldCyan, sum.Method))
	if sum.Detail != "" {
		fmt.Printf("detail: %s\n", sum.Detail)
	}
	if !sum.ExpiresAt.IsZero() {
		remaining := time.Until(sum.ExpiresAt).Round(time.Second)
		state := style(styleBoldGreen, fmt.Sprintf("expires in %s", remaining))
		if remaining <= 0 {
			state = style(styleBoldRed, "expired")
		}
		fmt.Printf("token:  %s\n", state)
	}
	return nil
}
