package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rsclarke/echohook/internal/types"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage API tokens",
}

var tokenCreateFlags struct {
	clientConfig
	name        string
	description string
	expiresIn   int
	dailyQuota  int
	json        bool
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue a new API token",
	Long: `Issue a new API token. Requires the server's admin key.

The token secret is printed once and cannot be recovered later.`,
	Args: cobra.NoArgs,
	RunE: runTokenCreate,
}

var tokenListFlags struct {
	clientConfig
	json bool
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API tokens with masked secrets",
	Args:  cobra.NoArgs,
	RunE:  runTokenList,
}

var tokenDeleteFlags struct {
	clientConfig
}

var tokenDeleteCmd = &cobra.Command{
	Use:   "delete <token-id>",
	Short: "Delete an API token",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenDelete,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenCreateCmd, tokenListCmd, tokenDeleteCmd)

	addAdminFlags(tokenCreateCmd, &tokenCreateFlags.clientConfig)
	tokenCreateCmd.Flags().StringVar(&tokenCreateFlags.name, "name", "", "token name")
	tokenCreateCmd.Flags().StringVar(&tokenCreateFlags.description, "description", "", "token description")
	tokenCreateCmd.Flags().IntVar(&tokenCreateFlags.expiresIn, "expires-in", 0, "days until the token expires (0 for never)")
	tokenCreateCmd.Flags().IntVar(&tokenCreateFlags.dailyQuota, "daily-quota", 0, "requests allowed per UTC day (0 for the server default)")
	tokenCreateCmd.Flags().BoolVar(&tokenCreateFlags.json, "json", false, "print the raw JSON response")

	addClientFlags(tokenListCmd, &tokenListFlags.clientConfig)
	tokenListCmd.Flags().BoolVar(&tokenListFlags.json, "json", false, "print the raw JSON response")

	addClientFlags(tokenDeleteCmd, &tokenDeleteFlags.clientConfig)
}

func runTokenCreate(cmd *cobra.Command, args []string) error {
	c, err := tokenCreateFlags.newAdminClient()
	if err != nil {
		return err
	}

	req := types.CreateTokenRequest{
		Name:        tokenCreateFlags.name,
		Description: tokenCreateFlags.description,
	}
	if tokenCreateFlags.expiresIn > 0 {
		req.ExpiresIn = types.DaysOf(tokenCreateFlags.expiresIn)
	}
	if cmd.Flags().Changed("daily-quota") {
		req.DailyQuota = &tokenCreateFlags.dailyQuota
	}

	tok, err := c.CreateToken(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if tokenCreateFlags.json {
		return printJSON(out, tok)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	fmt.Fprintln(out)
	green.Fprintf(out, "  Token created\n")
	fmt.Fprintf(out, "  ID:       %s\n", tok.ID)
	fmt.Fprintf(out, "  Name:     %s\n", tok.Name)
	fmt.Fprintf(out, "  Expires:  %s\n", formatTimePtr(tok.ExpiresAt))
	fmt.Fprintf(out, "  Token:    %s\n", tok.Token)
	fmt.Fprintln(out)
	yellow.Fprintf(out, "  Save this token now; it will not be shown again.\n\n")
	return nil
}

func runTokenList(cmd *cobra.Command, args []string) error {
	c, err := tokenListFlags.newClient()
	if err != nil {
		return err
	}

	list, err := c.ListTokens(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if tokenListFlags.json {
		return printJSON(out, list)
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No tokens found.")
		return nil
	}

	t := newTable(out, "API Tokens", "ID", "NAME", "TOKEN", "CREATED", "LAST USED", "EXPIRES", "ACTIVE")
	for _, tok := range list {
		t.row(tok.ID, truncate(tok.Name, 24), tok.Token,
			formatTime(tok.CreatedAt), formatTimePtr(tok.LastUsedAt), formatTimePtr(tok.ExpiresAt),
			fmt.Sprintf("%t", tok.IsActive))
	}
	t.flush()
	return nil
}

func runTokenDelete(cmd *cobra.Command, args []string) error {
	c, err := tokenDeleteFlags.newClient()
	if err != nil {
		return err
	}

	if err := c.DeleteToken(cmd.Context(), args[0]); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Token %s deleted.\n", args[0])
	return nil
}
