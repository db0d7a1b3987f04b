package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rsclarke/echohook/internal/types"
)

var binCmd = &cobra.Command{
	Use:   "bin",
	Short: "Manage webhook bins",
}

var binFlags struct {
	clientConfig
	json bool
}

var binEditFlags struct {
	name        string
	description string
}

var binListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bins, newest first",
	Args:  cobra.NoArgs,
	RunE:  runBinList,
}

var binCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a bin",
	Args:  cobra.NoArgs,
	RunE:  runBinCreate,
}

var binGetCmd = &cobra.Command{
	Use:   "get <bin-id>",
	Short: "Show a bin",
	Args:  cobra.ExactArgs(1),
	RunE:  runBinGet,
}

var binUpdateCmd = &cobra.Command{
	Use:   "update <bin-id>",
	Short: "Rename a bin or change its description",
	Long: `Rename a bin or change its description. Only the flags given are
changed; --description "" clears the description.`,
	Args: cobra.ExactArgs(1),
	RunE: runBinUpdate,
}

var binDeleteCmd = &cobra.Command{
	Use:   "delete <bin-id>",
	Short: "Delete a bin and all of its captured requests",
	Args:  cobra.ExactArgs(1),
	RunE:  runBinDelete,
}

func init() {
	rootCmd.AddCommand(binCmd)
	binCmd.AddCommand(binListCmd, binCreateCmd, binGetCmd, binUpdateCmd, binDeleteCmd)

	addClientFlags(binCmd, &binFlags.clientConfig)
	binCmd.PersistentFlags().BoolVar(&binFlags.json, "json", false, "print the raw JSON response")

	for _, c := range []*cobra.Command{binCreateCmd, binUpdateCmd} {
		c.Flags().StringVar(&binEditFlags.name, "name", "", "bin name")
		c.Flags().StringVar(&binEditFlags.description, "description", "", "bin description")
	}
}

func runBinList(cmd *cobra.Command, args []string) error {
	c, err := binFlags.newClient()
	if err != nil {
		return err
	}

	bins, err := c.ListBins(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if binFlags.json {
		return printJSON(out, bins)
	}
	if len(bins) == 0 {
		fmt.Fprintln(out, "No bins found.")
		return nil
	}

	t := newTable(out, "Bins", "ID", "NAME", "REQUESTS", "LAST REQUEST", "CREATED")
	for _, b := range bins {
		t.row(b.ID, truncate(b.Name, 32), strconv.Itoa(b.RequestCount),
			formatTimePtr(b.LastRequestAt), formatTime(b.CreatedAt))
	}
	t.flush()
	return nil
}

func runBinCreate(cmd *cobra.Command, args []string) error {
	c, err := binFlags.newClient()
	if err != nil {
		return err
	}

	req := types.CreateBinRequest{Name: binEditFlags.name}
	if cmd.Flags().Changed("description") {
		req.Description = &binEditFlags.description
	}

	bin, err := c.CreateBin(cmd.Context(), req)
	if err != nil {
		return err
	}
	return printBin(cmd.OutOrStdout(), bin, "Bin created")
}

func runBinGet(cmd *cobra.Command, args []string) error {
	c, err := binFlags.newClient()
	if err != nil {
		return err
	}

	bin, err := c.GetBin(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printBin(cmd.OutOrStdout(), bin, "Bin")
}

func runBinUpdate(cmd *cobra.Command, args []string) error {
	c, err := binFlags.newClient()
	if err != nil {
		return err
	}

	var req types.UpdateBinRequest
	if cmd.Flags().Changed("name") {
		req.Name = &binEditFlags.name
	}
	if cmd.Flags().Changed("description") {
		req.Description = &binEditFlags.description
	}
	if req.Name == nil && req.Description == nil {
		return fmt.Errorf("nothing to update (use --name or --description)")
	}

	bin, err := c.UpdateBin(cmd.Context(), args[0], req)
	if err != nil {
		return err
	}
	return printBin(cmd.OutOrStdout(), bin, "Bin updated")
}

func runBinDelete(cmd *cobra.Command, args []string) error {
	c, err := binFlags.newClient()
	if err != nil {
		return err
	}

	if err := c.DeleteBin(cmd.Context(), args[0]); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Bin %s and all its requests deleted.\n", args[0])
	return nil
}

func printBin(out io.Writer, bin *types.BinResponse, title string) error {
	if binFlags.json {
		return printJSON(out, bin)
	}

	cyan := color.New(color.FgCyan)
	desc := "-"
	if bin.Description != nil {
		desc = orDash(*bin.Description)
	}

	fmt.Fprintln(out)
	cyan.Fprintf(out, "  %s\n", title)
	fmt.Fprintf(out, "  ID:            %s\n", bin.ID)
	fmt.Fprintf(out, "  Name:          %s\n", bin.Name)
	fmt.Fprintf(out, "  Description:   %s\n", desc)
	fmt.Fprintf(out, "  Requests:      %d\n", bin.RequestCount)
	fmt.Fprintf(out, "  Last request:  %s\n", formatTimePtr(bin.LastRequestAt))
	fmt.Fprintf(out, "  Created:       %s\n", formatTime(bin.CreatedAt))
	fmt.Fprintf(out, "  Capture URL:   %s\n", orDash(bin.CaptureURL))
	fmt.Fprintln(out)
	return nil
}
