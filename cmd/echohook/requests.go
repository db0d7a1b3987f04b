package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rsclarke/echohook/internal/client"
)

var requestsFlags struct {
	clientConfig
	json bool
}

var requestsCmd = &cobra.Command{
	Use:   "requests <bin-id>",
	Short: "List requests captured by a bin",
	Long:  `List the requests captured by a bin, most recent first.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRequests,
}

var sendFlags struct {
	apiURL      string
	method      string
	contentType string
	data        string
}

var sendCmd = &cobra.Command{
	Use:   "send <bin-id>",
	Short: "Deliver a test webhook to a bin",
	Long: `Deliver a test webhook to a bin. The body is taken from --data, or
read from stdin when --data is "-".`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(requestsCmd, sendCmd)

	addClientFlags(requestsCmd, &requestsFlags.clientConfig)
	requestsCmd.Flags().BoolVar(&requestsFlags.json, "json", false, "print the raw JSON response")

	sendCmd.Flags().StringVar(&sendFlags.apiURL, "api-url", getEnv("ECHOHOOK_API_URL", defaultAPIURL), "API server URL")
	sendCmd.Flags().StringVarP(&sendFlags.method, "method", "X", "POST", "HTTP method")
	sendCmd.Flags().StringVarP(&sendFlags.contentType, "content-type", "H", "application/json", "Content-Type header")
	sendCmd.Flags().StringVarP(&sendFlags.data, "data", "d", "", "request body")
}

func runRequests(cmd *cobra.Command, args []string) error {
	c, err := requestsFlags.newClient()
	if err != nil {
		return err
	}

	reqs, err := c.ListRequests(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if requestsFlags.json {
		return printJSON(out, reqs)
	}
	if len(reqs) == 0 {
		fmt.Fprintln(out, "No requests captured.")
		return nil
	}

	t := newTable(out, "Captured Requests", "RECEIVED", "METHOD", "IP", "CONTENT TYPE", "SIZE", "ID")
	for _, r := range reqs {
		t.row(formatTime(r.ReceivedAt), r.Method, orDash(r.IPAddress),
			orDash(truncate(r.ContentType, 32)), strconv.Itoa(r.ContentLength), r.ID)
	}
	t.flush()
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	body := []byte(sendFlags.data)
	if sendFlags.data == "-" {
		var err error
		body, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	}

	c := client.NewClient(sendFlags.apiURL, "")
	resp, err := c.Send(cmd.Context(), args[0], sendFlags.method, sendFlags.contentType, body)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s (request %s)\n", resp.Message, resp.RequestID)
	return nil
}
