// Command statectl is the State Entity operator CLI: run the server, or
// query a running instance's current root, statechain ids and batch ids.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"stateentity/internal/daemon"
	"stateentity/pkg/config"
)

func main() {
	root := &cobra.Command{Use: "statectl", Short: "operate a State Entity coordinator"}
	root.AddCommand(serverCmd())
	root.AddCommand(rootHashCmd())
	root.AddCommand(statechainsCmd())
	root.AddCommand(batchesCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "run the coordinator (HTTP API + background tickers)",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				logrus.WithError(err).Error("load config")
				os.Exit(daemon.ExitConfigError)
			}
			log := logrus.New()
			log.SetFormatter(&logrus.JSONFormatter{})
			if lvl, lerr := logrus.ParseLevel(cfg.LogLevel); lerr == nil {
				log.SetLevel(lvl)
			}
			os.Exit(daemon.Run(cfg, log))
		},
	}
}

func rootHashCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "root",
		Short: "print the current SMT root",
		Run: func(cmd *cobra.Command, args []string) {
			mustFetch(addr, "/info/root")
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8000", "coordinator base URL")
	return cmd
}

func statechainsCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "statechains",
		Short: "list every statechain id ever opened",
		Run: func(cmd *cobra.Command, args []string) {
			mustFetch(addr, "/info/statechains")
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8000", "coordinator base URL")
	return cmd
}

func batchesCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "list every transfer batch id ever created",
		Run: func(cmd *cobra.Command, args []string) {
			mustFetch(addr, "/info/batches")
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8000", "coordinator base URL")
	return cmd
}

// mustFetch POSTs an empty body to path on a running coordinator and
// prints the response, exiting non-zero on any failure. Every read-only
// /info endpoint accepts POST (spec.md §6), so a bare empty JSON object is
// a valid request body throughout.
func mustFetch(addr, path string) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(addr+path, "application/json", bytes.NewReader([]byte("{}")))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if resp.StatusCode >= 300 {
		fmt.Fprintf(os.Stderr, "%s: %s\n", resp.Status, body)
		os.Exit(1)
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		fmt.Println(pretty.String())
		return
	}
	fmt.Println(string(body))
}
