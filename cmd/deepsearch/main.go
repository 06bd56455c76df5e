// Command deepsearch runs the deep-research service: an iterative
// plan / search / reflect pipeline that produces cited Markdown reports.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"deepsearch/internal/config"
	"deepsearch/internal/llm"
	"deepsearch/internal/logging"
	"deepsearch/internal/research"
	"deepsearch/internal/scraper"
	"deepsearch/internal/search"
	"deepsearch/internal/server"
	"deepsearch/internal/service"
	"deepsearch/internal/session"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "deepsearch",
		Short:         "Iterative deep-research pipeline with cited reports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	root.AddCommand(serveCmd(), runCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type app struct {
	cfg      config.Config
	svc      *service.Service
	sessions *session.Registry
	monitor  *session.Monitor
}

func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logging.Initialize(cfg.Logging.Level, cfg.Logging.JSONFormat); err != nil {
		return nil, err
	}

	sessions := session.NewRegistry()
	monitor := session.NewMonitor()
	invoker := llm.NewInvoker(cfg.LLM, sessions)
	nodes := research.NewNodes(cfg.Research, cfg.Scrape, invoker,
		search.NewClient(cfg.Search), scraper.New(cfg.Scrape), sessions)
	g, err := research.BuildGraph(nodes)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:      cfg,
		svc:      service.New(g, sessions, monitor),
		sessions: sessions,
		monitor:  monitor,
	}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.monitor.Close()
			defer logging.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := server.New(a.cfg.Server, a.svc, a.sessions, a.monitor)
			logging.Boot("deepsearch %s serving on %s", research.SystemVersion, a.cfg.Server.Addr)
			return srv.ListenAndServe(ctx)
		},
	}
}

func runCmd() *cobra.Command {
	var (
		loops      int
		queryCount int
		format     string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "run <query>",
		Short: "Run one research session and print the report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.monitor.Close()
			defer logging.Sync()

			req := service.Request{
				Query:                   args[0],
				MaxResearchLoops:        loops,
				InitialSearchQueryCount: queryCount,
				ReportFormat:            format,
			}
			if err := req.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			resp, err := a.svc.Run(ctx, "", req)
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(resp)
			}
			fmt.Println(resp.MarkdownReport)
			return nil
		},
	}
	cmd.Flags().IntVar(&loops, "max-loops", 0, "maximum research loops (1-5, 0 = default)")
	cmd.Flags().IntVar(&queryCount, "queries", 0, "initial search query count (1-10, 0 = default)")
	cmd.Flags().StringVar(&format, "format", "", "report format: formal or casual")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response as JSON")
	return cmd
}
