package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/turnkeeper/internal/fanout"
	"github.com/mohammad-safakhou/turnkeeper/internal/history"
	"github.com/mohammad-safakhou/turnkeeper/internal/orchestrator"
	"github.com/mohammad-safakhou/turnkeeper/internal/server"
	"github.com/mohammad-safakhou/turnkeeper/internal/toolserver"
	"github.com/mohammad-safakhou/turnkeeper/internal/transport"
	"github.com/mohammad-safakhou/turnkeeper/internal/turn"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func serveCMD(cfgPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Server.Address
			}
			e := server.New(server.Deps{Orch: orch, Metrics: a.metrics, Logger: a.logger})
			return server.Run(ctx, e, addr, a.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.address)")
	return cmd
}

func askCMD(cfgPath *string) *cobra.Command {
	var intent string
	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Run one query through the orchestrator and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			req := orchestrator.Request{Query: strings.Join(args, " ")}
			if intent != "" {
				if req.Intent, err = orchestrator.ParseIntent(intent); err != nil {
					return err
				}
			}
			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			res, err := orch.Handle(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), server.NewQueryResponse(res))
		},
	}
	cmd.Flags().StringVar(&intent, "intent", "", "search, summarize or conversation_query (default: resolved by the model)")
	return cmd
}

func historyCMD(cfgPath *string) *cobra.Command {
	var (
		search string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the turn log, or search it with --search",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			turns, err := loadTurns(cmd.Context(), a)
			if err != nil {
				return err
			}
			if search == "" {
				return printJSON(cmd.OutOrStdout(), server.TurnViews(turns))
			}
			hits, err := history.Search(turns, search, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), hits)
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "full-text query over queries and outputs")
	cmd.Flags().IntVar(&limit, "k", history.DefaultLimit, "maximum number of hits")
	return cmd
}

// loadTurns reads the log without taking the store lock.
func loadTurns(ctx context.Context, a *app) ([]turn.Turn, error) {
	g, err := a.guarded(ctx)
	if err != nil {
		return nil, err
	}
	return g.Snapshot(ctx)
}

func toolsCMD(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "tools [search|summary]...",
		Short:     "Run the JSON-RPC tool services (both when none is named)",
		ValidArgs: []string{"search", "summary"},
		Args:      cobra.OnlyValidArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			if len(args) == 0 {
				args = []string{"search", "summary"}
			}
			tc := a.cfg.ToolServer
			g, ctx := errgroup.WithContext(ctx)
			for _, name := range args {
				var (
					e    *echo.Echo
					addr string
				)
				switch name {
				case "search":
					serper := toolserver.NewSerper(tc.SerperKeyOrEnv(), tc.SerperURL, tc.Results, transport.NewHTTPClient(0, 2, 0))
					e, addr = toolserver.NewSearchServer(serper, a.logger).Echo(), tc.SearchAddress
				case "summary":
					condenser := toolserver.NewCondenser(a.completer(), a.cfg.LLM.Model)
					e, addr = toolserver.NewSummaryServer(condenser, a.logger).Echo(), tc.SummaryAddress
				}
				logger := a.logger.With().Str("tool", name).Logger()
				g.Go(func() error { return server.Run(ctx, e, addr, logger) })
			}
			return g.Wait()
		},
	}
	return cmd
}

func insightsCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "insights <turn>",
		Short: "Generate technical, research and future-direction insights for a turn without saving them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("turn must be a number: %w", err)
			}
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			turns, err := loadTurns(ctx, a)
			if err != nil {
				return err
			}
			var target *turn.Turn
			for i := range turns {
				if turns[i].Number == number {
					target = &turns[i]
				}
			}
			if target == nil {
				return fmt.Errorf("turn %d not found", number)
			}
			if !target.HasContent() {
				return errors.New("turn has no output to derive insights from")
			}
			fmt.Fprintln(cmd.OutOrStdout(), fanout.ParallelInsights(ctx, a.completer(), target.Content()))
			return nil
		},
	}
}
