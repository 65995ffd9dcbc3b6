// NeuroX OMS — file-state risk governor and order-management control plane.
//
// Main CLI entrypoint using cobra command framework. Every stage of the
// pipeline is also exposed as a standalone command so operators can run
// and inspect one piece at a time against the shared state directory.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/neuroxhq/neurox-oms/internal/alert"
	"github.com/neuroxhq/neurox-oms/internal/broker"
	"github.com/neuroxhq/neurox-oms/internal/config"
	"github.com/neuroxhq/neurox-oms/internal/gateway"
	"github.com/neuroxhq/neurox-oms/internal/journal"
	"github.com/neuroxhq/neurox-oms/internal/ledger"
	"github.com/neuroxhq/neurox-oms/internal/marketdata"
	"github.com/neuroxhq/neurox-oms/internal/oms"
	"github.com/neuroxhq/neurox-oms/internal/pipeline"
	"github.com/neuroxhq/neurox-oms/internal/portfolio"
	"github.com/neuroxhq/neurox-oms/internal/risk"
	"github.com/neuroxhq/neurox-oms/internal/state"
	"github.com/neuroxhq/neurox-oms/pkg/models"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "neurox",
	Short: "NeuroX OMS — file-state risk governor for options trading",
	Long: `NeuroX OMS
A risk-governed order-management pipeline for defined-risk option
verticals. All stages communicate through JSON files in a shared state
directory; every command here runs one stage (or the whole tick) and
prints the state it wrote.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; real deployments use environment variables.
		_ = godotenv.Load()

		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			cfg.Logging.Level = lvl
		}
		setupLogging(cfg.Logging)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(deriskLoopCmd)
	rootCmd.AddCommand(marketRefreshCmd)
	rootCmd.AddCommand(bookCmd)
	rootCmd.AddCommand(greeksCmd)
	rootCmd.AddCommand(riskEvalCmd)
	rootCmd.AddCommand(deriskPlanCmd)
	rootCmd.AddCommand(deriskExecCmd)
	rootCmd.AddCommand(deallocCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(omsOpenCmd)
	rootCmd.AddCommand(omsOpenExecCmd)
	rootCmd.AddCommand(omsCloseCmd)
	rootCmd.AddCommand(omsVerticalCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(riskModeCmd)
}

func setupLogging(lc config.LoggingConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(lc.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if lc.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// openStore opens the configured state directory.
func openStore() (*state.Store, error) {
	return state.NewStore(cfg.State.Dir)
}

// openModes opens the store plus an initialized risk-mode file.
func openModes() (*state.Store, *risk.ModeStore, error) {
	store, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	modes := risk.NewModeStore(store)
	if err := modes.Ensure(); err != nil {
		return nil, nil, err
	}
	return store, modes, nil
}

// printJSON renders a stage result on stdout for the operator.
func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("NeuroX OMS %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and the current state-directory snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, modes, err := openModes()
		if err != nil {
			return err
		}

		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  NeuroX OMS — System Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:     %s (%s)\n", version, commit)
		fmt.Printf("  State dir:   %s\n", cfg.State.Dir)
		fmt.Printf("  Broker mode: %s\n", cfg.Broker.ExecMode())
		fmt.Printf("  Live orders: %v\n", cfg.Broker.AllowLiveOrders)
		fmt.Println()

		rm := modes.Get()
		fmt.Printf("  Risk mode:   %s", rm.Mode)
		if rm.Reason != "" {
			fmt.Printf(" (%s)", rm.Reason)
		}
		fmt.Println()
		fmt.Printf("  Limits:      delta %.0f / gamma %.0f / vega %.0f\n",
			cfg.Risk.MaxAbsDelta, cfg.Risk.MaxAbsGamma, cfg.Risk.MaxAbsVega)
		fmt.Println()

		fmt.Println("  State files:")
		for _, name := range []string{
			state.FileMarket, state.FileBook, state.FileGreeks,
			state.FileRiskEval, state.FileGateOut, state.FileOpenIntent,
			state.FileCloseIntent, state.FileOpenOrders, state.FileTickState,
		} {
			mark := "absent"
			if store.Exists(name) {
				mark = "present"
			}
			fmt.Printf("    %-24s %s\n", name, mark)
		}
		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}

// --- Tick Command ---

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one full pipeline pass under the tick lock",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := pipeline.New(*cfg)
		if err != nil {
			return err
		}
		out, err := p.Tick()
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

// --- De-risk Loop Command ---

var deriskLoopCmd = &cobra.Command{
	Use:   "derisk-loop",
	Short: "Iterate greeks, eval, plan, exec and close until the mode leaves HALT",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := pipeline.New(*cfg)
		if err != nil {
			return err
		}
		rounds, err := p.DeriskLoop()
		if err != nil {
			return err
		}
		return printJSON(rounds)
	},
}

// --- Market Refresh Command ---

var marketRefreshCmd = &cobra.Command{
	Use:   "market-refresh [symbols...]",
	Short: "Pull underlier quotes into market_state.json",
	Long: `Fetch the latest underlier quotes from the market data API and write
market_state.json. Without arguments the configured gate candidates
decide the symbol set. Use --watch to refresh on an interval.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}

		symbols := args
		if len(symbols) == 0 {
			seen := map[string]bool{}
			for _, c := range cfg.Gate.Candidates {
				if !seen[c.Underlier] {
					seen[c.Underlier] = true
					symbols = append(symbols, c.Underlier)
				}
			}
		}
		if len(symbols) == 0 {
			return fmt.Errorf("no symbols given and no gate candidates configured")
		}

		r := marketdata.NewRefresher(store, cfg.Broker.DataURL, cfg.Broker.BaseURL,
			cfg.Broker.APIKey, cfg.Broker.APISecret,
			time.Duration(cfg.Broker.TimeoutSec)*time.Second)

		watch, _ := cmd.Flags().GetDuration("watch")
		if watch > 0 {
			log.Info().Strs("symbols", symbols).Dur("interval", watch).Msg("Market refresh loop started")
			return r.Run(cmd.Context(), symbols, watch)
		}

		ms, err := r.Refresh(context.Background(), symbols)
		if err != nil {
			return err
		}
		return printJSON(ms)
	},
}

func init() {
	marketRefreshCmd.Flags().Duration("watch", 0, "refresh continuously on this interval (e.g. 30s)")
}

// --- Book Command ---

var bookCmd = &cobra.Command{
	Use:   "book",
	Short: "Rebuild positions_book.json from the fills ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		book, err := ledger.New(store).BuildBook()
		if err != nil {
			return err
		}
		return printJSON(book)
	},
}

// --- Greeks Command ---

var greeksCmd = &cobra.Command{
	Use:   "greeks",
	Short: "Price the book and write portfolio_greeks.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		b := portfolio.NewBuilder(store, cfg.Risk.RiskFreeRate, cfg.Risk.DefaultIV)
		greeks, err := b.Build()
		if err != nil {
			return err
		}
		return printJSON(greeks)
	},
}

// --- Risk Eval Command ---

var riskEvalCmd = &cobra.Command{
	Use:   "risk-eval",
	Short: "Evaluate portfolio greeks against the hard limits",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, modes, err := openModes()
		if err != nil {
			return err
		}
		ev, err := risk.NewEvaluator(store, modes, cfg.Risk.Limits()).Evaluate()
		if err != nil {
			return err
		}
		return printJSON(ev)
	},
}

// --- De-risk Plan Command ---

var deriskPlanCmd = &cobra.Command{
	Use:   "derisk-plan",
	Short: "Build the reduce-only close plan from the greeks snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		p := risk.NewPlanner(store, cfg.Risk.Limits(), cfg.Risk.BufferPct, cfg.Risk.MaxContractsToClose)
		plan, err := p.Plan()
		if err != nil {
			return err
		}
		return printJSON(plan)
	},
}

// --- De-risk Exec Command ---

var deriskExecCmd = &cobra.Command{
	Use:   "derisk-exec",
	Short: "Turn the de-risk plan into a close intent (or clear a stale one)",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		out, err := risk.NewExecutor(store).Execute()
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

// --- Dealloc Command ---

var deallocCmd = &cobra.Command{
	Use:   "dealloc [long-symbol] [short-symbol] [qty]",
	Short: "Size a pending vertical down to what the limits can absorb",
	Long: `Headroom-based deallocation: compute how many spreads of the pending
vertical the remaining greek headroom allows, write dealloc_plan.json,
and downgrade the risk mode when the answer is less than requested.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		qty, err := strconv.Atoi(args[2])
		if err != nil || qty <= 0 {
			return fmt.Errorf("qty must be a positive integer, got %q", args[2])
		}
		store, modes, err := openModes()
		if err != nil {
			return err
		}
		d := risk.NewDeallocator(store, modes, cfg.Risk.Limits())
		plan, err := d.Size(args[0], args[1], qty)
		if err != nil {
			return err
		}
		return printJSON(plan)
	},
}

// --- Gateway Command ---

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the pre-trade gate over the configured candidates",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		g := gateway.New(store, cfg.Gate.MaxUnderlierSpreadPct,
			cfg.Risk.AccountEquity, cfg.Risk.MaxDefinedRiskPct, cfg.Risk.RiskFreeRate)

		intents := make(map[string]models.VerticalIntent, len(cfg.Gate.Candidates))
		for _, c := range cfg.Gate.Candidates {
			intents[c.Name] = models.VerticalIntent{
				Underlier:    c.Underlier,
				IsCall:       c.IsCall,
				KLong:        c.KLong,
				KShort:       c.KShort,
				DTEDays:      c.DTEDays,
				QtyRequested: c.QtyRequested,
				R:            cfg.Risk.RiskFreeRate,
				IVLong:       c.IVLong,
				IVShort:      c.IVShort,
				Tag:          c.Tag,
			}
		}
		out, err := g.Evaluate(intents)
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

// --- OMS Open Command ---

var omsOpenCmd = &cobra.Command{
	Use:   "oms-open",
	Short: "Pick the best allowed gate candidate and issue an open intent",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, modes, err := openModes()
		if err != nil {
			return err
		}
		st, err := oms.NewIssuer(store, modes, cfg.Broker.ExecMode()).Issue()
		if err != nil {
			return err
		}
		return printJSON(st)
	},
}

// --- OMS Open Exec Command ---

var omsOpenExecCmd = &cobra.Command{
	Use:   "oms-open-exec",
	Short: "Consume the open intent through the broker boundary",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		mode := cfg.Broker.ExecMode()
		var brk broker.Broker
		if mode == models.Live {
			brk = broker.NewLive(cfg.Broker)
		} else {
			brk = broker.NewPlanOnly()
		}
		e := oms.NewOpenExecutor(store, journal.New(store), brk, mode != models.Live)
		st, err := e.Execute()
		if err != nil {
			return err
		}
		return printJSON(st)
	},
}

// --- OMS Close Command ---

var omsCloseCmd = &cobra.Command{
	Use:   "oms-close",
	Short: "Apply the close intent to the book under the reduce-only rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, modes, err := openModes()
		if err != nil {
			return err
		}
		c := oms.NewCloser(store, modes, ledger.New(store), cfg.Broker.ExecMode(),
			int64(cfg.OMS.IntentMaxAgeSec))
		st, err := c.Close()
		if err != nil {
			return err
		}
		return printJSON(st)
	},
}

// --- OMS Vertical Command ---

var omsVerticalCmd = &cobra.Command{
	Use:   "oms-vertical",
	Short: "Walk a two-leg open through the fill state machine",
	RunE: func(cmd *cobra.Command, args []string) error {
		longSym, _ := cmd.Flags().GetString("long-symbol")
		shortSym, _ := cmd.Flags().GetString("short-symbol")
		qty, _ := cmd.Flags().GetInt("qty")
		longLimit, _ := cmd.Flags().GetFloat64("long-limit")
		shortLimit, _ := cmd.Flags().GetFloat64("short-limit")
		if longSym == "" || shortSym == "" {
			return fmt.Errorf("--long-symbol and --short-symbol are required")
		}
		if qty <= 0 {
			return fmt.Errorf("--qty must be positive")
		}

		store, modes, err := openModes()
		if err != nil {
			return err
		}
		v := oms.NewVertical(store, modes, ledger.New(store), cfg.Broker.ExecMode(),
			int64(cfg.OMS.FillMaxSeconds))
		snap, err := v.Run(
			models.VerticalLeg{Symbol: longSym, Qty: qty, Limit: longLimit},
			models.VerticalLeg{Symbol: shortSym, Qty: qty, Limit: shortLimit},
		)
		if err != nil {
			return err
		}
		return printJSON(snap)
	},
}

func init() {
	omsVerticalCmd.Flags().String("long-symbol", "", "OCC symbol of the long leg")
	omsVerticalCmd.Flags().String("short-symbol", "", "OCC symbol of the short leg")
	omsVerticalCmd.Flags().Int("qty", 1, "contracts per leg")
	omsVerticalCmd.Flags().Float64("long-limit", 0, "limit price for the long leg")
	omsVerticalCmd.Flags().Float64("short-limit", 0, "limit price for the short leg")
}

// --- Poll Command ---

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Reconcile tracked orders against the broker and alert on changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		notifier, err := alert.NewNotifier(cfg.Alerts)
		if err != nil {
			return err
		}

		mode := cfg.Broker.ExecMode()
		// Order status lives at the broker regardless of execution mode;
		// plan-only setups poll the paper endpoint.
		reader := broker.NewLive(cfg.Broker)
		p := oms.NewPoller(store, journal.New(store), reader, notifier,
			mode, cfg.OMS.OrderTagPrefix, mode != models.Live)
		st, err := p.Poll(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(st)
	},
}

// --- Risk Mode Command ---

var riskModeCmd = &cobra.Command{
	Use:   "risk-mode [NORMAL|DEGRADED|HALT] [reason]",
	Short: "Show or set the shared risk mode",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, modes, err := openModes()
		if err != nil {
			return err
		}
		if len(args) == 0 {
			return printJSON(modes.Get())
		}

		mode := models.RiskMode(strings.ToUpper(args[0]))
		switch mode {
		case models.ModeNormal, models.ModeDegraded, models.ModeHalt:
		default:
			return fmt.Errorf("unknown risk mode %q", args[0])
		}
		reason := "OPERATOR_OVERRIDE"
		if len(args) == 2 {
			reason = args[1]
		}
		if err := modes.Set(mode, reason); err != nil {
			return err
		}
		return printJSON(modes.Get())
	},
}
