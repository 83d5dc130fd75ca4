package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cartpilot/internal/browser"
	"cartpilot/internal/checkout"
	"cartpilot/internal/config"
	"cartpilot/internal/interactive"
	"cartpilot/internal/locale"
	"cartpilot/internal/observability"
	"cartpilot/internal/platform"
	"cartpilot/internal/schedule"
	"cartpilot/internal/selector"
	"cartpilot/internal/solver"
	"cartpilot/internal/timing"
)

// errCheckoutFailed is returned after the failure was already reported.
var errCheckoutFailed = errors.New("checkout failed")

type flags struct {
	configPath string
	exportPath string
	envFile    string
	startAt    string
	headless   bool
	provider   string
	model      string
	debug      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errCheckoutFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "cartpilot [product-url]",
		Short: "Take a product from its page to the store's checkout",
		Long: `cartpilot signs in, adds the product to the cart and walks through to the
checkout page of Amazon, Flipkart or Myntra, filling the delivery address on the way.

Credentials come from the environment or a .env file:
  AMAZON_EMAIL / AMAZON_PHONE, AMAZON_PASSWORD (and FLIPKART_*, MYNTRA_*)
  USER_NAME, USER_PHONE, USER_PINCODE, USER_ADDRESS, USER_CITY

Example:
  cartpilot "https://www.amazon.in/dp/B0ABCDEFGH"`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f, args)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "config.yaml", "Path to configuration file")
	cmd.Flags().StringVarP(&f.exportPath, "export", "e", "", "Write the performance report to this file")
	cmd.Flags().StringVar(&f.envFile, "env", ".env", "Credentials file")
	cmd.Flags().StringVar(&f.startAt, "start-at", "", `Sign in, then wait until this time before adding to cart ("2025-01-15 12:00 IST")`)
	cmd.Flags().BoolVar(&f.headless, "headless", false, "Run the browser without a window")
	cmd.Flags().StringVar(&f.provider, "provider", "", "Captcha solver: claude, openai or none (default: from config)")
	cmd.Flags().StringVar(&f.model, "model", "", "Solver model override")
	cmd.Flags().BoolVarP(&f.debug, "debug", "d", false, "Enable detailed debug logging")

	cmd.AddCommand(newHistoryCmd())
	return cmd
}

// applyFlags lets explicitly set flags win over the configuration file.
func applyFlags(cmd *cobra.Command, f *flags, cfg *config.Config) {
	if cmd.Flags().Changed("headless") {
		cfg.Headless = f.headless
	}
	if f.provider != "" {
		cfg.Solver.Provider = f.provider
	}
	if f.model != "" {
		cfg.Solver.Model = f.model
	}
	if f.debug {
		cfg.DebugMode = true
	}
	if cfg.DebugMode {
		cfg.Log.Level = "debug"
	}
}

func timeoutsFrom(cfg *config.Config) checkout.Timeouts {
	return checkout.Timeouts{
		Navigation:      cfg.NavigationTimeout(),
		LoginNavigation: cfg.LoginNavigationTimeout(),
		AddressFormWait: cfg.AddressFormWait(),
		SettleShort:     cfg.SettleShort(),
		SettleLong:      cfg.SettleLong(),
		ChallengeBudget: cfg.ChallengeBudget(),
		ManualCap:       cfg.ManualCap(),
		SolverCall:      cfg.SolverTimeout(),
	}
}

func policyFrom(cfg *config.Config) checkout.Policy {
	return checkout.Policy{
		AddToCartMissingFatal: cfg.Policy.AddToCartMissingFatal,
		CartVerificationFatal: cfg.Policy.CartVerificationFatal,
	}
}

// productURL takes the URL from args, or asks for it when a terminal is attached.
func productURL(ctx context.Context, args []string, c interactive.Confirmer) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}
	if !c.Interactive() {
		return "", errors.New("no product URL given")
	}
	u, err := c.Prompt(ctx, locale.T("prompt_product_url"))
	if err != nil {
		return "", fmt.Errorf("read product URL: %w", err)
	}
	if u == "" {
		return "", errors.New("no product URL given")
	}
	return u, nil
}

func run(cmd *cobra.Command, f *flags, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadEnv(f.envFile); err != nil {
		return fmt.Errorf("load %s: %w", f.envFile, err)
	}

	_, statErr := os.Stat(f.configPath)
	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, f, cfg)

	if err := locale.InitLocale(cfg.LangDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: locale initialization failed, using message keys: %v\n", err)
	}
	if os.IsNotExist(statErr) {
		fmt.Println(locale.T("config_created", f.configPath))
	}

	observability.InitializeLogger(cfg.Log)
	defer observability.Sync()
	logger := observability.GetLogger()
	logger.Debug("locale loaded", zap.String("locale", locale.GetLocale()))

	term := interactive.Stdio()
	registry := platform.NewRegistry(cfg.Selectors, cfg.ElementTimeout())

	target, err := productURL(ctx, args, term)
	if err != nil {
		return err
	}

	hold, err := saleHold(ctx, f.startAt, registry, target, logger)
	if err != nil {
		return err
	}

	slv, err := solver.New(cfg.Solver.Provider, cfg.Solver.Model)
	if err != nil {
		logger.Warn("captcha solver disabled", zap.Error(err))
		slv = nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	launcher := browser.NewLauncher(browser.Options{
		Headless:       cfg.Headless,
		ProfileDir:     cfg.BrowserProfilePath,
		Bin:            cfg.BrowserBin,
		UserAgent:      cfg.UserAgent,
		ViewportWidth:  cfg.ViewportWidth,
		ViewportHeight: cfg.ViewportHeight,
		BlockImages:    cfg.BlockImages,
		TypingDelay:    cfg.TypingDelay(),
		NavigationWait: cfg.CheckoutNavigation(),
		OnGone:         cancel,
		Logger:         logger,
	})

	orch := checkout.New(checkout.Options{
		Registry:  registry,
		Launcher:  launcher,
		Engine:    selector.NewEngine(logger),
		Solver:    slv,
		Confirmer: term,
		Credentials: func(id platform.ID) config.Credentials {
			return config.LoadCredentials(string(id))
		},
		Address:  config.LoadAddress(),
		Policy:   policyFrom(cfg),
		Timeouts: timeoutsFrom(cfg),
		Hold:     hold,
		BeforeClose: func(ctx context.Context, _ *checkout.Session) {
			if !cfg.KeepBrowserOpen || !term.Interactive() || ctx.Err() != nil {
				return
			}
			_, _ = term.Prompt(ctx, locale.T("close_prompt"))
		},
		Out:    os.Stdout,
		Logger: logger,
	})

	sess, runErr := orch.Run(ctx, target)

	rep := sess.Timing.Report(cfg.Target())
	rep.WriteSummary(os.Stdout)

	if f.exportPath != "" {
		if err := rep.Export(f.exportPath); err != nil {
			logger.Warn("report export failed", zap.String("path", f.exportPath), zap.Error(err))
		} else {
			fmt.Println(locale.T("export_written", f.exportPath))
		}
	}

	if cfg.HistoryDB != "" {
		if err := saveHistory(cfg.HistoryDB, sess, cfg); err != nil {
			logger.Warn("history not saved", zap.String("db", cfg.HistoryDB), zap.Error(err))
		} else if cfg.DebugMode {
			fmt.Println(locale.T("history_saved", sess.ID))
		}
	}

	printResult(os.Stdout, sess, runErr)
	if runErr != nil {
		return errCheckoutFailed
	}
	return nil
}

// saleHold returns a wait on the store's clock until startAt, or nil when no start
// time was given.
func saleHold(ctx context.Context, startAt string, registry *platform.Registry, target string, logger *zap.Logger) (func(context.Context) error, error) {
	if startAt == "" {
		return nil, nil
	}
	at, err := schedule.ParseStartTime(startAt, time.Local)
	if err != nil {
		return nil, err
	}

	var servers []string
	if plat, err := registry.ResolveURL(target); err == nil {
		servers = append(servers, plat.BaseURL)
	}
	clock := schedule.NewClock(nil, logger, servers...)
	if err := clock.Sync(ctx); err != nil {
		logger.Warn("using local clock", zap.Error(err))
	}

	return func(ctx context.Context) error {
		fmt.Println(locale.T("schedule_waiting", at.Format(time.RFC1123), clock.Offset().Round(time.Millisecond)))
		err := schedule.WaitUntil(ctx, clock, at, func(remaining time.Duration) {
			fmt.Println(locale.T("schedule_update", remaining))
		})
		if err == nil {
			fmt.Println(locale.T("schedule_starting"))
		}
		return err
	}, nil
}

func saveHistory(path string, sess *checkout.Session, cfg *config.Config) error {
	store, err := timing.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.SaveSession(sess.Record(cfg.Target()), sess.Timing.Metrics())
}

func printResult(w io.Writer, sess *checkout.Session, err error) {
	if err == nil {
		fmt.Fprintln(w, locale.T("result_success", sess.CheckoutURL))
		return
	}

	reason, url := "internal", "-"
	var f *checkout.Failure
	if errors.As(err, &f) {
		reason = f.Reason()
		if f.URL != "" {
			url = f.URL
		}
	}
	fmt.Fprintln(w, locale.T("result_failed", reason, url))
}
