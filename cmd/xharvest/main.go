package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"xharvest/pkg/config"
	"xharvest/pkg/credentials"
	"xharvest/pkg/errors"
	"xharvest/pkg/harvester"
	"xharvest/pkg/logger"
	"xharvest/pkg/session"
	"xharvest/pkg/ui"
)

const defaultInputFile = "credentials.txt"

var (
	configFile = flag.String("config", "", "Path to configuration file")
	outputFile = flag.String("output", "", "Output JSON file for extracted cookies")
	outputsh   = flag.String("o", "", "Output JSON file (shorthand)")
	headless   = flag.Bool("headless", true, "Run the browser headless")
	chromeBin  = flag.String("chrome-bin", "", "Path to the Chrome/Chromium binary")
	timeout    = flag.Duration("timeout", 0, "Bootstrap wait timeout (e.g. 30s)")
	rateLimit  = flag.Int("rate-limit", 0, "Accounts processed per minute (0 = unpaced)")
	useKeyring = flag.Bool("keyring", false, "Also save harvested sessions to the system keychain")
	storeFile  = flag.String("store-file", "", "Encrypted session store file (used when the keychain is unavailable)")
	addAccount = flag.Bool("add", false, "Interactively append an account to the input file and exit")
	logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	inputFile := defaultInputFile
	args := flag.Args()
	switch len(args) {
	case 0:
	case 1:
		inputFile = args[0]
	default:
		ui.PrintError("Usage: xharvest [flags] [input-file]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if *addAccount {
		if err := runAdd(inputFile); err != nil {
			ui.PrintError("Failed to add account", err.Error())
			os.Exit(1)
		}
		return
	}

	ui.PrintLogo()

	// Build command line flags map; only explicitly set flags may
	// override config file and environment values
	explicit := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	flags := make(map[string]interface{})
	if *outputFile != "" {
		flags["output"] = *outputFile
	} else if *outputsh != "" {
		flags["output"] = *outputsh
	}
	if *chromeBin != "" {
		flags["chrome-bin"] = *chromeBin
	}
	if explicit["headless"] {
		flags["headless"] = *headless
	}
	if *timeout > 0 {
		flags["bootstrap-timeout"] = *timeout
	}
	if *rateLimit > 0 {
		flags["rate-limit"] = *rateLimit
	}
	if *useKeyring {
		flags["keyring"] = true
	}
	if *storeFile != "" {
		flags["store-file"] = *storeFile
	}
	if *logLevel != "" {
		flags["log-level"] = *logLevel
	}

	// Load configuration
	cfg, err := config.Load(*configFile, flags)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Initialize(&cfg.Logging); err != nil {
		ui.PrintError("Failed to initialize logger", err.Error())
		os.Exit(1)
	}

	os.Exit(run(cfg, inputFile))
}

// run loads the credentials, drives the harvest and prints the
// report; it returns the process exit status
func run(cfg *config.Config, inputFile string) int {
	// Load credentials before any browser work; a missing input file
	// aborts the run and leaves any prior output untouched
	creds, parseErrs, err := credentials.Load(inputFile)
	if err != nil {
		logger.WithError(err).Error("Failed to read input file")
		ui.PrintError("File not found", inputFile)
		return 1
	}

	ui.PrintInfo("Input", inputFile)
	ui.PrintInfo("Output", cfg.Output.Path)
	ui.PrintInfo("Accounts", fmt.Sprintf("%d", len(creds)))

	h := harvester.New(cfg)

	if cfg.Output.Keyring || cfg.Output.StoreFile != "" {
		store, err := session.Open(cfg.Output.StoreFile, cfg.Output.Keyring)
		if err != nil {
			logger.WithError(err).Warn("Session store unavailable, sessions will only be written to the output file")
			ui.PrintWarning("Session store unavailable", err.Error())
		} else {
			h.SetStore(store)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ui.PrintHighlight("[EXTRACTING SESSION COOKIES]")
	start := time.Now()
	report := h.Run(ctx, creds, parseErrs)
	printReport(report, creds)
	logger.WithField("duration", time.Since(start)).Info("Run finished")

	return report.ExitCode()
}

// printReport prints per-account outcomes in input order, then totals
func printReport(report *harvester.Report, creds []credentials.Credential) {
	harvested := make(map[string]bool, len(report.Sessions))
	for _, s := range report.Sessions {
		harvested[s.Username] = true
	}
	failed := make(map[string]harvester.Failure, len(report.Failures))
	for _, f := range report.Failures {
		failed[f.Username] = f
	}
	skipped := make(map[string]bool, len(report.Skipped))
	for _, u := range report.Skipped {
		skipped[u] = true
	}

	fmt.Println()
	for _, cred := range creds {
		switch {
		case harvested[cred.Username]:
			ui.PrintAccountResult(cred.Username, true, "")
		case skipped[cred.Username]:
			ui.PrintAccountResult(cred.Username, false, "skipped")
		default:
			if f, ok := failed[cred.Username]; ok {
				ui.PrintAccountResult(cred.Username, false, string(f.Kind))
			}
		}
	}

	for _, pe := range report.ParseErrors {
		ui.PrintWarning(fmt.Sprintf("Line %d malformed", pe.LineNumber), pe.Text)
	}

	ui.PrintSummary(len(report.Sessions), len(report.Failures), len(report.ParseErrors), len(report.Skipped))

	if report.Fatal != nil {
		ui.PrintError("Run aborted", report.Fatal.Error())
		if errors.GetType(report.Fatal) == errors.ErrorTypeBrowserLaunch {
			ui.PrintWarning("Install Chrome or Chromium, or point -chrome-bin at the binary")
		}
		return
	}

	if len(report.Sessions) > 0 {
		ui.PrintSuccess("[EXTRACTION COMPLETED]")
	}
}

// runAdd interactively appends one account to the input file. The
// token is read without echo so it stays out of the terminal history.
func runAdd(inputFile string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Print("Username: ")
	username, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read username: %w", err)
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("username is required")
	}

	fmt.Print("Auth token: ")
	tokenBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read auth token: %w", err)
	}
	token := strings.TrimSpace(string(tokenBytes))
	if token == "" {
		return fmt.Errorf("auth token is required")
	}

	f, err := os.OpenFile(inputFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open %s: %w", inputFile, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s\t%s\n", username, token); err != nil {
		return fmt.Errorf("append to %s: %w", inputFile, err)
	}

	ui.PrintSuccess(fmt.Sprintf("Added %s to %s", username, inputFile))
	return nil
}
