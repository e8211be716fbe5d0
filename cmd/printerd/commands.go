package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/judwhite/go-svc"
	"github.com/spf13/cobra"

	"github.com/adcondev/printer-daemon/internal/config"
	"github.com/adcondev/printer-daemon/internal/daemon"
	"github.com/adcondev/printer-daemon/internal/logging"
	"github.com/adcondev/printer-daemon/internal/orchestrator"
	"github.com/adcondev/printer-daemon/internal/printer"
	"github.com/adcondev/printer-daemon/internal/settings"
)

type rootOptions struct {
	cfgFile string
	dataDir string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "printerd",
		Short:         "Printer orchestration daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default ./printerd.yaml if present)")
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "directory for logs and settings.db")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newRunCmd(opts), newPrintersCmd(opts), newStatusCmd(opts), newVersionCmd())
	return root
}

func (o *rootOptions) environment() (config.Environment, error) {
	env, err := config.Load(o.cfgFile)
	if err != nil {
		return env, err
	}
	if o.verbose {
		env.Verbose = true
	}
	return env, nil
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var console bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon (as a service when not attached to a terminal)",
		RunE: func(_ *cobra.Command, _ []string) error {
			env, err := opts.environment()
			if err != nil {
				return err
			}
			prg := daemon.New(env, opts.dataDir)
			if console || isInteractive() {
				return runConsole(prg)
			}
			return svc.Run(prg, syscall.SIGINT, syscall.SIGTERM)
		},
	}
	cmd.Flags().BoolVar(&console, "console", false, "run in console mode (not as service)")
	return cmd
}

// runConsole runs the program in console mode
func runConsole(prg *daemon.Program) error {
	if err := prg.Init(nil); err != nil {
		return fmt.Errorf("init failed: %w", err)
	}
	if err := prg.Start(); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	logging.Logger.Info("[CONSOLE] press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	return prg.Stop()
}

// isInteractive checks if running from a terminal (not as service)
func isInteractive() bool {
	fileInfo, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// openOrchestrator builds a one-shot print stack for CLI queries. Settings
// come from the daemon's database when it exists.
func openOrchestrator(opts *rootOptions) (*orchestrator.Orchestrator, func(), error) {
	logging.InitConsole(opts.verbose)
	env, err := opts.environment()
	if err != nil {
		return nil, nil, err
	}
	dataDir := opts.dataDir
	if dataDir == "" {
		dataDir = daemon.DataDir()
	}
	store, err := settings.OpenSQLiteStore(env.SettingsDBPath(dataDir))
	if err != nil {
		return nil, nil, err
	}
	return daemon.NewOrchestrator(env, store, nil), func() { _ = store.Close() }, nil
}

func newPrintersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "printers",
		Short: "List the physical printers installed on this machine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			orch, closeFn, err := openOrchestrator(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			renderPrinters(cmd.OutOrStdout(), orch.ListPrinters(ctx), orch.Settings(ctx).PrinterName)
			return nil
		},
	}
}

func renderPrinters(w io.Writer, printers []printer.DetailDTO, configured string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Printer", "OS default", "Configured"})
	for _, p := range printers {
		t.AppendRow(table.Row{p.Name, mark(p.IsDefault), mark(p.Name == configured)})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d printer(s)", len(printers)), "", ""})
	t.Render()
}

func mark(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [printer]",
		Short: "Query the OS for a printer's online status (configured or default printer when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, closeFn, err := openOrchestrator(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			res, ok := orch.RefreshPrinterStatus(cmd.Context(), name)
			if !ok {
				return orchestrator.ErrNoPrinter
			}
			state := "offline"
			if res.IsOnline {
				state = "online"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", state, res.Message)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "printerd env=%s date=%s time=%s\n",
				config.BuildEnvironment, config.BuildDate, config.BuildTime)
		},
	}
}
