package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/zjrosen/sheetbind/internal/application"
	"github.com/zjrosen/sheetbind/internal/batch"
	"github.com/zjrosen/sheetbind/internal/config"
	"github.com/zjrosen/sheetbind/internal/controllers"
	"github.com/zjrosen/sheetbind/internal/flags"
	"github.com/zjrosen/sheetbind/internal/host/memdoc"
	"github.com/zjrosen/sheetbind/internal/log"
	"github.com/zjrosen/sheetbind/internal/scenario"
	"github.com/zjrosen/sheetbind/internal/taskpane"
	"github.com/zjrosen/sheetbind/internal/tracing"
	"github.com/zjrosen/sheetbind/internal/watcher"
)

var (
	runScript      string
	runInteractive bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the application on the workbook",
	Long: `Open the workbook, register the built-in controllers, activate the
default controller and follow external edits to the workbook store.

With --script the scenario is replayed and every task pane change is
printed. Without it, or with --interactive, the task pane viewer runs
until q is pressed.

Examples:
  sheetbind run
  sheetbind run --script scenarios/payments.yaml
  sheetbind run --script scenarios/setup.yaml --interactive`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Validate(cfg); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		var script *scenario.Script
		if runScript != "" {
			s, err := scenario.Load(runScript)
			if err != nil {
				return err
			}
			script = s
		}

		interactive := runInteractive || script == nil
		return runApp(cmd.Context(), script, interactive)
	},
}

func init() {
	runCmd.Flags().StringVar(&runScript, "script", "", "scenario YAML to replay")
	runCmd.Flags().BoolVarP(&runInteractive, "interactive", "i", false, "open the task pane viewer (default without --script)")
	rootCmd.AddCommand(runCmd)
}

func runApp(ctx context.Context, script *scenario.Script, interactive bool) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	features := flags.New(cfg.Flags)

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()
	tracer := provider.Tracer()

	var seeds []func() (*memdoc.Snapshot, error)
	if script != nil {
		seeds = append(seeds, script.Snapshot)
	}
	db, doc, err := openWorkbook(ctx, seeds...)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	app := application.New(
		batch.New(doc, batch.WithTracer(tracer)),
		application.WithTracer(tracer),
		application.WithDefaultController(cfg.Workbook.DefaultController),
	)
	defer func() {
		if closeErr := app.Close(context.Background()); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	// Subscribe before anything can push a pane.
	var printed sync.WaitGroup
	if script != nil && !interactive {
		printer := taskpane.NewPrinter(os.Stdout, cfg.TaskPane.Width)
		panes := app.TaskPaneChanges(ctx)
		printed.Add(1)
		go func() {
			defer printed.Done()
			printer.Follow(ctx, panes)
		}()
	}
	var viewer taskpane.Model
	if interactive {
		opts := []taskpane.Option{taskpane.WithWidth(cfg.TaskPane.Width)}
		if features.Enabled(flags.FlagTaskPaneLogs) {
			if logs := log.NewListener(ctx); logs != nil {
				opts = append(opts, taskpane.WithLogListener(logs))
			}
		}
		viewer = taskpane.New(ctx, doc, app.TaskPaneBroker(), opts...)
	}

	if err := controllers.Register(ctx, app); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		// Unusable markers are reported but do not stop the run.
		log.ErrorErr(log.CatApp, "start reported failures", err)
	}
	if err := app.Activate(ctx); err != nil {
		return fmt.Errorf("activating %s: %w", cfg.Workbook.DefaultController, err)
	}

	if cfg.Watch.Enabled {
		stop, err := follow(ctx, db.Path(), doc, app, features.Enabled(flags.FlagReloadControllers))
		if err != nil {
			return err
		}
		defer stop()
	}

	if script != nil {
		playErr := script.Play(ctx, scenario.Target{Doc: doc, App: app})
		if !interactive || playErr != nil {
			// Closing the application ends the printer's subscription.
			closeErr := app.Close(context.Background())
			printed.Wait()
			if playErr != nil {
				return playErr
			}
			return closeErr
		}
	}

	if interactive {
		p := tea.NewProgram(
			viewer,
			tea.WithAltScreen(),
			tea.WithMouseCellMotion(),
		)
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("running program: %w", err)
		}
	}
	return nil
}

// follow reloads doc whenever another process writes the store. With
// refresh set, live controllers re-read their values after each reload.
func follow(ctx context.Context, path string, doc *memdoc.Document, app *application.Application, refresh bool) (func(), error) {
	w, err := watcher.New(watcher.Config{Path: path, Debounce: cfg.Watch.Debounce})
	if err != nil {
		return nil, err
	}
	changes, err := w.Start()
	if err != nil {
		_ = w.Stop()
		return nil, err
	}
	var onReload func()
	if refresh {
		onReload = func() {
			if err := app.Reload(ctx); err != nil {
				log.ErrorErr(log.CatWatcher, "refreshing controllers after reload", err)
			}
		}
	}
	go watcher.Follow(ctx, changes, doc, onReload)
	return func() { _ = w.Stop() }, nil
}
