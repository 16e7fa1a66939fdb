package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/vidconvert/internal/app"
	"github.com/dharsanguruparan/vidconvert/internal/config"
	"github.com/dharsanguruparan/vidconvert/internal/database"
	"github.com/dharsanguruparan/vidconvert/internal/dispatch"
	"github.com/dharsanguruparan/vidconvert/internal/queue"
	"github.com/dharsanguruparan/vidconvert/internal/uploads"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "vidconvert: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vidconvert",
		Short: "Video conversion pipeline CLI",
		Long: `vidconvert runs the pipeline roles (upload API, dispatch worker, conversion executor)
and offers operator commands for inspecting and re-driving jobs.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newJobCmd(),
		newClassifyCmd(),
		newTestCmd(),
	)
	return cmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run one pipeline role in the foreground",
	}
	var noListen bool
	worker := &cobra.Command{
		Use:   "worker",
		Short: "Consume finalize events and dispatch jobs to executors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return app.RunWorker(cmd.Context(), cfg, !noListen, log.Default())
		},
	}
	worker.Flags().BoolVar(&noListen, "no-listen", false, "Do not subscribe to bucket notifications (webhook delivery only)")
	cmd.AddCommand(
		&cobra.Command{
			Use:   "api",
			Short: "Serve the upload authorization API",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				return app.RunAPI(cmd.Context(), cfg, log.Default())
			},
		},
		&cobra.Command{
			Use:   "executor",
			Short: "Serve a conversion executor",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				return app.RunExecutor(cmd.Context(), cfg, log.Default())
			},
		},
		worker,
	)
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the job document table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			pool, err := database.Connect(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := database.EnsureSchema(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect and create conversion jobs",
	}
	cmd.AddCommand(newJobGetCmd(), newJobAuthorizeCmd(), newJobRedispatchCmd())
	return cmd
}

func newJobGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Print a job record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			jobs, err := app.OpenJobs(cmd.Context(), cfg, log.New(io.Discard, "", 0))
			if err != nil {
				return err
			}
			defer jobs.Close()
			job, err := jobs.Store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
}

func newJobAuthorizeCmd() *cobra.Command {
	var req uploads.Request
	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Create a job and print its upload URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.RequireUploadAPI(); err != nil {
				return err
			}
			jobs, err := app.OpenJobs(cmd.Context(), cfg, log.Default())
			if err != nil {
				return err
			}
			defer jobs.Close()
			objects, err := app.OpenObjects(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			resp, err := app.NewUploadService(cfg, jobs.Store, objects).Authorize(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&req.FileName, "file", "", "Name of the file that will be uploaded")
	cmd.Flags().StringVar(&req.OutputFormat, "format", uploads.DefaultOutputFormat, "Requested output format")
	return cmd
}

func newJobRedispatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "redispatch <bucket> <object-key>",
		Short: "Queue a finalize event for an uploaded object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := dispatch.ParseKey(args[1]); !ok {
				return fmt.Errorf("%s is not an uploads/{jobId}/{file} key", args[1])
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
			defer client.Close()
			if err := queue.EnqueueFinalize(cmd.Context(), client, queue.FinalizePayload{Bucket: args[0], Name: args[1]}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s/%s\n", args[0], args[1])
			return nil
		},
	}
}

func newClassifyCmd() *cobra.Command {
	var threshold int
	cmd := &cobra.Command{
		Use:   "classify <bytes>",
		Short: "Show which executor a file of the given size is routed to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || size < 0 {
				return fmt.Errorf("invalid size %q", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), dispatch.Classify(size, threshold))
			return nil
		},
	}
	cmd.Flags().IntVar(&threshold, "threshold", 100, "Small file threshold in MiB")
	return cmd
}

func newTestCmd() *cobra.Command {
	var race bool
	var cover bool
	cmd := &cobra.Command{
		Use:   "test [packages]",
		Short: "Run Go tests (defaults to ./...)",
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs := args
			if len(pkgs) == 0 {
				pkgs = []string{"./..."}
			}
			goArgs := []string{"test"}
			if race {
				goArgs = append(goArgs, "-race")
			}
			if cover {
				goArgs = append(goArgs, "-cover")
			}
			goArgs = append(goArgs, pkgs...)
			return runCommand(cmd.Context(), "go", goArgs...)
		},
	}
	cmd.Flags().BoolVar(&race, "race", false, "Enable Go race detector")
	cmd.Flags().BoolVar(&cover, "cover", false, "Collect coverage data")
	return cmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runCommand(ctx context.Context, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}
