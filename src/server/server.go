// Package server holds the root command, which runs the background side of
// the publication pipeline, and the wiring shared by every other command.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"git.handmade.network/hmn/tutorials/src/config"
	"git.handmade.network/hmn/tutorials/src/jobs"
	"git.handmade.network/hmn/tutorials/src/logging"
	"git.handmade.network/hmn/tutorials/src/perf"
	"github.com/spf13/cobra"
)

var inMemory bool

var TutorialsCommand = &cobra.Command{
	Use:   "tutorials",
	Short: "Run the tutorials publication service",
	Run: func(cmd *cobra.Command, args []string) {
		defer logging.LogPanics(nil)
		logging.Info().Msg("Hello, tutorials!")

		ctx := context.Background()
		services, err := NewServices(ctx, config.Config, inMemory)
		if err != nil {
			panic(err)
		}
		defer services.Close()

		perfCtx, stopPerf := context.WithCancel(ctx)
		defer stopPerf()
		perfCollector := perf.RunPerfCollector(perfCtx)
		services.Publications.Perf = perfCollector

		// Leftovers of publications that died mid-way.
		removed, err := services.Publications.CleanStaleStaging(ctx)
		if err != nil {
			logging.Error().Err(err).Msg("Failed to clean up stale staging directories")
		} else if len(removed) > 0 {
			logging.Info().Strs("removed", removed).Msg("Cleaned up stale staging directories")
		}

		var wg sync.WaitGroup

		wg.Add(1)
		backgroundJobs := jobs.Jobs{
			services.Publications.RetryArtifactsPeriodically(config.Config.Artifact.RetryInterval),
		}

		// The only listener is private: metrics, pprof, and recent perf.
		wg.Add(1)
		server := http.Server{
			Addr:    config.Config.Addr,
			Handler: NewPrivateRoutes(perfCollector),
		}
		go func() {
			logging.Info().Str("addr", config.Config.Addr).Msg("Serving metrics and debug routes")
			serverErr := server.ListenAndServe()
			if !errors.Is(serverErr, http.ErrServerClosed) {
				logging.Error().Err(serverErr).Msg("Server shut down unexpectedly")
			}
		}()

		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt)
		go func() {
			<-signals // First SIGINT (start shutdown)
			logging.Info().Msg("Shutting down")

			const timeout = 10 * time.Second

			go func() {
				logging.Info().Msg("Shutting down background jobs...")
				unfinished := backgroundJobs.CancelAndWait(timeout)
				if len(unfinished) == 0 {
					logging.Info().Msg("Background jobs closed gracefully")
				} else {
					logging.Warn().Strs("Unfinished", unfinished).Msg("Background jobs did not finish by the deadline")
				}
				wg.Done()
			}()

			go func() {
				timeoutCtx, cancel := context.WithTimeout(context.Background(), timeout)
				defer cancel()
				err := server.Shutdown(timeoutCtx)
				if err != nil {
					logging.Warn().Err(err).Msg("Server did not shut down gracefully")
				}
				wg.Done()
			}()

			<-signals // Second SIGINT (force quit)
			logging.Warn().Strs("Unfinished background jobs", backgroundJobs.ListUnfinished()).Msg("Forcibly killed")
			os.Exit(1)
		}()

		wg.Wait()
	},
}

func init() {
	TutorialsCommand.PersistentFlags().BoolVar(&inMemory, "memory", false, "Keep content and repositories in memory instead of PostgreSQL and disk")
}

// InMemory reports whether --memory was passed, for subcommands that build
// their own services.
func InMemory() bool {
	return inMemory
}
