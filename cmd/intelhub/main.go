// Command intelhub runs the cross-platform intelligence hub: periodic graph,
// identity, threat and reputation analysis over collected agent activity,
// with published snapshots and a WebSocket alert feed.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/LvcidPsyche/agent-intelligence-hub/internal/config"
	"github.com/LvcidPsyche/agent-intelligence-hub/internal/fetch"
	"github.com/LvcidPsyche/agent-intelligence-hub/internal/graph"
	"github.com/LvcidPsyche/agent-intelligence-hub/internal/identity"
	"github.com/LvcidPsyche/agent-intelligence-hub/internal/network"
	"github.com/LvcidPsyche/agent-intelligence-hub/internal/notify"
	"github.com/LvcidPsyche/agent-intelligence-hub/internal/reputation"
	"github.com/LvcidPsyche/agent-intelligence-hub/internal/scheduler"
	"github.com/LvcidPsyche/agent-intelligence-hub/internal/snapshot"
	"github.com/LvcidPsyche/agent-intelligence-hub/internal/storage"
	"github.com/LvcidPsyche/agent-intelligence-hub/internal/threat"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "intelhub",
		Short: "Cross-platform agent intelligence hub",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "intelhub.yaml", "path to config file")
	root.AddCommand(serveCmd(), runCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func openAll() (*config.Config, *storage.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	db, err := storage.NewDB(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return cfg, db, nil
}

// buildScheduler wires the four analysis jobs. Each job publishes its
// snapshots and flushes new alerts to the hub when it finishes.
func buildScheduler(db *storage.DB, cfg *config.Config, pub *snapshot.Publisher) *scheduler.Scheduler {
	builder := graph.NewBuilder(db, cfg)
	analyzer := network.NewAnalyzer(db, cfg)
	resolver := identity.NewResolver(db, cfg)
	correlator := threat.NewCorrelator(db, cfg)
	engine := reputation.NewEngine(db, cfg)
	scanner := fetch.NewScanner(db, cfg, fetch.NewFetcher(cfg))

	s := scheduler.New(db)

	s.Add("network", time.Duration(cfg.Jobs.NetworkHours)*time.Hour, func(ctx context.Context) (string, error) {
		now := time.Now()
		g, stats, err := builder.Build(ctx, now)
		if err != nil {
			return "", err
		}
		analysis, err := analyzer.Analyze(ctx, g, now)
		if err != nil {
			return "", err
		}
		if _, err := pub.Publish(storage.SnapshotCommunityStructure, analysis, now); err != nil {
			return "", err
		}
		ranking := map[string]any{"generated_at": analysis.GeneratedAt, "influence": analysis.Influence}
		if _, err := pub.Publish(storage.SnapshotInfluenceRanking, ranking, now); err != nil {
			return "", err
		}
		if _, err := pub.EmitNewAlerts(now); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d nodes, %d communities", stats.Nodes, len(analysis.Communities)), nil
	})

	s.Add("identity", time.Duration(cfg.Jobs.IdentityHours)*time.Hour, func(ctx context.Context) (string, error) {
		now := time.Now()
		stats, err := resolver.Resolve(ctx)
		if err != nil {
			return "", err
		}
		if _, err := pub.Publish(storage.SnapshotIdentityResolution, stats, now); err != nil {
			return "", err
		}
		if _, err := pub.EmitNewAlerts(now); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d profiles over %d agents", stats.Profiles, stats.ProfiledAgents), nil
	})

	s.Add("threat", time.Duration(cfg.Jobs.ThreatHours)*time.Hour, func(ctx context.Context) (string, error) {
		now := time.Now()
		if _, err := scanner.Scan(ctx, now); err != nil {
			return "", err
		}
		stats, err := correlator.Run(ctx, now)
		if err != nil {
			return "", err
		}
		landscape, err := correlator.BuildLandscape(now, stats.Findings)
		if err != nil {
			return "", err
		}
		if _, err := pub.Publish(storage.SnapshotThreatLandscape, landscape, now); err != nil {
			return "", err
		}
		if _, err := pub.EmitNewAlerts(now); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d signals persisted", stats.Persisted), nil
	})

	s.Add("reputation", time.Duration(cfg.Jobs.ReputationHours)*time.Hour, func(ctx context.Context) (string, error) {
		now := time.Now()
		stats, err := engine.Run(ctx, now)
		if err != nil {
			return "", err
		}
		top, err := engine.Leaderboard(100)
		if err != nil {
			return "", err
		}
		board := map[string]any{"generated_at": now.Unix(), "leaderboard": top}
		if _, err := pub.Publish(storage.SnapshotLeaderboard, board, now); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d agents scored", stats.Agents), nil
	})

	return s
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the alert feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := openAll()
			if err != nil {
				return err
			}
			defer db.Close()

			hub := notify.NewHub()
			pub := snapshot.NewPublisher(db, hub)
			sched := buildScheduler(db, cfg, pub)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			mux := http.NewServeMux()
			mux.HandleFunc("/ws/alerts", notify.HandleWebSocket(hub))
			srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

			go func() {
				<-ctx.Done()
				log.Println("[intelhub] shutting down")
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				srv.Shutdown(shutdownCtx)
			}()
			go func() {
				log.Printf("[intelhub] alert feed on %s/ws/alerts", cfg.ListenAddr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("[intelhub] http server: %v", err)
					cancel()
				}
			}()

			sched.Run(ctx)
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one full analysis pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := openAll()
			if err != nil {
				return err
			}
			defer db.Close()

			pub := snapshot.NewPublisher(db, notify.NewHub())
			sched := buildScheduler(db, cfg, pub)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return sched.RunOnce(ctx)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the latest snapshots and recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := openAll()
			if err != nil {
				return err
			}
			defer db.Close()

			types := []string{
				storage.SnapshotCommunityStructure,
				storage.SnapshotInfluenceRanking,
				storage.SnapshotThreatLandscape,
				storage.SnapshotLeaderboard,
				storage.SnapshotIdentityResolution,
			}
			fmt.Println("latest snapshots:")
			for _, t := range types {
				s, err := db.LatestSnapshot(t)
				if err != nil {
					fmt.Printf("  %-22s (none)\n", t)
					continue
				}
				ok := "ok"
				if !snapshot.Verify(s) {
					ok = "CHECKSUM MISMATCH"
				}
				fmt.Printf("  %-22s %s  %d bytes  %s\n", t,
					time.Unix(s.CreatedAt, 0).Format(time.RFC3339), len(s.Data), ok)
			}

			runs, err := db.ListRecentRuns(10)
			if err != nil {
				return err
			}
			fmt.Println("recent runs:")
			for _, r := range runs {
				fmt.Printf("  %-12s %-9s %s  %s\n", r.Component, r.Status,
					time.Unix(r.StartedAt, 0).Format(time.RFC3339), r.Detail)
			}
			return nil
		},
	}
}
