// remindtool is a utility program for poking at a local MediRemind data
// directory: signing in, forcing syncs, and printing adherence reports.
package main

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/israfil-hossain/mediremind/analytics"
	"github.com/israfil-hossain/mediremind/dblayer"
	"github.com/israfil-hossain/mediremind/docstore"
	"github.com/israfil-hossain/mediremind/identity"
	"github.com/israfil-hossain/mediremind/localstore"
	"github.com/israfil-hossain/mediremind/subscription"
	"github.com/israfil-hossain/mediremind/syncer"
	"github.com/israfil-hossain/mediremind/syncqueue"
)

var cmdRoot = &cobra.Command{
	Use: "remindtool",
}

var (
	dataDir   string
	projectID string
)

func init() {
	cmdRoot.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory holding the local database.")
	cmdRoot.PersistentFlags().StringVar(&projectID, "project-id", "", "Document store project id.")

	cmdRoot.AddCommand(cmdLogin)
	cmdRoot.AddCommand(cmdLogout)
	cmdRoot.AddCommand(cmdSyncNow)
	cmdRoot.AddCommand(cmdRestore)
	cmdRoot.AddCommand(cmdStats)
	cmdRoot.AddCommand(cmdInsights)

	cmdLogin.Flags().StringVar(&loginEmail, "email", "", "Account email.")
}

// world is the constructed object graph behind a tool invocation.
type world struct {
	store       *localstore.Store
	ident       *identity.Provider
	db          *dblayer.DB
	subs        *subscription.Manager
	coordinator *syncer.Coordinator
}

func buildWorld() (*world, error) {
	store, err := localstore.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("while opening local store: %w", err)
	}

	ident := identity.New(store, os.Getenv("IDENTITY_API_KEY"))
	remote := docstore.New(projectID, ident)
	coordinator := syncer.New(store, syncqueue.New(store), remote, ident)

	// The tool only runs when invoked by a human at a connected terminal.
	coordinator.SetNetState(true, true)

	subs := subscription.New(store)
	return &world{
		store:       store,
		ident:       ident,
		db:          dblayer.New(store, coordinator, subs),
		subs:        subs,
		coordinator: coordinator,
	}, nil
}

var loginEmail string

var cmdLogin = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the account credentials locally.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		w, err := buildWorld()
		if err != nil {
			return err
		}
		defer w.store.Close()

		fmt.Print("Password: ")
		pass, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("while reading password: %w", err)
		}

		user, err := w.ident.SignInWithPassword(ctx, loginEmail, string(pass))
		if err != nil {
			return fmt.Errorf("while signing in: %w", err)
		}

		fmt.Printf("Signed in as %s (%s)\n", user.Email, user.UID)
		return nil
	},
}

var cmdLogout = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear pending sync state.",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := buildWorld()
		if err != nil {
			return err
		}
		defer w.store.Close()

		if err := w.coordinator.Reset(); err != nil {
			return fmt.Errorf("while clearing sync state: %w", err)
		}
		if err := w.ident.SignOut(); err != nil {
			return fmt.Errorf("while signing out: %w", err)
		}

		fmt.Println("Signed out.")
		return nil
	},
}

var cmdSyncNow = &cobra.Command{
	Use:   "sync-now",
	Short: "Push all local data to the remote store and drain the queue.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		w, err := buildWorld()
		if err != nil {
			return err
		}
		defer w.store.Close()

		result := w.coordinator.SyncNow(ctx)
		if !result.Success {
			return fmt.Errorf("sync failed: %s", result.Error)
		}

		if last, ok := w.coordinator.LastSyncTime(); ok {
			fmt.Printf("Synced at %s\n", last.Format(time.RFC3339))
		}
		return nil
	},
}

var cmdRestore = &cobra.Command{
	Use:   "restore",
	Short: "Replace all local data with the remote copy.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		w, err := buildWorld()
		if err != nil {
			return err
		}
		defer w.store.Close()

		result := w.coordinator.RestoreFromCloud(ctx)
		for col, n := range result.Restored {
			fmt.Printf("%-16s %d\n", col, n)
		}
		for _, e := range result.Errors {
			glog.Errorf("Restore error: %v", e)
		}
		if !result.Success {
			return fmt.Errorf("restore incomplete: %d collections failed", len(result.Errors))
		}
		return nil
	},
}

var cmdStats = &cobra.Command{
	Use:   "stats",
	Short: "Print adherence statistics for the last 30 days.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		w, err := buildWorld()
		if err != nil {
			return err
		}
		defer w.store.Close()

		events, err := w.db.DoseEvents(ctx, w.subs.Retention())
		if err != nil {
			return err
		}
		meds, err := w.db.Medications(ctx)
		if err != nil {
			return err
		}

		now := time.Now()
		stats := analytics.Stats(events, 30, now)
		fmt.Printf("Doses:          %d (%d taken, %d missed)\n", stats.TotalDoses, stats.TakenDoses, stats.MissedDoses)
		fmt.Printf("Adherence:      %.1f%%\n", stats.AdherenceRate)
		fmt.Printf("Current streak: %d days\n", stats.CurrentStreak)
		fmt.Printf("Longest streak: %d days\n", stats.LongestStreak)

		fmt.Println()
		fmt.Println("Per medication:")
		for _, m := range analytics.PerMedication(meds, events, 30, now) {
			name := m.Name
			if name == "" {
				name = m.MedicationID
			}
			fmt.Printf("  %-24s %5.1f%% (%d/%d)\n", name, m.Rate, m.TakenDoses, m.TotalDoses)
		}

		fmt.Println()
		fmt.Println("Weekly trend:")
		for _, b := range analytics.WeeklyTrend(events, 4, now) {
			fmt.Printf("  %-6s %5.1f%% (%d/%d)\n", b.Label, b.Rate, b.Taken, b.Total)
		}
		return nil
	},
}

var cmdInsights = &cobra.Command{
	Use:   "insights",
	Short: "Print adherence insights for the last 30 days.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		w, err := buildWorld()
		if err != nil {
			return err
		}
		defer w.store.Close()

		events, err := w.db.DoseEvents(ctx, w.subs.Retention())
		if err != nil {
			return err
		}
		meds, err := w.db.Medications(ctx)
		if err != nil {
			return err
		}

		now := time.Now()
		stats := analytics.Stats(events, 30, now)
		perMed := analytics.PerMedication(meds, events, 30, now)
		tod := analytics.TimeOfDay(events, 30, now)
		for _, line := range analytics.Insights(stats, perMed, tod) {
			fmt.Println(line)
		}
		return nil
	},
}

func main() {
	godotenv.Load()
	glog.CopyStandardLogTo("INFO")

	if err := cmdRoot.Execute(); err != nil {
		glog.Errorf("Error: %v", err)
		os.Exit(1)
	}
}
