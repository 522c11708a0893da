package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/corvusec/magpie/pkg/repository"
	"github.com/corvusec/magpie/pkg/types"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ingestion statistics from the database",
	Long: `Print processed file, job and indicator counts, plus the most
recent jobs. Safe to run while the service is up; WAL mode allows
concurrent readers.`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().String("db", "", "SQLite database path (defaults to DATABASE_URL)")
	statsCmd.Flags().Int("jobs", 10, "Number of recent jobs to show")

	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	dsn, _ := cmd.Flags().GetString("db")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return fmt.Errorf("--db or DATABASE_URL is required")
	}
	limit, _ := cmd.Flags().GetInt("jobs")

	repo, err := repository.Open(dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %v", err)
	}
	defer repo.Close()

	ctx := cmd.Context()

	processed, err := repo.ProcessedCount(ctx)
	if err != nil {
		return err
	}
	jobCounts, err := repo.JobCounts(ctx)
	if err != nil {
		return err
	}
	indicatorCounts, err := repo.IndicatorCounts(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Processed files: %d\n", processed)

	fmt.Println("\nJobs:")
	for _, status := range []types.JobStatus{
		types.JobQueued, types.JobProcessing, types.JobCompleted, types.JobFailed,
	} {
		fmt.Printf("  %-11s %d\n", status, jobCounts[status])
	}

	fmt.Println("\nIndicators:")
	for _, kind := range []types.IndicatorType{
		types.IndicatorDomain, types.IndicatorEmail, types.IndicatorIPv4,
	} {
		fmt.Printf("  %-11s %d\n", kind, indicatorCounts[kind])
	}

	if limit > 0 {
		recent, err := repo.RecentJobs(ctx, limit)
		if err != nil {
			return err
		}
		if len(recent) > 0 {
			fmt.Println("\nRecent jobs:")
			for _, j := range recent {
				line := fmt.Sprintf("  %s  %-10s  %s",
					j.UpdatedAt.Format("2006-01-02 15:04:05"), j.Status, j.ExternalRef)
				if j.Error != "" {
					line += "  " + j.Error
				}
				fmt.Println(line)
			}
		}
	}
	return nil
}
