package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/blendsoftware/possync/internal/config"
	"github.com/blendsoftware/possync/internal/store"
	"github.com/blendsoftware/possync/internal/types"
)

var (
	outboxDBOverride string
	outboxJSONOutput bool
	outboxLimit      int
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Inspect the local sales outbox",
	Long:  "List and repair queued sales without running the agent.",
}

func init() {
	outboxCmd.PersistentFlags().StringVar(&outboxDBOverride, "db", "",
		"Database path (overrides config and POSSYNC_DB_PATH)")
	outboxCmd.PersistentFlags().BoolVar(&outboxJSONOutput, "json", false,
		"Output in JSON format")

	outboxListCmd.Flags().IntVar(&outboxLimit, "limit", 50, "Maximum sales to list")

	outboxCmd.AddCommand(outboxListCmd)
	outboxCmd.AddCommand(outboxRetryCmd)
}

var outboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sales, newest first",
	Args:  cobra.NoArgs,
	RunE:  runOutboxList,
}

func runOutboxList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	db, err := resolveStore()
	if err != nil {
		return err
	}
	defer db.Close()

	sales, err := db.ListSales(ctx, outboxLimit)
	if err != nil {
		return fmt.Errorf("list sales: %w", err)
	}
	pending, err := db.CountPending(ctx)
	if err != nil {
		return fmt.Errorf("count pending: %w", err)
	}

	if outboxJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"sales":   sales,
			"total":   len(sales),
			"pending": pending,
		})
	}

	if len(sales) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Outbox is empty.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tSTATE\tTOTAL\tPAGO\tRETRIES\tCREATED\tERROR")
	for _, s := range sales {
		lastError := s.LastError
		if lastError == "" {
			lastError = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			s.ID,
			s.State,
			s.Total.StringFixed(2),
			s.PaymentMethod,
			s.RetryCount,
			s.CreatedAt.Format("2006-01-02 15:04"),
			lastError,
		)
	}
	w.Flush()
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d sale(s) awaiting sync.\n", pending)

	return nil
}

var outboxRetryCmd = &cobra.Command{
	Use:   "retry <sale-id>",
	Short: "Re-queue a FAILED sale for the next sync cycle",
	Args:  cobra.ExactArgs(1),
	RunE:  runOutboxRetry,
}

func runOutboxRetry(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	id := args[0]

	db, err := resolveStore()
	if err != nil {
		return err
	}
	defer db.Close()

	sale, err := db.GetSale(ctx, id)
	if err != nil {
		return fmt.Errorf("get sale: %w", err)
	}
	if sale.State != types.SaleFailed {
		return fmt.Errorf("sale %s is %s, only FAILED sales can be re-queued", id, sale.State)
	}

	if err := db.MarkSaleState(ctx, id, types.SalePending, ""); err != nil {
		return fmt.Errorf("mark sale pending: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Sale %s re-queued.\n", id)
	return nil
}

// resolveStore opens the replica database from config with optional --db
// override.
func resolveStore() (*store.SQLiteStore, error) {
	path := outboxDBOverride
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		path = cfg.Database.Path
	}
	return store.NewSQLiteStore(path)
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
