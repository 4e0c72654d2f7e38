package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/storekeeper/storekeeper/internal/models"
	"github.com/storekeeper/storekeeper/internal/services/procurement"
)

func (c *command) procurementCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "procurement",
		Short: "Record deliveries into the store",
	}

	cmd.AddCommand(
		c.procurementLogCommand(),
		c.procurementHistoryCommand(),
		c.procurementStatsCommand(),
		c.procurementRecentCommand(),
	)
	return cmd
}

func printProcurementLogs(w io.Writer, logs []*models.ProcurementLog) {
	fmt.Fprintln(w, "PURCHASED\tITEM\tQTY\tUNIT\tTOTAL\tSUPPLIER\tREQUEST")
	for _, l := range logs {
		item := l.InventoryItemID
		if l.Item != nil {
			item = l.Item.Name
		}
		request := deref(l.PurchaseRequestID)
		if request == "" {
			request = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			l.PurchaseDate.Format(DateLayout), item, l.Quantity,
			l.UnitPrice.StringFixed(2), l.TotalAmount.StringFixed(2), l.SupplierName, request)
	}
}

func (c *command) procurementLogCommand() *cobra.Command {
	var (
		in                     procurement.LogInput
		price, bought, arrived string
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Record a delivered purchase and add it to stock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				actor, err := c.actor()
				if err != nil {
					return err
				}
				if in.UnitPrice, err = parseMoney(price); err != nil {
					return err
				}
				if bought != "" {
					if in.PurchaseDate, err = parseDate(bought); err != nil {
						return err
					}
				}
				if in.DeliveryDate, err = optionalDate(arrived); err != nil {
					return err
				}
				entry, err := app.Procurement.LogProcurement(ctx, actor, in)
				if err != nil {
					return err
				}
				return out.Result(entry, func(w io.Writer) {
					fmt.Fprintf(w, "logged %s: %d x %s = %s from %s\n",
						entry.ID, entry.Quantity, entry.UnitPrice.StringFixed(2), entry.TotalAmount.StringFixed(2), entry.SupplierName)
				})
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&in.InventoryItemID, "item", "", "inventory item id")
	f.IntVar(&in.Quantity, "quantity", 0, "units delivered")
	f.StringVar(&price, "unit-price", "", "price paid per unit")
	f.StringVar(&in.SupplierName, "supplier", "", "supplier name")
	f.StringVar(&in.SupplierContact, "contact", "", "supplier contact")
	f.StringVar(&in.InvoiceNumber, "invoice", "", "invoice number")
	f.StringVar(&bought, "purchase-date", "", "purchase date ("+DateLayout+")")
	f.StringVar(&arrived, "delivery-date", "", "delivery date ("+DateLayout+")")
	f.StringVar(&in.PurchaseRequestID, "request", "", "purchase request this delivery fulfils")
	f.StringVar(&in.Notes, "notes", "", "notes")
	for _, name := range []string{"item", "quantity", "unit-price", "supplier", "purchase-date"} {
		cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (c *command) procurementHistoryCommand() *cobra.Command {
	var (
		filter   models.ProcurementFilter
		from, to string
		page     models.Pagination
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List procurement logs, latest purchase first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				var err error
				if filter.Range, err = dateRange(from, to); err != nil {
					return err
				}
				if id := filter.PurchaseRequestID; id != "" && filter == (models.ProcurementFilter{PurchaseRequestID: id}) {
					logs, err := app.Procurement.ByRequest(ctx, filter.PurchaseRequestID)
					if err != nil {
						return err
					}
					return out.Result(logs, func(w io.Writer) { printProcurementLogs(w, logs) })
				}
				list, err := app.Procurement.History(ctx, filter, page)
				if err != nil {
					return err
				}
				return out.Result(list, func(w io.Writer) {
					printProcurementLogs(w, list.Logs)
					fmt.Fprintf(w, "\npage %d of %d, %d log(s)\n", list.Page, list.TotalPages, list.Total)
				})
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&filter.InventoryItemID, "item", "", "only this item")
	f.StringVar(&filter.PurchaseRequestID, "request", "", "only deliveries against this purchase request")
	f.StringVar(&filter.Supplier, "supplier", "", "supplier name contains")
	f.StringVar(&filter.LoggedBy, "logged-by", "", "only logs recorded by this user")
	addRangeFlags(cmd, &from, &to)
	addPageFlags(cmd, &page)
	return cmd
}

func (c *command) procurementStatsCommand() *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate procurement over a purchase-date range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				dates, err := dateRange(from, to)
				if err != nil {
					return err
				}
				stats, err := app.Procurement.Statistics(ctx, dates)
				if err != nil {
					return err
				}
				return out.Result(stats, func(w io.Writer) {
					fmt.Fprintf(w, "Procurements:\t%d\n", stats.TotalProcurements)
					fmt.Fprintf(w, "Total amount:\t%s\n", stats.TotalAmount.StringFixed(2))
					fmt.Fprintf(w, "Units procured:\t%d\n", stats.TotalItemsProcured)
					fmt.Fprintf(w, "Distinct items:\t%d\n", stats.UniqueItems)
					fmt.Fprintf(w, "Suppliers:\t%d\n", stats.UniqueSuppliers)
					fmt.Fprintf(w, "Linked to requests:\t%d\n", stats.LinkedToRequests)
					fmt.Fprintf(w, "Average value:\t%s\n", stats.AverageProcurementValue.StringFixed(2))
				})
			})
		},
	}

	addRangeFlags(cmd, &from, &to)
	return cmd
}

func (c *command) procurementRecentCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recently recorded procurements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				logs, err := app.Procurement.Recent(ctx, limit)
				if err != nil {
					return err
				}
				return out.Result(logs, func(w io.Writer) { printProcurementLogs(w, logs) })
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "number of logs")
	return cmd
}
