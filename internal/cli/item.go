package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/storekeeper/storekeeper/internal/models"
	"github.com/storekeeper/storekeeper/internal/services/inventory"
)

func (c *command) itemCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Manage the inventory catalogue and stock levels",
	}

	cmd.AddCommand(
		c.itemCreateCommand(),
		c.itemGetCommand(),
		c.itemListCommand(),
		c.itemRestockCommand(),
		c.itemAdjustCommand(),
		c.itemActiveCommand("activate", "Return an item to the active catalogue", true),
		c.itemActiveCommand("deactivate", "Hide an item from the active catalogue", false),
		c.itemDeleteCommand(),
		c.itemLowStockCommand(),
		c.itemOutOfStockCommand(),
		c.itemCategoriesCommand(),
		c.itemStatsCommand(),
		c.itemMovementsCommand(),
	)
	return cmd
}

func printItem(w io.Writer, item *models.InventoryItem) {
	fmt.Fprintf(w, "ID:\t%s\n", item.ID)
	fmt.Fprintf(w, "Code:\t%s\n", item.Code)
	fmt.Fprintf(w, "Name:\t%s\n", item.Name)
	fmt.Fprintf(w, "Category:\t%s\n", item.Category)
	fmt.Fprintf(w, "Location:\t%s\n", item.Location)
	fmt.Fprintf(w, "Unit price:\t%s\n", item.UnitPrice.StringFixed(2))
	fmt.Fprintf(w, "Total:\t%d\n", item.TotalStock)
	fmt.Fprintf(w, "Available:\t%d\n", item.AvailableStock)
	fmt.Fprintf(w, "Reserved:\t%d\n", item.ReservedStock)
	fmt.Fprintf(w, "Active:\t%t\n", item.IsActive)
	fmt.Fprintf(w, "Last restocked:\t%s\n", formatTime(item.LastRestocked))
}

func printItems(w io.Writer, items []*models.InventoryItem) {
	fmt.Fprintln(w, "CODE\tNAME\tCATEGORY\tTOTAL\tAVAILABLE\tRESERVED\tID")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			item.Code, item.Name, item.Category, item.TotalStock, item.AvailableStock, item.ReservedStock, item.ID)
	}
}

func (c *command) itemCreateCommand() *cobra.Command {
	var (
		in    inventory.CreateItemInput
		price string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add an item to the catalogue",
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
				if !cmd.Flags().Changed("available") {
					in.AvailableStock = in.TotalStock - in.ReservedStock
				}
				item, err := app.Ledger.CreateItem(ctx, actor, in)
				if err != nil {
					return err
				}
				return out.Result(item, func(w io.Writer) { printItem(w, item) })
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&in.Code, "code", "", "item code")
	f.StringVar(&in.Name, "name", "", "item name")
	f.StringVar(&in.Category, "category", "", "category")
	f.StringVar(&in.Description, "description", "", "description")
	f.StringVar(&in.Location, "location", "", "shelf or bin")
	f.StringVar(&price, "unit-price", "0", "unit price")
	f.IntVar(&in.TotalStock, "total", 0, "units held")
	f.IntVar(&in.AvailableStock, "available", 0, "units free to reserve (default total minus reserved)")
	f.IntVar(&in.ReservedStock, "reserved", 0, "units already reserved")
	return cmd
}

func (c *command) itemGetCommand() *cobra.Command {
	var byCode bool

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				var (
					item *models.InventoryItem
					err  error
				)
				if byCode {
					item, err = app.Ledger.GetItemByCode(ctx, args[0])
				} else {
					item, err = app.Ledger.GetItem(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return out.Result(item, func(w io.Writer) { printItem(w, item) })
			})
		},
	}

	cmd.Flags().BoolVar(&byCode, "code", false, "look the item up by code")
	return cmd
}

func (c *command) itemListCommand() *cobra.Command {
	var (
		filter models.ItemFilter
		page   models.Pagination
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalogue items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				list, err := app.Ledger.ListItems(ctx, filter, page)
				if err != nil {
					return err
				}
				return out.Result(list, func(w io.Writer) {
					printItems(w, list.Items)
					fmt.Fprintf(w, "\npage %d of %d, %d item(s)\n", list.Page, list.TotalPages, list.Total)
				})
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&filter.Category, "category", "", "only this category")
	f.StringVar(&filter.Search, "search", "", "match name, code or description")
	f.BoolVar(&filter.ActiveOnly, "active", false, "only active items")
	f.BoolVar(&filter.InStockOnly, "in-stock", false, "only items with available stock")
	addPageFlags(cmd, &page)
	return cmd
}

func (c *command) itemRestockCommand() *cobra.Command {
	var notes string

	cmd := &cobra.Command{
		Use:   "restock <id> <qty>",
		Short: "Receive new units of an item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				actor, err := c.actor()
				if err != nil {
					return err
				}
				qty, err := parseQuantity(args[1])
				if err != nil {
					return err
				}
				item, err := app.Ledger.Restock(ctx, actor, args[0], qty, notes)
				if err != nil {
					return err
				}
				return out.Result(item, func(w io.Writer) { printItem(w, item) })
			})
		},
	}

	cmd.Flags().StringVar(&notes, "notes", "", "notes for the stock movement")
	return cmd
}

func (c *command) itemAdjustCommand() *cobra.Command {
	var in inventory.AdjustInput

	cmd := &cobra.Command{
		Use:   "adjust <id>",
		Short: "Set all three stock counters after a stock count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				actor, err := c.actor()
				if err != nil {
					return err
				}
				item, err := app.Ledger.AdjustStock(ctx, actor, args[0], in)
				if err != nil {
					return err
				}
				return out.Result(item, func(w io.Writer) { printItem(w, item) })
			})
		},
	}

	f := cmd.Flags()
	f.IntVar(&in.TotalStock, "total", 0, "units held")
	f.IntVar(&in.AvailableStock, "available", 0, "units free to reserve")
	f.IntVar(&in.ReservedStock, "reserved", 0, "units reserved")
	f.StringVar(&in.Notes, "notes", "", "reason for the adjustment")
	for _, name := range []string{"total", "available", "reserved"} {
		cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (c *command) itemActiveCommand(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				actor, err := c.actor()
				if err != nil {
					return err
				}
				if err := app.Ledger.SetActive(ctx, actor, args[0], active); err != nil {
					return err
				}
				return out.Success(fmt.Sprintf("item %s %sd", args[0], use))
			})
		},
	}
}

func (c *command) itemDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an item that no requisition or purchase refers to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				actor, err := c.actor()
				if err != nil {
					return err
				}
				if err := app.Ledger.DeleteItem(ctx, actor, args[0]); err != nil {
					return err
				}
				return out.Success(fmt.Sprintf("item %s deleted", args[0]))
			})
		},
	}
}

func (c *command) itemLowStockCommand() *cobra.Command {
	var threshold int

	cmd := &cobra.Command{
		Use:   "low-stock",
		Short: "List active items at or below the low-stock threshold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				limit := app.Ledger.Threshold()
				if cmd.Flags().Changed("threshold") {
					limit = threshold
				}
				items, err := app.Ledger.LowStock(ctx, limit)
				if err != nil {
					return err
				}
				return out.Result(items, func(w io.Writer) { printItems(w, items) })
			})
		},
	}

	cmd.Flags().IntVar(&threshold, "threshold", 0, "override the configured threshold")
	return cmd
}

func (c *command) itemOutOfStockCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "out-of-stock",
		Short: "List active items with nothing available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				items, err := app.Ledger.OutOfStock(ctx)
				if err != nil {
					return err
				}
				return out.Result(items, func(w io.Writer) { printItems(w, items) })
			})
		},
	}
}

func (c *command) itemCategoriesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List the catalogue categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				categories, err := app.Ledger.Categories(ctx)
				if err != nil {
					return err
				}
				return out.Result(categories, func(w io.Writer) {
					for _, category := range categories {
						fmt.Fprintln(w, category)
					}
				})
			})
		},
	}
}

func (c *command) itemStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise active inventory and its value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				stats, err := app.Ledger.Statistics(ctx)
				if err != nil {
					return err
				}
				return out.Result(stats, func(w io.Writer) {
					fmt.Fprintf(w, "Items:\t%d\n", stats.TotalItems)
					fmt.Fprintf(w, "Low stock:\t%d\n", stats.LowStockItems)
					fmt.Fprintf(w, "Out of stock:\t%d\n", stats.OutOfStockItems)
					fmt.Fprintf(w, "Stock value:\t%s\n", stats.TotalStockValue.StringFixed(2))
					fmt.Fprintf(w, "Available value:\t%s\n", stats.AvailableStockValue.StringFixed(2))
					fmt.Fprintf(w, "Reserved value:\t%s\n", stats.ReservedStockValue.StringFixed(2))
				})
			})
		},
	}
}

func (c *command) itemMovementsCommand() *cobra.Command {
	var (
		filter   models.MovementFilter
		movement string
		page     models.Pagination
	)

	cmd := &cobra.Command{
		Use:   "movements [id]",
		Short: "Show the stock movement ledger, latest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				if len(args) == 1 {
					filter.InventoryItemID = args[0]
				}
				filter.Type = models.MovementType(movement)
				list, err := app.Ledger.Movements(ctx, filter, page)
				if err != nil {
					return err
				}
				return out.Result(list, func(w io.Writer) {
					fmt.Fprintln(w, "WHEN\tTYPE\tQTY\tBEFORE\tAFTER\tREFERENCE\tITEM")
					for _, m := range list.Movements {
						ref := "-"
						if m.ReferenceType != nil {
							ref = *m.ReferenceType + ":" + deref(m.ReferenceID)
						}
						fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
							formatTime(&m.CreatedAt), m.Type, m.Quantity,
							levels(m.Before), levels(m.After), ref, m.InventoryItemID)
					}
					fmt.Fprintf(w, "\npage %d of %d, %d movement(s)\n", list.Page, list.TotalPages, list.Total)
				})
			})
		},
	}

	cmd.Flags().StringVar(&movement, "type", "", "only this movement type")
	cmd.Flags().StringVar(&filter.ReferenceType, "reference-type", "", "only movements caused by this kind of record")
	cmd.Flags().StringVar(&filter.ReferenceID, "reference", "", "only movements caused by this record")
	addPageFlags(cmd, &page)
	return cmd
}

func levels(l models.StockLevels) string {
	return fmt.Sprintf("%d/%d/%d", l.Total, l.Available, l.Reserved)
}

func (c *command) availabilityCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "availability <item-id:qty>...",
		Short: "Check whether stock can cover a prospective requisition",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				lines := make([]models.StockLine, 0, len(args))
				for _, arg := range args {
					line, err := parseStockLine(arg)
					if err != nil {
						return err
					}
					lines = append(lines, line)
				}
				results, err := app.Ledger.CheckAvailability(ctx, lines)
				if err != nil {
					return err
				}
				return out.Result(results, func(w io.Writer) {
					fmt.Fprintln(w, "ITEM\tREQUESTED\tAVAILABLE\tOK\tMESSAGE")
					for _, r := range results {
						name := r.Name
						if name == "" {
							name = r.InventoryItemID
						}
						fmt.Fprintf(w, "%s\t%d\t%d\t%t\t%s\n", name, r.RequestedQuantity, r.AvailableStock, r.Available, r.Message)
					}
				})
			})
		},
	}
}
