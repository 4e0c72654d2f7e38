package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/storekeeper/storekeeper/internal/models"
	"github.com/storekeeper/storekeeper/internal/services/requisitions"
)

func (c *command) requisitionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "requisition",
		Aliases: []string{"req"},
		Short:   "Raise and process staff requisitions",
	}

	cmd.AddCommand(
		c.requisitionCreateCommand(),
		c.requisitionGetCommand(),
		c.requisitionListCommand(),
		c.requisitionTransitionCommand("approve", "Approve a pending requisition and keep its stock reserved", "comments", (*requisitions.Service).Approve),
		c.requisitionTransitionCommand("reject", "Reject a pending requisition and release its stock", "reason", (*requisitions.Service).Reject),
		c.requisitionTransitionCommand("cancel", "Withdraw a pending requisition and release its stock", "reason", (*requisitions.Service).Cancel),
		c.requisitionTransitionCommand("cancel-collection", "Abandon collection of an approved requisition", "reason", (*requisitions.Service).CancelCollection),
		c.requisitionTransitionCommand("ready", "Mark an approved requisition ready for pick-up", "comments", (*requisitions.Service).MarkReady),
		c.requisitionTransitionCommand("collect", "Hand out the goods of a ready requisition", "comments", (*requisitions.Service).MarkCollected),
		c.requisitionHistoryCommand(),
		c.requisitionStatsCommand(),
	)
	return cmd
}

func printRequisition(w io.Writer, req *models.Requisition) {
	fmt.Fprintf(w, "ID:\t%s\n", req.ID)
	fmt.Fprintf(w, "Requester:\t%s\n", req.RequesterID)
	fmt.Fprintf(w, "Department:\t%s\n", req.Department)
	fmt.Fprintf(w, "Branch:\t%s\n", req.Branch)
	fmt.Fprintf(w, "Status:\t%s\n", req.Status)
	fmt.Fprintf(w, "Collection:\t%s\n", req.CollectionStatus)
	fmt.Fprintf(w, "Requested:\t%s\n", formatTime(&req.RequestDate))
	if req.ApprovedBy != nil {
		fmt.Fprintf(w, "Decided by:\t%s at %s\n", *req.ApprovedBy, formatTime(req.ApprovalDate))
	}
	if req.RejectionReason != nil {
		fmt.Fprintf(w, "Rejection reason:\t%s\n", *req.RejectionReason)
	}
	if req.CollectedBy != nil {
		fmt.Fprintf(w, "Collected by:\t%s at %s\n", *req.CollectedBy, formatTime(req.CollectionDate))
	}
	if len(req.Items) == 0 {
		return
	}
	fmt.Fprintln(w, "\nITEM\tQTY\tPURPOSE")
	for _, line := range req.Items {
		name := line.InventoryItemID
		if line.Item != nil {
			name = line.Item.Name
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", name, line.Quantity, line.Purpose)
	}
}

// parseRequisitionLine parses "<item-id>:<qty>[:<purpose>]".
func parseRequisitionLine(arg string) (requisitions.LineInput, error) {
	parts, err := splitLine(arg, 2, 3)
	if err != nil {
		return requisitions.LineInput{}, err
	}
	qty, err := parseQuantity(parts[1])
	if err != nil {
		return requisitions.LineInput{}, err
	}
	line := requisitions.LineInput{InventoryItemID: parts[0], Quantity: qty}
	if len(parts) == 3 {
		line.Purpose = parts[2]
	}
	return line, nil
}

func (c *command) requisitionCreateCommand() *cobra.Command {
	var (
		in    requisitions.CreateInput
		lines []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Raise a requisition, reserving every line",
		Example: `  storekeeper requisition create --actor u-17 --department Finance --branch "Head Office" \
    --item 0192f7c1-...:5:"month end" --item 0192f7c2-...:2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				actor, err := c.actor()
				if err != nil {
					return err
				}
				in.Items = in.Items[:0]
				for _, arg := range lines {
					line, err := parseRequisitionLine(arg)
					if err != nil {
						return err
					}
					in.Items = append(in.Items, line)
				}
				req, err := app.Requisitions.Create(ctx, actor, in)
				if err != nil {
					return err
				}
				return out.Result(req, func(w io.Writer) { printRequisition(w, req) })
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&in.Department, "department", "", "requesting department")
	f.StringVar(&in.Branch, "branch", "", "requesting branch")
	f.StringVar(&in.Notes, "notes", "", "notes for the store")
	f.StringArrayVar(&lines, "item", nil, "line as <item-id>:<qty>[:<purpose>], repeatable")
	return cmd
}

func (c *command) requisitionGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a requisition with its lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				req, err := app.Requisitions.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return out.Result(req, func(w io.Writer) { printRequisition(w, req) })
			})
		},
	}
}

func (c *command) requisitionListCommand() *cobra.Command {
	var (
		filter     models.RequisitionFilter
		status     string
		collection string
		mine       bool
		page       models.Pagination
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requisitions, latest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				filter.Status = models.RequisitionStatus(status)
				filter.CollectionStatus = models.CollectionStatus(collection)
				if mine {
					actor, err := c.actor()
					if err != nil {
						return err
					}
					filter.RequesterID = actor.ID
				}
				list, err := app.Requisitions.List(ctx, filter, page)
				if err != nil {
					return err
				}
				return out.Result(list, func(w io.Writer) {
					fmt.Fprintln(w, "ID\tREQUESTER\tDEPARTMENT\tSTATUS\tCOLLECTION\tREQUESTED")
					for _, req := range list.Requisitions {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
							req.ID, req.RequesterID, req.Department, req.Status, req.CollectionStatus, formatTime(&req.RequestDate))
					}
					fmt.Fprintf(w, "\npage %d of %d, %d requisition(s)\n", list.Page, list.TotalPages, list.Total)
				})
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&status, "status", "", "only this status")
	f.StringVar(&collection, "collection", "", "only this collection status")
	f.StringVar(&filter.Department, "department", "", "only this department")
	f.StringVar(&filter.Branch, "branch", "", "only this branch")
	f.BoolVar(&mine, "mine", false, "only requisitions raised by --actor")
	addPageFlags(cmd, &page)
	return cmd
}

type transitionFunc func(s *requisitions.Service, ctx context.Context, actor models.Actor, id, text string) (*models.Requisition, error)

func (c *command) requisitionTransitionCommand(use, short, textFlag string, fn transitionFunc) *cobra.Command {
	var text string

	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				actor, err := c.actor()
				if err != nil {
					return err
				}
				req, err := fn(app.Requisitions, ctx, actor, args[0], text)
				if err != nil {
					return err
				}
				return out.Result(req, func(w io.Writer) { printRequisition(w, req) })
			})
		},
	}

	cmd.Flags().StringVar(&text, textFlag, "", textFlag+" recorded in the status log")
	return cmd
}

func (c *command) requisitionHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show the status log of a requisition, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				logs, err := app.Requisitions.History(ctx, args[0])
				if err != nil {
					return err
				}
				return out.Result(logs, func(w io.Writer) {
					fmt.Fprintln(w, "WHEN\tKIND\tFROM\tTO\tBY\tCOMMENTS")
					for _, entry := range logs {
						from := deref(entry.OldValue)
						if from == "" {
							from = "-"
						}
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
							formatTime(&entry.CreatedAt), entry.Kind, from, entry.NewValue, entry.ChangedBy, entry.Comments)
					}
				})
			})
		},
	}
}

func (c *command) requisitionStatsCommand() *cobra.Command {
	var (
		filter   models.RequisitionStatsFilter
		from, to string
		mine     bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count requisitions by state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				var err error
				if filter.Range, err = dateRange(from, to); err != nil {
					return err
				}
				if mine {
					actor, err := c.actor()
					if err != nil {
						return err
					}
					filter.RequesterID = actor.ID
				}
				stats, err := app.Requisitions.Statistics(ctx, filter)
				if err != nil {
					return err
				}
				return out.Result(stats, func(w io.Writer) {
					fmt.Fprintf(w, "Total:\t%d\n", stats.Total)
					fmt.Fprintf(w, "Pending:\t%d\n", stats.Pending)
					fmt.Fprintf(w, "Approved:\t%d\n", stats.Approved)
					fmt.Fprintf(w, "Ready for collection:\t%d\n", stats.ReadyForCollection)
					fmt.Fprintf(w, "Collected:\t%d\n", stats.Collected)
					fmt.Fprintf(w, "Rejected:\t%d\n", stats.Rejected)
					fmt.Fprintf(w, "Cancelled:\t%d\n", stats.Cancelled)
				})
			})
		},
	}

	cmd.Flags().StringVar(&filter.Department, "department", "", "only this department")
	cmd.Flags().BoolVar(&mine, "mine", false, "only requisitions raised by --actor")
	addRangeFlags(cmd, &from, &to)
	return cmd
}
