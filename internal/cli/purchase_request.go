package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/storekeeper/storekeeper/internal/apperr"
	"github.com/storekeeper/storekeeper/internal/models"
	"github.com/storekeeper/storekeeper/internal/services/procurement"
)

func (c *command) purchaseRequestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "purchase-request",
		Aliases: []string{"pr"},
		Short:   "Raise purchase requests and take them through review and finance",
	}

	cmd.AddCommand(
		c.purchaseRequestCreateCommand(),
		c.purchaseRequestGetCommand(),
		c.purchaseRequestListCommand(),
		c.purchaseRequestReviewCommand(),
		c.purchaseRequestApproveCommand(),
		c.purchaseRequestRejectCommand(),
		c.purchaseRequestCancelCommand(),
		c.purchaseRequestPendingCommand(),
		c.purchaseRequestStatsCommand(),
	)
	return cmd
}

func printPurchaseRequest(w io.Writer, pr *models.PurchaseRequest) {
	fmt.Fprintf(w, "Code:\t%s\n", pr.RequestCode)
	fmt.Fprintf(w, "ID:\t%s\n", pr.ID)
	fmt.Fprintf(w, "Requested by:\t%s\n", pr.RequestedBy)
	fmt.Fprintf(w, "Branch:\t%s\n", pr.Branch)
	fmt.Fprintf(w, "Priority:\t%s\n", pr.Priority)
	fmt.Fprintf(w, "Status:\t%s (admin %s, finance %s)\n", pr.Status, pr.AdminStatus, pr.FinanceStatus)
	fmt.Fprintf(w, "Total:\t%s\n", pr.TotalAmount.StringFixed(2))
	if pr.RejectionReason != nil {
		fmt.Fprintf(w, "Rejection reason:\t%s\n", *pr.RejectionReason)
	}
	if len(pr.Items) == 0 {
		return
	}
	fmt.Fprintln(w, "\nITEM\tCODE\tQTY\tUNIT\tTOTAL")
	for _, line := range pr.Items {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			line.ItemName, line.ItemCode, line.Quantity, line.UnitPrice.StringFixed(2), line.Total.StringFixed(2))
	}
}

func printPurchaseRequests(w io.Writer, list *models.PurchaseRequestList) {
	fmt.Fprintln(w, "CODE\tREQUESTED BY\tBRANCH\tPRIORITY\tSTATUS\tADMIN\tFINANCE\tTOTAL")
	for _, pr := range list.Requests {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			pr.RequestCode, pr.RequestedBy, pr.Branch, pr.Priority, pr.Status, pr.AdminStatus, pr.FinanceStatus, pr.TotalAmount.StringFixed(2))
	}
	fmt.Fprintf(w, "\npage %d of %d, %d request(s)\n", list.Page, list.TotalPages, list.Total)
}

// parseRequestLine parses "<ref>:<qty>:<unit-price>". The reference is an
// item id for catalogued lines and a name for new ones.
func parseRequestLine(arg string) (procurement.RequestLineInput, error) {
	parts, err := splitLine(arg, 3, 3)
	if err != nil {
		return procurement.RequestLineInput{}, err
	}
	qty, err := parseQuantity(parts[1])
	if err != nil {
		return procurement.RequestLineInput{}, err
	}
	price, err := parseMoney(parts[2])
	if err != nil {
		return procurement.RequestLineInput{}, err
	}
	return procurement.RequestLineInput{InventoryItemID: parts[0], Quantity: qty, UnitPrice: price}, nil
}

func (c *command) purchaseRequestCreateCommand() *cobra.Command {
	var (
		in           procurement.CreateRequestInput
		priority     string
		required     string
		catalogued   []string
		uncatalogued []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Raise a purchase request",
		Example: `  storekeeper purchase-request create --actor u-17 --branch "Head Office" \
    --line 0192f7c1-...:10:4.50 --new "Label printer:1:120"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				actor, err := c.actor()
				if err != nil {
					return err
				}
				in.Priority = models.Priority(priority)
				if in.RequiredDate, err = optionalDate(required); err != nil {
					return err
				}
				in.Items = in.Items[:0]
				for _, arg := range catalogued {
					line, err := parseRequestLine(arg)
					if err != nil {
						return err
					}
					in.Items = append(in.Items, line)
				}
				for _, arg := range uncatalogued {
					line, err := parseRequestLine(arg)
					if err != nil {
						return err
					}
					line.ItemName, line.InventoryItemID = line.InventoryItemID, ""
					in.Items = append(in.Items, line)
				}
				pr, err := app.PurchaseRequests.Create(ctx, actor, in)
				if err != nil {
					return err
				}
				return out.Result(pr, func(w io.Writer) { printPurchaseRequest(w, pr) })
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&in.Branch, "branch", "", "requesting branch")
	f.StringVar(&priority, "priority", "", "low|medium|high|urgent (default medium)")
	f.StringVar(&in.Justification, "justification", "", "why the purchase is needed")
	f.StringVar(&required, "required-date", "", "date the goods are needed by ("+DateLayout+")")
	f.StringArrayVar(&catalogued, "line", nil, "catalogued line as <item-id>:<qty>:<unit-price>, repeatable")
	f.StringArrayVar(&uncatalogued, "new", nil, "uncatalogued line as <name>:<qty>:<unit-price>, repeatable")
	return cmd
}

func (c *command) purchaseRequestGetCommand() *cobra.Command {
	var byCode bool

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a purchase request with its lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				var (
					pr  *models.PurchaseRequest
					err error
				)
				if byCode {
					pr, err = app.PurchaseRequests.GetByCode(ctx, args[0])
				} else {
					pr, err = app.PurchaseRequests.Get(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return out.Result(pr, func(w io.Writer) { printPurchaseRequest(w, pr) })
			})
		},
	}

	cmd.Flags().BoolVar(&byCode, "code", false, "look the request up by PR code")
	return cmd
}

func (c *command) purchaseRequestListCommand() *cobra.Command {
	var (
		filter                           models.PurchaseRequestFilter
		status, admin, finance, priority string
		from, to                         string
		mine                             bool
		page                             models.Pagination
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List purchase requests, latest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				filter.Status = models.PurchaseRequestStatus(status)
				filter.AdminStatus = models.AdminStatus(admin)
				filter.FinanceStatus = models.FinanceStatus(finance)
				filter.Priority = models.Priority(priority)
				var err error
				if filter.Range, err = dateRange(from, to); err != nil {
					return err
				}
				if mine {
					actor, err := c.actor()
					if err != nil {
						return err
					}
					filter.RequestedBy = actor.ID
				}
				list, err := app.PurchaseRequests.List(ctx, filter, page)
				if err != nil {
					return err
				}
				return out.Result(list, func(w io.Writer) { printPurchaseRequests(w, list) })
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&status, "status", "", "only this status")
	f.StringVar(&admin, "admin-status", "", "only this admin status")
	f.StringVar(&finance, "finance-status", "", "only this finance status")
	f.StringVar(&priority, "priority", "", "only this priority")
	f.StringVar(&filter.Branch, "branch", "", "only this branch")
	f.BoolVar(&mine, "mine", false, "only requests raised by --actor")
	addRangeFlags(cmd, &from, &to)
	addPageFlags(cmd, &page)
	return cmd
}

func (c *command) purchaseRequestReviewCommand() *cobra.Command {
	var (
		reject   bool
		comments string
	)

	cmd := &cobra.Command{
		Use:   "review <id>",
		Short: "Record the admin review, passing the request to finance or rejecting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				actor, err := c.actor()
				if err != nil {
					return err
				}
				pr, err := app.PurchaseRequests.Review(ctx, actor, args[0], !reject, comments)
				if err != nil {
					return err
				}
				return out.Result(pr, func(w io.Writer) { printPurchaseRequest(w, pr) })
			})
		},
	}

	cmd.Flags().BoolVar(&reject, "reject", false, "reject instead of passing to finance")
	cmd.Flags().StringVar(&comments, "comments", "", "review comments")
	return cmd
}

func (c *command) purchaseRequestApproveCommand() *cobra.Command {
	var comments string

	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Record finance approval of a reviewed request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				actor, err := c.actor()
				if err != nil {
					return err
				}
				pr, err := app.PurchaseRequests.Approve(ctx, actor, args[0], comments)
				if err != nil {
					return err
				}
				return out.Result(pr, func(w io.Writer) { printPurchaseRequest(w, pr) })
			})
		},
	}

	cmd.Flags().StringVar(&comments, "comments", "", "approval comments")
	return cmd
}

func (c *command) purchaseRequestRejectCommand() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Turn down a request that has not ended yet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				actor, err := c.actor()
				if err != nil {
					return err
				}
				pr, err := app.PurchaseRequests.Reject(ctx, actor, args[0], reason)
				if err != nil {
					return err
				}
				return out.Result(pr, func(w io.Writer) { printPurchaseRequest(w, pr) })
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	return cmd
}

func (c *command) purchaseRequestCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Withdraw your own pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				actor, err := c.actor()
				if err != nil {
					return err
				}
				pr, err := app.PurchaseRequests.Cancel(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return out.Result(pr, func(w io.Writer) { printPurchaseRequest(w, pr) })
			})
		},
	}
}

func (c *command) purchaseRequestPendingCommand() *cobra.Command {
	var (
		stage string
		page  models.Pagination
	)

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List requests waiting for review or finance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				var (
					list *models.PurchaseRequestList
					err  error
				)
				switch stage {
				case "review":
					list, err = app.PurchaseRequests.PendingReview(ctx, page)
				case "finance":
					list, err = app.PurchaseRequests.PendingFinance(ctx, page)
				default:
					return apperr.Invalid("unknown stage %q: must be review or finance", stage)
				}
				if err != nil {
					return err
				}
				return out.Result(list, func(w io.Writer) { printPurchaseRequests(w, list) })
			})
		},
	}

	cmd.Flags().StringVar(&stage, "stage", "review", "review|finance")
	addPageFlags(cmd, &page)
	return cmd
}

func (c *command) purchaseRequestStatsCommand() *cobra.Command {
	var mine bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count purchase requests by stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *App, out *OutputFormatter) error {
				var requestedBy string
				if mine {
					actor, err := c.actor()
					if err != nil {
						return err
					}
					requestedBy = actor.ID
				}
				stats, err := app.PurchaseRequests.Statistics(ctx, requestedBy)
				if err != nil {
					return err
				}
				return out.Result(stats, func(w io.Writer) {
					fmt.Fprintf(w, "Total:\t%d\n", stats.Total)
					fmt.Fprintf(w, "Pending:\t%d\n", stats.Pending)
					fmt.Fprintf(w, "Awaiting review:\t%d\n", stats.PendingReview)
					fmt.Fprintf(w, "Awaiting finance:\t%d\n", stats.PendingFinance)
					fmt.Fprintf(w, "Approved:\t%d\n", stats.Approved)
					fmt.Fprintf(w, "Completed:\t%d\n", stats.Completed)
					fmt.Fprintf(w, "Rejected:\t%d\n", stats.Rejected)
					fmt.Fprintf(w, "Cancelled:\t%d\n", stats.Cancelled)
					fmt.Fprintf(w, "Approved amount:\t%s\n", stats.TotalApprovedAmount.StringFixed(2))
				})
			})
		},
	}

	cmd.Flags().BoolVar(&mine, "mine", false, "only requests raised by --actor")
	return cmd
}
