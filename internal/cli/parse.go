package cli

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/storekeeper/storekeeper/internal/apperr"
	"github.com/storekeeper/storekeeper/internal/models"
	"github.com/storekeeper/storekeeper/internal/util"
)

// DateLayout is the layout of date flags.
const DateLayout = "2006-01-02"

// splitLine splits "a:b:c" into at least min and at most max fields.
func splitLine(arg string, min, max int) ([]string, error) {
	parts := strings.SplitN(arg, ":", max)
	if len(parts) < min || parts[0] == "" {
		return nil, apperr.Invalid("malformed line %q", arg)
	}
	return parts, nil
}

func parseQuantity(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, apperr.Invalid("quantity %q is not a whole number", s)
	}
	return n, nil
}

func parseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, apperr.Invalid("amount %q is not a number", s)
	}
	return d, nil
}

// parseStockLine parses "<item-id>:<qty>".
func parseStockLine(arg string) (models.StockLine, error) {
	parts, err := splitLine(arg, 2, 2)
	if err != nil {
		return models.StockLine{}, err
	}
	qty, err := parseQuantity(parts[1])
	if err != nil {
		return models.StockLine{}, err
	}
	return models.StockLine{InventoryItemID: parts[0], Quantity: qty}, nil
}

func parseDate(s string) (time.Time, error) {
	t, err := util.ParseDate(strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, apperr.Invalid("date %q must look like %s", s, DateLayout)
	}
	return t, nil
}

// optionalDate parses s, returning nil when it is empty.
func optionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseDate(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// dateRange builds a range from --from and --to values. Both ends are
// inclusive days.
func dateRange(from, to string) (models.DateRange, error) {
	var r models.DateRange
	var err error
	if r.From, err = optionalDate(from); err != nil {
		return r, err
	}
	if r.To, err = optionalDate(to); err != nil {
		return r, err
	}
	return r, nil
}

func addPageFlags(cmd *cobra.Command, page *models.Pagination) {
	def := models.DefaultPagination()
	cmd.Flags().IntVar(&page.Page, "page", def.Page, "page number")
	cmd.Flags().IntVar(&page.PageSize, "page-size", def.PageSize, "results per page")
}

func addRangeFlags(cmd *cobra.Command, from, to *string) {
	cmd.Flags().StringVar(from, "from", "", "start date ("+DateLayout+")")
	cmd.Flags().StringVar(to, "to", "", "end date ("+DateLayout+"), inclusive")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}
