package auction

import (
	"context"
	"strings"
	"time"

	pkgerrors "github.com/PASLLC7291/high-end-auction-sub002/pkg/errors"
)

const itemStatusClosed = "CLOSED"

// Item is one lot of a sale as the platform reports it.
type Item struct {
	ID              string
	Title           string
	Status          string
	LeaderID        string
	CurrentBidCents int64
}

// Closed reports whether bidding on the item has ended.
func (i Item) Closed() bool {
	return strings.EqualFold(i.Status, itemStatusClosed)
}

// Won reports whether the item closed with a leader and a positive bid.
func (i Item) Won() bool {
	return i.Closed() && strings.TrimSpace(i.LeaderID) != "" && i.CurrentBidCents > 0
}

// SaleItems is every item of a sale plus the sale currency.
type SaleItems struct {
	SaleID   string
	Currency string
	Items    []Item
}

// Sale is a summary row returned when polling recently closed sales.
type Sale struct {
	ID       string
	Status   string
	ClosedAt time.Time
}

const saleItemsQuery = `query SaleItems($saleId: ID!, $first: Int!, $after: String) {
  sale(id: $saleId) {
    id
    currency
    items(first: $first, after: $after) {
      pageInfo { hasNextPage endCursor }
      nodes {
        id
        title
        status
        leader { id }
        currentBid { amountCents }
      }
    }
  }
}`

type saleItemsData struct {
	Sale *struct {
		ID       string `json:"id"`
		Currency string `json:"currency"`
		Items    struct {
			PageInfo pageInfo `json:"pageInfo"`
			Nodes    []struct {
				ID     string `json:"id"`
				Title  string `json:"title"`
				Status string `json:"status"`
				Leader *struct {
					ID string `json:"id"`
				} `json:"leader"`
				CurrentBid *struct {
					AmountCents int64 `json:"amountCents"`
				} `json:"currentBid"`
			} `json:"nodes"`
		} `json:"items"`
	} `json:"sale"`
}

type pageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// ListSaleItems pages through every item of the sale.
func (c *Client) ListSaleItems(ctx context.Context, saleID string) (*SaleItems, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sale id is required")
	}

	result := &SaleItems{SaleID: saleID}
	var cursor *string
	for {
		vars := map[string]any{"saleId": saleID, "first": c.pageSize, "after": cursor}
		var data saleItemsData
		if err := c.do(ctx, "sale items", saleItemsQuery, vars, &data); err != nil {
			return nil, err
		}
		if data.Sale == nil {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sale not found").WithDetails(map[string]any{"sale_id": saleID})
		}
		if result.Currency == "" {
			result.Currency = strings.ToUpper(strings.TrimSpace(data.Sale.Currency))
		}

		for _, node := range data.Sale.Items.Nodes {
			item := Item{ID: node.ID, Title: node.Title, Status: node.Status}
			if node.Leader != nil {
				item.LeaderID = node.Leader.ID
			}
			if node.CurrentBid != nil {
				item.CurrentBidCents = node.CurrentBid.AmountCents
			}
			result.Items = append(result.Items, item)
		}

		page := data.Sale.Items.PageInfo
		if !page.HasNextPage {
			break
		}
		if page.EndCursor == "" || (cursor != nil && *cursor == page.EndCursor) {
			return nil, pkgerrors.New(pkgerrors.CodeUpstreamMalformed, "sale items pagination did not advance")
		}
		next := page.EndCursor
		cursor = &next
	}

	if result.Currency == "" {
		result.Currency = "USD"
	}
	return result, nil
}

const closedSalesQuery = `query ClosedSales($closedAfter: DateTime!, $first: Int!, $after: String) {
  sales(filter: { status: CLOSED, closedAfter: $closedAfter }, first: $first, after: $after) {
    pageInfo { hasNextPage endCursor }
    nodes { id status closedAt }
  }
}`

type closedSalesData struct {
	Sales struct {
		PageInfo pageInfo `json:"pageInfo"`
		Nodes    []struct {
			ID       string    `json:"id"`
			Status   string    `json:"status"`
			ClosedAt time.Time `json:"closedAt"`
		} `json:"nodes"`
	} `json:"sales"`
}

// ClosedSalesSince lists sales that closed after since.
func (c *Client) ClosedSalesSince(ctx context.Context, since time.Time) ([]Sale, error) {
	var (
		sales  []Sale
		cursor *string
	)
	for {
		vars := map[string]any{
			"closedAfter": since.UTC().Format(time.RFC3339),
			"first":       c.pageSize,
			"after":       cursor,
		}
		var data closedSalesData
		if err := c.do(ctx, "closed sales", closedSalesQuery, vars, &data); err != nil {
			return nil, err
		}
		for _, node := range data.Sales.Nodes {
			sales = append(sales, Sale{ID: node.ID, Status: node.Status, ClosedAt: node.ClosedAt})
		}
		page := data.Sales.PageInfo
		if !page.HasNextPage {
			return sales, nil
		}
		if page.EndCursor == "" || (cursor != nil && *cursor == page.EndCursor) {
			return nil, pkgerrors.New(pkgerrors.CodeUpstreamMalformed, "closed sales pagination did not advance")
		}
		next := page.EndCursor
		cursor = &next
	}
}
