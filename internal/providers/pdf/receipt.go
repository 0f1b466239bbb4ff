package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// OrderReceipt is the printable summary of one order.
type OrderReceipt struct {
	ShopName      string
	OrderNumber   string
	Status        string
	SubmittedAt   string
	CompletedAt   string
	CustomerName  string
	CustomerEmail string
	DesignName    string
	SizeCM        int
	Formats       []string
	TokensUsed    int64
	Features      []ReceiptLine
	AdminNotes    string
}

type ReceiptLine struct {
	Description string
	Tokens      int64
}

func (p *PDFProvider) GenerateOrderReceipt(ctx context.Context, receipt OrderReceipt) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	shop := receipt.ShopName
	if shop == "" {
		shop = "Stitchery"
	}
	m.AddRow(20,
		text.NewCol(8, "Order receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, shop, props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New("Order number: "+receipt.OrderNumber, props.Text{Top: 0}),
			text.New("Status: "+receipt.Status, props.Text{Top: 5}),
			text.New("Submitted: "+receipt.SubmittedAt, props.Text{Top: 10}),
			text.New("Completed: "+dash(receipt.CompletedAt), props.Text{Top: 15}),
		),
		col.New(6).Add(
			text.New("Customer", props.Text{Style: fontstyle.Bold, Align: align.Right}),
			text.New(receipt.CustomerName, props.Text{Top: 5, Align: align.Right}),
			text.New(receipt.CustomerEmail, props.Text{Top: 10, Align: align.Right}),
		),
	)

	m.AddRow(4, line.NewCol(12))

	m.AddRow(10,
		text.NewCol(8, "Item", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Tokens", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	var featureTotal int64
	for _, f := range receipt.Features {
		featureTotal += f.Tokens
	}
	m.AddRow(10,
		text.NewCol(8, fmt.Sprintf("Digitizing %q at %d cm", receipt.DesignName, receipt.SizeCM), props.Text{Size: 9}),
		text.NewCol(4, fmt.Sprintf("%d", receipt.TokensUsed), props.Text{Size: 9, Align: align.Right}),
	)
	for _, f := range receipt.Features {
		m.AddRow(8,
			text.NewCol(8, "Add-on: "+f.Description, props.Text{Size: 9}),
			text.NewCol(4, fmt.Sprintf("%d", f.Tokens), props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(10,
		col.New(6),
		text.NewCol(3, "Order total", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(3, fmt.Sprintf("%d tokens", receipt.TokensUsed), props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
	)
	if featureTotal > 0 {
		m.AddRow(8,
			col.New(6),
			text.NewCol(3, "Design add-ons", props.Text{Size: 9}),
			text.NewCol(3, fmt.Sprintf("%d tokens", featureTotal), props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(12,
		text.NewCol(12, "Formats: "+strings.ToUpper(strings.Join(receipt.Formats, ", ")), props.Text{Size: 9, Top: 4}),
	)
	if notes := strings.TrimSpace(receipt.AdminNotes); notes != "" {
		m.AddRow(14,
			text.NewCol(12, "Notes: "+notes, props.Text{Size: 9, Top: 2}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(doc.GetBytes()), nil
}

func dash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}
