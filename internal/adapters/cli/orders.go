package cli

import (
	"context"

	"github.com/spf13/cobra"

	"labsales/internal/app"
)

func (c *cli) orderCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "order",
		Aliases: []string{"orders"},
		Short:   "Create, edit and move sales orders through their lifecycle",
		Long: `Orders are referenced by numeric ID or by order number (e.g. LAB-2026-00012).

Lifecycle: draft -> valid -> approved, where approval follows the first payment.
Laboratory, inspection and calibration orders continue approved -> processed -> complete.`,
	}

	var listReq app.ListOrdersRequest
	list := &cobra.Command{
		Use:   "list",
		Short: "List orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.ListOrders(ctx, listReq)
			})
		},
	}
	list.Flags().StringVar(&listReq.Kind, "kind", "", "filter by kind")
	list.Flags().StringVar(&listReq.Status, "status", "", "filter by status")
	list.Flags().Int64Var(&listReq.CustomerID, "customer", 0, "filter by customer ID")

	show := &cobra.Command{
		Use:   "show REF",
		Short: "Show an order with its lines, fees and invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.GetOrder(ctx, args[0])
			})
		},
	}

	var createReq app.CreateOrderRequest
	var discount string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a draft order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if discount != "" {
				d, err := parseAmount("discount", discount)
				if err != nil {
					return err
				}
				createReq.DiscountPercent = d
			}
			createReq.ContractRef = optString(cmd, "contract")
			createReq.CustomerPO = optString(cmd, "po")
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.CreateOrder(ctx, createReq)
			})
		},
	}
	create.Flags().StringVar(&createReq.Kind, "kind", "", "order kind (default common)")
	create.Flags().Int64Var(&createReq.CustomerID, "customer", 0, "customer partner ID")
	create.Flags().String("contract", "", "contract reference")
	create.Flags().String("po", "", "customer purchase order number")
	create.Flags().StringVar(&discount, "discount", "", "discount percent, 0 to 100")
	create.Flags().StringVar(&createReq.Note, "note", "", "free-form note")
	_ = create.MarkFlagRequired("customer")

	update := &cobra.Command{
		Use:   "update REF",
		Short: "Change header fields of a draft order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := app.UpdateOrderRequest{
				CustomerID:  optInt64(cmd, "customer"),
				ContractRef: optString(cmd, "contract"),
				CustomerPO:  optString(cmd, "po"),
				Note:        optString(cmd, "note"),
			}
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.UpdateOrder(ctx, args[0], req)
			})
		},
	}
	update.Flags().Int64("customer", 0, "customer partner ID (refused once set)")
	update.Flags().String("contract", "", "contract reference")
	update.Flags().String("po", "", "customer purchase order number")
	update.Flags().String("note", "", "free-form note")

	setDiscount := &cobra.Command{
		Use:   "discount REF PERCENT",
		Short: "Set the order discount percent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			percent, err := parseAmount("percent", args[1])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.SetDiscount(ctx, args[0], percent)
			})
		},
	}

	invoice := &cobra.Command{
		Use:   "invoice REF",
		Short: "Show the invoice generated for an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.GetOrderInvoice(ctx, args[0])
			})
		},
	}

	cmd.AddCommand(list, show, create, update, setDiscount, invoice, c.lineCommand(), c.orderFeeCommand())
	for _, action := range []struct{ name, short string }{
		{"draft", "Return an order to draft"},
		{"validate", "Validate a draft order and issue its invoice"},
		{"reject", "Reject an order"},
		{"trash", "Move an order to the trash"},
		{"process", "Mark an approved order as processed"},
		{"complete", "Mark an order as complete"},
	} {
		cmd.AddCommand(c.orderActionCommand(action.name, action.short))
	}
	return cmd
}

func (c *cli) orderActionCommand(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " REF",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.TransitionOrder(ctx, args[0], action)
			})
		},
	}
}

func (c *cli) lineCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "line",
		Short: "Manage product lines and their extra parameters",
	}

	var addReq app.AddLineRequest
	add := &cobra.Command{
		Use:   "add REF PRODUCT_ID",
		Short: "Add a product line priced from the current catalog",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			productID, err := parseID("product ID", args[1])
			if err != nil {
				return err
			}
			addReq.ProductID = productID
			addReq.Quantity = optInt(cmd, "qty")
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.AddLine(ctx, args[0], addReq)
			})
		},
	}
	add.Flags().Int("qty", 1, "quantity, 1 to 500")
	add.Flags().StringVar(&addReq.Note, "note", "", "line note")

	update := &cobra.Command{
		Use:   "update LINE_ID",
		Short: "Change a line's quantity or note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lineID, err := parseID("line ID", args[0])
			if err != nil {
				return err
			}
			req := app.UpdateLineRequest{Quantity: optInt(cmd, "qty"), Note: optString(cmd, "note")}
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.UpdateLine(ctx, lineID, req)
			})
		},
	}
	update.Flags().Int("qty", 0, "quantity, 1 to 500")
	update.Flags().String("note", "", "line note")

	remove := &cobra.Command{
		Use:   "remove LINE_ID",
		Short: "Remove a line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lineID, err := parseID("line ID", args[0])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return nil, svc.RemoveLine(ctx, lineID)
			})
		},
	}

	addParam := &cobra.Command{
		Use:   "add-param LINE_ID PARAMETER_ID",
		Short: "Add an extra test parameter to a line",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lineID, err := parseID("line ID", args[0])
			if err != nil {
				return err
			}
			parameterID, err := parseID("parameter ID", args[1])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.AddLineParameter(ctx, lineID, parameterID)
			})
		},
	}

	removeParam := &cobra.Command{
		Use:   "remove-param LINE_PARAMETER_ID",
		Short: "Remove an extra parameter from a line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("line parameter ID", args[0])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return nil, svc.RemoveLineParameter(ctx, id)
			})
		},
	}

	cmd.AddCommand(add, update, remove, addParam, removeParam)
	return cmd
}

func (c *cli) orderFeeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fee",
		Short: "Manage fees charged on an order",
	}

	var addReq app.AddFeeRequest
	add := &cobra.Command{
		Use:   "add REF FEE_ID",
		Short: "Charge a catalog fee on an order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			feeID, err := parseID("fee ID", args[1])
			if err != nil {
				return err
			}
			addReq.FeeID = feeID
			addReq.Quantity = optInt(cmd, "qty")
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.AddFee(ctx, args[0], addReq)
			})
		},
	}
	add.Flags().Int("qty", 1, "quantity, 1 to 500")
	add.Flags().StringVar(&addReq.Note, "note", "", "fee note")

	update := &cobra.Command{
		Use:   "update ORDER_FEE_ID",
		Short: "Change a fee's quantity or note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("order fee ID", args[0])
			if err != nil {
				return err
			}
			req := app.UpdateFeeRequest{Quantity: optInt(cmd, "qty"), Note: optString(cmd, "note")}
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.UpdateFee(ctx, id, req)
			})
		},
	}
	update.Flags().Int("qty", 0, "quantity, 1 to 500")
	update.Flags().String("note", "", "fee note")

	remove := &cobra.Command{
		Use:   "remove ORDER_FEE_ID",
		Short: "Remove a fee from its order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("order fee ID", args[0])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return nil, svc.RemoveFee(ctx, id)
			})
		},
	}

	cmd.AddCommand(add, update, remove)
	return cmd
}
