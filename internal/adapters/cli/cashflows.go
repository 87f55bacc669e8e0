package cli

import (
	"context"

	"github.com/spf13/cobra"

	"labsales/internal/app"
	"labsales/internal/core"
)

func (c *cli) invoiceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "invoice",
		Aliases: []string{"invoices"},
		Short:   "Inspect invoices",
	}

	var filter core.InvoiceFilter
	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List invoices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Status = core.Status(status)
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.ListInvoices(ctx, filter)
			})
		},
	}
	list.Flags().Int64Var(&filter.PartnerID, "partner", 0, "filter by partner ID")
	list.Flags().StringVar(&status, "status", "", "filter by status")

	show := &cobra.Command{
		Use:   "show INVOICE_ID",
		Short: "Show an invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("invoice ID", args[0])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.GetInvoice(ctx, id)
			})
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func (c *cli) receiptCommand() *cobra.Command {
	var req app.ReceiptRequest
	var amount string
	cmd := &cobra.Command{
		Use:   "receipt",
		Short: "Record money received against an invoice",
		Long: `Record money received against an invoice. The receipt waits for confirmation
unless its payment method confirms automatically. Any amount above what the
invoice still owes is credited to the partner balance on confirmation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseAmount("amount", amount)
			if err != nil {
				return err
			}
			req.Amount = d
			req.PaymentMethodID = optInt64(cmd, "method")
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.CreateReceipt(ctx, req)
			})
		},
	}
	cmd.Flags().Int64Var(&req.InvoiceID, "invoice", 0, "invoice ID")
	cmd.Flags().Int64Var(&req.PartnerID, "partner", 0, "paying partner ID (default the invoice partner)")
	cmd.Flags().Int64("method", 0, "payment method ID")
	cmd.Flags().StringVar(&amount, "amount", "", "amount received")
	cmd.Flags().StringVar(&req.Memo, "memo", "", "memo")
	_ = cmd.MarkFlagRequired("invoice")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (c *cli) paymentCommand() *cobra.Command {
	var req app.PaymentRequest
	var amount string
	cmd := &cobra.Command{
		Use:   "payment",
		Short: "Record money paid out to a partner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseAmount("amount", amount)
			if err != nil {
				return err
			}
			req.Amount = d
			req.PaymentMethodID = optInt64(cmd, "method")
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.CreatePayment(ctx, req)
			})
		},
	}
	cmd.Flags().Int64Var(&req.PartnerID, "partner", 0, "partner ID")
	cmd.Flags().Int64("method", 0, "payment method ID")
	cmd.Flags().StringVar(&amount, "amount", "", "amount paid")
	cmd.Flags().StringVar(&req.Memo, "memo", "", "memo")
	_ = cmd.MarkFlagRequired("partner")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (c *cli) cashFlowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cashflow",
		Aliases: []string{"cf"},
		Short:   "Confirm, reject and refund receipts and payments",
	}

	var filter core.CashFlowFilter
	var flowType, status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List cash flows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.FlowType = core.FlowType(flowType)
			filter.Status = core.Status(status)
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.ListCashFlows(ctx, filter)
			})
		},
	}
	list.Flags().StringVar(&flowType, "type", "", "receipt or payment")
	list.Flags().Int64Var(&filter.PartnerID, "partner", 0, "filter by partner ID")
	list.Flags().Int64Var(&filter.InvoiceID, "invoice", 0, "filter by invoice ID")
	list.Flags().StringVar(&status, "status", "", "filter by status")

	show := &cobra.Command{
		Use:   "show CASH_FLOW_ID",
		Short: "Show a cash flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("cash flow ID", args[0])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.GetCashFlow(ctx, id)
			})
		},
	}

	amount := &cobra.Command{
		Use:   "amount CASH_FLOW_ID AMOUNT",
		Short: "Correct the amount of a waiting cash flow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("cash flow ID", args[0])
			if err != nil {
				return err
			}
			d, err := parseAmount("amount", args[1])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.UpdateCashFlowAmount(ctx, id, d)
			})
		},
	}

	cmd.AddCommand(list, show, amount)
	for _, action := range []struct{ name, short string }{
		{"confirm", "Confirm a waiting cash flow and apply it"},
		{"reject", "Reject a waiting cash flow"},
		{"refund", "Refund a confirmed cash flow"},
	} {
		cmd.AddCommand(c.cashFlowActionCommand(action.name, action.short))
	}
	return cmd
}

func (c *cli) cashFlowActionCommand(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " CASH_FLOW_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("cash flow ID", args[0])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.TransitionCashFlow(ctx, id, action)
			})
		},
	}
}

func (c *cli) methodCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "method",
		Short: "Manage payment methods",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List payment methods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.ListPaymentMethods(ctx)
			})
		},
	}

	var req app.PaymentMethodRequest
	var fee string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a payment method",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseAmount("fee", fee)
			if err != nil {
				return err
			}
			req.TransferFee = d
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.CreatePaymentMethod(ctx, req)
			})
		},
	}
	create.Flags().StringVar(&req.Name, "name", "", "method name")
	create.Flags().StringVar(&req.RateMethod, "rate", core.RatePercent, "transfer fee rate method, PERCENT or NOMINAL")
	create.Flags().StringVar(&fee, "fee", "0", "transfer fee, percent or nominal amount")
	create.Flags().BoolVar(&req.AutoConfirm, "auto-confirm", false, "confirm cash flows on creation")
	_ = create.MarkFlagRequired("name")

	cmd.AddCommand(list, create)
	return cmd
}

func (c *cli) balanceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show and reconcile partner balances",
	}

	show := &cobra.Command{
		Use:   "show PARTNER_ID",
		Short: "Show a partner balance and its mutations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("partner ID", args[0])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.GetPartnerBalance(ctx, id)
			})
		},
	}

	reconcile := &cobra.Command{
		Use:   "reconcile PARTNER_ID",
		Short: "Rebuild the stored balance from the mutation log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("partner ID", args[0])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.ReconcileBalance(ctx, id)
			})
		},
	}

	cmd.AddCommand(show, reconcile)
	return cmd
}
