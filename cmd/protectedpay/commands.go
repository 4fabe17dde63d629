package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"protectedpay/internal/protectedpay"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:               "protectedpay",
		Short:             "Send, claim and refund protected transfers, group payments and savings pots",
		SilenceUsage:      true,
		PersistentPreRunE: a.connect,
		PersistentPostRun: a.close,
	}
	root.PersistentFlags().BoolVarP(&a.yes, "yes", "y", false, "approve every wallet prompt without asking")

	root.AddCommand(
		registerCmd(a),
		sendCmd(a),
		claimCmd(a),
		refundCmd(a),
		transferCmd(a),
		pendingCmd(a),
		refundableCmd(a),
		profileCmd(a),
		groupCmd(a),
		potCmd(a),
		watchCmd(a),
	)
	return root
}

func registerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "register <username>",
		Short: "Register a username for the connected account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			receipt, err := a.client.RegisterUsername(cmd.Context(), a.signer(), args[0])
			if err != nil {
				return err
			}
			return a.print(receipt)
		},
	}
}

func sendCmd(a *app) *cobra.Command {
	var remarks string
	cmd := &cobra.Command{
		Use:   "send <address|username> <amount>",
		Short: "Send a protected transfer the recipient must claim",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			receipt, err := protectedpay.Send(cmd.Context(), a.client, a.signer(), args[0], args[1], remarks)
			if err != nil {
				return err
			}
			return a.print(receipt)
		},
	}
	cmd.Flags().StringVar(&remarks, "remarks", "", "note stored with the transfer")
	return cmd
}

func claimCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "claim <transfer-id|sender-address|sender-username>",
		Short: "Claim a transfer sent to the connected account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, receipt, err := protectedpay.ClaimTransfer(cmd.Context(), a.client, a.signer(), args[0])
			if err != nil {
				return err
			}
			return a.print(map[string]interface{}{"claimedBy": target.Kind.String(), "receipt": receipt})
		},
	}
}

func refundCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refund <transfer-id>",
		Short: "Refund an unclaimed transfer you sent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArg(args[0])
			if err != nil {
				return err
			}
			receipt, err := a.client.RefundTransfer(cmd.Context(), a.signer(), id)
			if err != nil {
				return err
			}
			return a.print(receipt)
		},
	}
}

func transferCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "transfer", Short: "Inspect transfers"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <transfer-id>",
		Short: "Show one transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArg(args[0])
			if err != nil {
				return err
			}
			transfer, err := a.client.GetTransferDetails(cmd.Context(), a.signer(), id)
			if err != nil {
				return err
			}
			return a.print(transfer)
		},
	})
	return cmd
}

func pendingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pending [address]",
		Short: "List pending transfers sent to or from an account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := a.addressArg(args, 0)
			if err != nil {
				return err
			}
			transfers, err := protectedpay.PendingTransfers(cmd.Context(), a.client, a.signer(), address, a.cfg.Chain.ReadConcurrency)
			if err != nil {
				return err
			}
			return a.print(transfers)
		},
	}
}

func refundableCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refundable [address]",
		Short: "List pending transfers an account sent and may refund",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := a.addressArg(args, 0)
			if err != nil {
				return err
			}
			transfers, err := protectedpay.RefundableTransfers(cmd.Context(), a.client, a.signer(), address, a.cfg.Chain.ReadConcurrency)
			if err != nil {
				return err
			}
			return a.print(transfers)
		},
	}
}

func profileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "profile [address]",
		Short: "Show a profile with every transfer, group payment and pot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := a.addressArg(args, 0)
			if err != nil {
				return err
			}
			profile, err := protectedpay.ResolveProfile(cmd.Context(), a.client, a.signer(), address, a.cfg.Chain.ReadConcurrency)
			if err != nil {
				return err
			}
			return a.print(profile)
		},
	}
}

func groupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "group", Short: "Create and fund group payments"}

	var remarks string
	create := &cobra.Command{
		Use:   "create <recipient-address> <participants> <total-amount>",
		Short: "Create a group payment split between participants",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			recipient, err := a.addressArg(args, 0)
			if err != nil {
				return err
			}
			participants, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid participant count %q", args[1])
			}
			receipt, err := a.client.CreateGroupPayment(cmd.Context(), a.signer(), recipient, participants, args[2], remarks)
			if err != nil {
				return err
			}
			return a.print(receipt)
		},
	}
	create.Flags().StringVar(&remarks, "remarks", "", "note stored with the payment")

	contribute := &cobra.Command{
		Use:   "contribute <payment-id> <amount>",
		Short: "Contribute to a group payment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArg(args[0])
			if err != nil {
				return err
			}
			receipt, err := a.client.ContributeToGroupPayment(cmd.Context(), a.signer(), id, args[1])
			if err != nil {
				return err
			}
			return a.print(receipt)
		},
	}

	show := &cobra.Command{
		Use:   "show <payment-id>",
		Short: "Show a group payment and its progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArg(args[0])
			if err != nil {
				return err
			}
			payment, err := a.client.GetGroupPaymentDetails(cmd.Context(), a.signer(), id)
			if err != nil {
				return err
			}
			return a.print(struct {
				*protectedpay.GroupPayment
				Progress float64 `json:"progress"`
			}{payment, payment.Progress()})
		},
	}

	contribution := &cobra.Command{
		Use:   "contribution <payment-id> [address]",
		Short: "Show what an account contributed to a group payment",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArg(args[0])
			if err != nil {
				return err
			}
			address, err := a.addressArg(args, 1)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			contributed, err := a.client.HasContributedToGroupPayment(ctx, a.signer(), id, address)
			if err != nil {
				return err
			}
			amt, err := a.client.GetGroupPaymentContribution(ctx, a.signer(), id, address)
			if err != nil {
				return err
			}
			return a.print(map[string]interface{}{"id": id, "contributor": address, "contributed": contributed, "amount": amt})
		},
	}

	cmd.AddCommand(create, contribute, show, contribution)
	return cmd
}

func potCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "pot", Short: "Manage savings pots"}

	var remarks string
	create := &cobra.Command{
		Use:   "create <name> <target-amount>",
		Short: "Create a savings pot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			receipt, err := a.client.CreateSavingsPot(cmd.Context(), a.signer(), args[0], args[1], remarks)
			if err != nil {
				return err
			}
			return a.print(receipt)
		},
	}
	create.Flags().StringVar(&remarks, "remarks", "", "note stored with the pot")

	contribute := &cobra.Command{
		Use:   "contribute <pot-id> <amount>",
		Short: "Add funds to a savings pot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArg(args[0])
			if err != nil {
				return err
			}
			receipt, err := a.client.ContributeToSavingsPot(cmd.Context(), a.signer(), id, args[1])
			if err != nil {
				return err
			}
			return a.print(receipt)
		},
	}

	breakPot := &cobra.Command{
		Use:   "break <pot-id>",
		Short: "Break a savings pot and withdraw its balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArg(args[0])
			if err != nil {
				return err
			}
			receipt, err := a.client.BreakPot(cmd.Context(), a.signer(), id)
			if err != nil {
				return err
			}
			return a.print(receipt)
		},
	}

	show := &cobra.Command{
		Use:   "show <pot-id>",
		Short: "Show a savings pot and its progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArg(args[0])
			if err != nil {
				return err
			}
			pot, err := a.client.GetSavingsPotDetails(cmd.Context(), a.signer(), id)
			if err != nil {
				return err
			}
			return a.print(struct {
				*protectedpay.SavingsPot
				Progress float64 `json:"progress"`
			}{pot, pot.Progress()})
		},
	}

	cmd.AddCommand(create, contribute, breakPot, show)
	return cmd
}

// historyFilter is implemented by clients that can replay past events.
type historyFilter interface {
	FilterEvents(ctx context.Context, from, to *big.Int) ([]protectedpay.Event, error)
}

func watchCmd(a *app) *cobra.Command {
	var from int64
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream contract events as JSON lines until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if from >= 0 {
				history, ok := a.client.(historyFilter)
				if !ok {
					return fmt.Errorf("--from is not supported by this client")
				}
				events, err := history.FilterEvents(ctx, big.NewInt(from), nil)
				if err != nil {
					return err
				}
				for _, ev := range events {
					if err := a.printLine(ev); err != nil {
						return err
					}
				}
			}

			sub, err := a.client.SubscribeEvents(ctx, func(ev protectedpay.Event) {
				if err := a.printLine(ev); err != nil {
					a.logger.Warn("write event", zap.Error(err))
				}
			})
			if err != nil {
				return err
			}
			defer sub.Unsubscribe()
			select {
			case <-ctx.Done():
				return nil
			case err := <-sub.Err():
				if err == nil {
					return nil
				}
				return fmt.Errorf("event stream ended: %w", err)
			}
		},
	}
	cmd.Flags().Int64Var(&from, "from", -1, "replay events from this block before streaming")
	return cmd
}

func (a *app) printLine(v interface{}) error {
	return json.NewEncoder(a.out).Encode(v)
}
