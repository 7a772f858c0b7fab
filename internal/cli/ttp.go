package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/arise/pkg/arise"
	"github.com/aussiebroadwan/arise/pkg/domain"
	"github.com/aussiebroadwan/arise/pkg/taptopay"
	"github.com/aussiebroadwan/arise/pkg/taptopay/simreader"
)

// ttpOptions configure the simulated reader.
type ttpOptions struct {
	linked     bool
	outcome    string
	cardDelay  time.Duration
	abortAfter time.Duration
	watch      bool
	debit      bool
	surcharge  float64
	tip        float64
}

func (a *app) ttpCmd() *cobra.Command {
	opts := &ttpOptions{}

	cmd := &cobra.Command{
		Use:   "ttp",
		Short: "Tap to Pay on a simulated reader",
	}
	cmd.PersistentFlags().BoolVar(&opts.linked, "linked", true, "treat the merchant account as already linked on the reader")

	cmd.AddCommand(a.ttpCompatCmd(opts))
	cmd.AddCommand(a.ttpStatusCmd(opts))
	cmd.AddCommand(a.ttpActivateCmd(opts))
	cmd.AddCommand(a.ttpPrepareCmd(opts))
	cmd.AddCommand(a.ttpChargeCmd(opts))

	return cmd
}

// withTapToPay runs fn against a freshly wired Tap to Pay service.
func (a *app) withTapToPay(
	ctx context.Context,
	opts *ttpOptions,
	fn func(*arise.SDK, *taptopay.Service, *simreader.Reader) error,
) error {
	reader := simreader.New()
	reader.SetAccountLinked(opts.linked)
	if opts.outcome != "" {
		reader.SetOutcome(taptopay.ReaderOutcome(opts.outcome))
	}

	sdk, err := a.openWithReader(ctx, reader)
	if err != nil {
		return err
	}
	defer sdk.Close()

	ttp, err := sdk.TapToPay()
	if err != nil {
		return err
	}
	return fn(sdk, ttp, reader)
}

func (a *app) ttpCompatCmd(opts *ttpOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "compat",
		Short: "Run the local compatibility checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withTapToPay(cmd.Context(), opts, func(_ *arise.SDK, ttp *taptopay.Service, _ *simreader.Reader) error {
				return printJSON(cmd, ttp.CheckCompatibility())
			})
		},
	}
}

func (a *app) ttpStatusCmd(opts *ttpOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Read the activation status from the backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return a.withTapToPay(ctx, opts, func(_ *arise.SDK, ttp *taptopay.Service, _ *simreader.Reader) error {
				status, err := ttp.GetStatus(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), status)
				return err
			})
		},
	}
}

func (a *app) ttpActivateCmd(opts *ttpOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "activate",
		Short: "Activate Tap to Pay for this device",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return a.withTapToPay(ctx, opts, func(_ *arise.SDK, ttp *taptopay.Service, _ *simreader.Reader) error {
				if err := ttp.Activate(ctx); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), ttp.State())
				return err
			})
		},
	}
}

func (a *app) ttpPrepareCmd(opts *ttpOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prepare",
		Short: "Configure the reader for an active device",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return a.withTapToPay(ctx, opts, func(_ *arise.SDK, ttp *taptopay.Service, _ *simreader.Reader) error {
				if err := ttp.Prepare(ctx); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), ttp.State())
				return err
			})
		},
	}
}

func (a *app) ttpChargeCmd(opts *ttpOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "charge <amount>",
		Short: "Prepare the reader and charge amount",
		Long: `charge prepares the reader and runs one transaction.

With --surcharge or --tip the amount is treated as the base amount and the
transaction goes through the calculation-aware path, as required for
merchants using surcharge pricing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[0], err)
			}

			ctx := cmd.Context()
			return a.withTapToPay(ctx, opts, func(_ *arise.SDK, ttp *taptopay.Service, reader *simreader.Reader) error {
				return a.charge(cmd, ttp, reader, opts, amount)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.outcome, "outcome", "", "simulated outcome: approved, declined, cancelled or error")
	flags.DurationVar(&opts.cardDelay, "card-delay", 0, "simulated time until the card is presented")
	flags.DurationVar(&opts.abortAfter, "abort-after", 0, "abort the transaction after this long")
	flags.BoolVar(&opts.watch, "watch", false, "print reader events to stderr")
	flags.BoolVar(&opts.debit, "debit", false, "charge the debit option of the calculation")
	flags.Float64Var(&opts.surcharge, "surcharge", 0, "surcharge rate in percent")
	flags.Float64Var(&opts.tip, "tip", 0, "tip amount")
	return cmd
}

func (a *app) charge(
	cmd *cobra.Command,
	ttp *taptopay.Service,
	reader *simreader.Reader,
	opts *ttpOptions,
	amount float64,
) error {
	ctx := cmd.Context()

	if err := ttp.Prepare(ctx); err != nil {
		return err
	}

	if opts.watch {
		events, stop := ttp.Subscribe(ctx)
		defer stop()
		go func() {
			for ev := range events {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s %s\n", ev.Time.Format(time.RFC3339), ev.Type, ev.Message)
			}
		}()
	}

	if opts.cardDelay > 0 {
		release := reader.HoldTransactions()
		timer := time.AfterFunc(opts.cardDelay, release)
		defer timer.Stop()
		defer release()
	}

	if opts.abortAfter > 0 {
		timer := time.AfterFunc(opts.abortAfter, func() {
			if err := ttp.AbortTransaction(ctx); err != nil {
				a.logger.Warn("abort failed", "error", err)
			}
		})
		defer timer.Stop()
	}

	var (
		res *domain.TransactionResult
		err error
	)
	if opts.surcharge > 0 || opts.tip > 0 {
		res, err = ttp.PerformTransactionWithCalculation(ctx, calculate(amount, opts.surcharge, opts.tip), opts.debit)
	} else {
		res, err = ttp.PerformTransaction(ctx, amount)
	}
	if err != nil {
		return err
	}
	return printJSON(cmd, res)
}

// calculate builds a local calculation for sandbox use. Debit cards are not
// surcharged.
func calculate(base, surchargeRate, tip float64) domain.TransactionCalculation {
	credit := &domain.CalculationOption{
		BaseAmount:  base,
		TipAmount:   tip,
		TotalAmount: taptopay.RoundAmount(base*(1+surchargeRate/100) + tip),
	}
	if surchargeRate > 0 {
		credit.SurchargeRate = &surchargeRate
	}

	debit := &domain.CalculationOption{
		BaseAmount:  base,
		TipAmount:   tip,
		TotalAmount: taptopay.RoundAmount(base + tip),
	}

	return domain.TransactionCalculation{CreditCard: credit, DebitCard: debit}
}
