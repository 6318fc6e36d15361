// Package console is the interactive terminal surface of the bank client.
package console

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/bankdapp/internal/domain"
	"github.com/vadiminshakov/bankdapp/pkg/units"
)

const (
	actionRefresh = "refresh"
	actionConnect = "connect"
	actionQuit    = "quit"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	warning   = lipgloss.AdaptiveColor{Light: "#D7263D", Dark: "#FF5F87"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlight).
			Padding(1, 2)

	labelStyle   = lipgloss.NewStyle().Foreground(subtle).Width(16)
	successStyle = lipgloss.NewStyle().Foreground(special).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(warning).Bold(true)
)

var actionTitles = map[domain.OperationKind]string{
	domain.OperationDeposit:              "Deposit",
	domain.OperationWithdraw:             "Withdraw",
	domain.OperationTransfer:             "Transfer",
	domain.OperationCreateFixedDeposit:   "Create fixed deposit",
	domain.OperationWithdrawFixedDeposit: "Withdraw fixed deposit",
}

type bank interface {
	Connect(ctx context.Context) (common.Address, error)
	Account() (common.Address, bool)
	Snapshot() (domain.BalanceSnapshot, bool)
	Refresh(ctx context.Context) (domain.BalanceSnapshot, error)
	Execute(ctx context.Context, req domain.OperationRequest) (domain.TransactionOutcome, error)
}

// Run shows the balance panel and runs actions picked by the user until quit or ctx is done.
func Run(ctx context.Context, b bank) error {
	var message string

	for ctx.Err() == nil {
		fmt.Print("\033[H\033[2J")
		fmt.Println(headerStyle.Render("BANK DAPP"))
		account, connected := b.Account()
		snap, ok := b.Snapshot()
		fmt.Println(RenderBalances(account, connected, snap, ok))
		if message != "" {
			fmt.Println(message)
		}

		var action string
		err := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("What do you want to do?").
					Options(actionOptions(connected)...).
					Value(&action),
			),
		).RunWithContext(ctx)
		if err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return nil
			}
			return err
		}

		switch action {
		case actionQuit:
			return nil
		case actionConnect:
			_, err := b.Connect(ctx)
			message = RenderResult("Wallet connected", err)
		case actionRefresh:
			_, err := b.Refresh(ctx)
			message = RenderResult("Balances refreshed", err)
		default:
			kind, ok := domain.ParseOperationKind(action)
			if !ok {
				message = RenderResult("", errors.Wrapf(domain.ErrInvalidRequest, "unknown action %q", action))
				continue
			}
			req, err := askRequest(ctx, kind)
			if err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					message = ""
					continue
				}
				return err
			}
			fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Confirm the transaction in your wallet..."))
			out, err := b.Execute(ctx, req)
			message = RenderOutcome(out, err)
		}
	}

	return ctx.Err()
}

func actionOptions(connected bool) []huh.Option[string] {
	if !connected {
		return []huh.Option[string]{
			huh.NewOption("Connect wallet", actionConnect),
			huh.NewOption("Quit", actionQuit),
		}
	}

	opts := make([]huh.Option[string], 0, len(domain.OperationKinds)+2)
	for _, k := range domain.OperationKinds {
		opts = append(opts, huh.NewOption(actionTitles[k], k.String()))
	}
	return append(opts,
		huh.NewOption("Refresh balances", actionRefresh),
		huh.NewOption("Quit", actionQuit),
	)
}

func askRequest(ctx context.Context, kind domain.OperationKind) (domain.OperationRequest, error) {
	req := domain.OperationRequest{Kind: kind}

	var fields []huh.Field
	if kind.RequiresRecipient() {
		fields = append(fields, huh.NewInput().
			Title("Recipient").
			Description("Hex address (0x...)").
			Value(&req.Recipient).
			Validate(validateRecipient))
	}
	if kind.RequiresAmount() {
		fields = append(fields, huh.NewInput().
			Title("Amount").
			Description("In ether, e.g. 0.5").
			Value(&req.Amount).
			Validate(validateAmount))
	}
	if len(fields) == 0 {
		var confirm bool
		fields = append(fields, huh.NewConfirm().
			Title(actionTitles[kind]+"?").
			Affirmative("Yes").
			Negative("No").
			Value(&confirm))
		if err := huh.NewForm(huh.NewGroup(fields...)).RunWithContext(ctx); err != nil {
			return req, err
		}
		if !confirm {
			return req, huh.ErrUserAborted
		}
		return req, nil
	}

	err := huh.NewForm(huh.NewGroup(fields...).Title(actionTitles[kind])).RunWithContext(ctx)
	return req, err
}

// RenderBalances draws the balance panel.
func RenderBalances(account common.Address, connected bool, snap domain.BalanceSnapshot, ok bool) string {
	var b strings.Builder

	if !connected {
		b.WriteString(errorStyle.Render("Wallet not connected"))
		return panelStyle.Render(b.String())
	}

	b.WriteString(labelStyle.Render("Account") + account.Hex() + "\n")
	if !ok {
		b.WriteString(labelStyle.Render("Balances") + "loading...")
		return panelStyle.Render(b.String())
	}
	if snap.Account != account {
		b.WriteString(labelStyle.Render("Balances") + "of " + snap.Account.Hex() + ", refreshing\n")
	}
	b.WriteString(labelStyle.Render("Spendable") + snap.Spendable.String() + " ETH\n")
	b.WriteString(labelStyle.Render("Fixed deposit") + snap.FixedDeposit.String() + " ETH\n")
	b.WriteString(labelStyle.Render("Bank total") + snap.ContractTotal.String() + " ETH")

	return panelStyle.Render(b.String())
}

// RenderOutcome turns a finished run into a one-line message.
func RenderOutcome(out domain.TransactionOutcome, err error) string {
	if err != nil {
		return errorStyle.Render("✗ " + domain.Describe(err))
	}

	title := actionTitles[out.Kind]
	switch out.Status {
	case domain.TxStatusConfirmed:
		msg := successStyle.Render(fmt.Sprintf("✓ %s confirmed", title))
		if out.TxHash != "" {
			msg += lipgloss.NewStyle().Foreground(subtle).Render(" " + out.TxHash)
		}
		if out.SyncErr != nil {
			msg += "\n" + errorStyle.Render("! "+domain.Describe(out.SyncErr))
		}
		return msg
	case domain.TxStatusRejected:
		return errorStyle.Render(fmt.Sprintf("✗ %s: %s", title, domain.Describe(out.Err)))
	default:
		return errorStyle.Render(fmt.Sprintf("✗ %s failed: %s", title, domain.Describe(out.Err)))
	}
}

// RenderResult renders the result of a non-transaction action.
func RenderResult(success string, err error) string {
	if err != nil {
		return errorStyle.Render("✗ " + domain.Describe(err))
	}
	return successStyle.Render("✓ " + success)
}

func validateAmount(s string) error {
	wei, err := units.ToBaseUnit(s)
	if err != nil {
		return fmt.Errorf("must be a valid amount with at most %d decimals", units.Decimals)
	}
	if wei.Sign() == 0 {
		return fmt.Errorf("must be greater than 0")
	}
	return nil
}

func validateRecipient(s string) error {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return fmt.Errorf("must be a hex address")
	}
	if common.HexToAddress(s) == (common.Address{}) {
		return fmt.Errorf("cannot send to the zero address")
	}
	return nil
}
