package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/fitcheck/internal/analysis"
	"github.com/Veraticus/fitcheck/internal/model"
	"github.com/Veraticus/fitcheck/internal/purchase"
)

// RenderBalance formats the remaining credit count.
func RenderBalance(remaining int) string {
	noun := "credits"
	if remaining == 1 {
		noun = "credit"
	}
	line := fmt.Sprintf("%s %s %s left", CreditIcon, CreditStyle.Render(fmt.Sprint(remaining)), noun)
	if remaining == 0 {
		line += "  " + SubtleStyle.Render("(buy a pack with: fitcheck buy)")
	}
	return line
}

// RenderCritique formats the stylist's verdict and item notes.
func RenderCritique(s analysis.Session) string {
	var b strings.Builder
	b.WriteString(BoldStyle.Render(s.Result.OverallComment))
	b.WriteString("\n")

	if len(s.Result.Items) > 0 {
		b.WriteString("\n")
		for _, item := range s.Result.Items {
			fmt.Fprintf(&b, "• %s %s\n  %s\n",
				BoldStyle.Render(item.Name),
				SubtleStyle.Render("("+item.Category+")"),
				item.Comment)
		}
	}

	if !s.Audio.IsZero() {
		fmt.Fprintf(&b, "\n%s %s", SpeakerIcon, SubtleStyle.Render(s.Audio.Path))
	}

	return RenderBox(MirrorIcon+" Verdict", strings.TrimRight(b.String(), "\n"))
}

// RenderSuggestions formats the suggestions and any images found for them.
func RenderSuggestions(s analysis.Session) string {
	if len(s.Result.Suggestions) == 0 {
		return SubtleStyle.Render("No suggestions, the outfit stands on its own.")
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(BagIcon + " Try adding"))
	b.WriteString("\n")
	for i, sug := range s.Result.Suggestions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, BoldStyle.Render(sug.ItemName))
		if sug.Reasoning != "" {
			fmt.Fprintf(&b, "   %s\n", sug.Reasoning)
		}
		switch {
		case len(sug.Results) > 0:
			for _, r := range sug.Results {
				link := r.SourceURL
				if link == "" {
					link = r.ImageURL
				}
				fmt.Fprintf(&b, "   %s %s\n", InfoStyle.Render("↳"), r.Title)
				fmt.Fprintf(&b, "     %s\n", SubtleStyle.Render(link))
			}
		case s.Enrichment == model.StageSearchingImages:
			fmt.Fprintf(&b, "   %s\n", SubtleStyle.Render("searching for images..."))
		default:
			fmt.Fprintf(&b, "   %s\n", SubtleStyle.Render("no images found"))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderCatalog formats the credit packs for sale.
func RenderCatalog(products []model.Product) string {
	if len(products) == 0 {
		return SubtleStyle.Render("No credit packs available right now.")
	}

	rows := make([]string, 0, len(products)+2)
	rows = append(rows, FormatTitle("Credit packs"))
	rows = append(rows, TableHeaderStyle.Render(fmt.Sprintf("%-24s %-18s %8s %9s", "ID", "PACK", "CREDITS", "PRICE")))
	for _, p := range products {
		row := fmt.Sprintf("%-24s %-18s %8s %9s",
			p.ID,
			p.DisplayName,
			CreditStyle.Render(fmt.Sprintf("%8d", p.Credits)),
			p.DisplayPrice)
		switch {
		case p.BestValue:
			row += "  " + SuccessStyle.Render("best value")
		case p.Popular:
			row += "  " + WarningStyle.Render("popular")
		}
		rows = append(rows, TableCellStyle.Render(row))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// RenderHistory formats ledger entries newest first.
func RenderHistory(entries []model.LedgerEntry) string {
	if len(entries) == 0 {
		return SubtleStyle.Render("No credit activity yet.")
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		line := e.String()
		if e.Amount < 0 {
			line = WarningStyle.Render(line)
		} else {
			line = SuccessStyle.Render(line)
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

// RenderOutcome formats the result of a purchase attempt.
func RenderOutcome(o purchase.Outcome) string {
	switch o.Kind {
	case purchase.OutcomeCredited:
		if o.AlreadyGranted {
			return FormatInfo(fmt.Sprintf("Transaction %s was already credited.", o.TransactionID))
		}
		return FormatSuccess(fmt.Sprintf("Added %d credits.", o.Credits))
	case purchase.OutcomeCancelled:
		return FormatInfo("Purchase cancelled.")
	case purchase.OutcomePending:
		return FormatInfo("Purchase is waiting for approval. Credits arrive once it is approved.")
	default:
		msg := "Purchase failed"
		if o.Reason != "" {
			msg += " (" + string(o.Reason) + ")"
		}
		return FormatError(msg + ".")
	}
}

// RenderRestore formats a restore summary.
func RenderRestore(summary purchase.RestoreSummary) string {
	if len(summary.Products) == 0 {
		return FormatInfo("No purchases to restore.")
	}
	lines := []string{
		FormatSuccess(fmt.Sprintf("Restored %d purchases (%d credits worth).",
			summary.Transactions, summary.TotalCredits)),
	}
	for _, id := range summary.Products {
		lines = append(lines, "  • "+id)
	}
	if summary.Unverified > 0 {
		lines = append(lines, FormatWarning(fmt.Sprintf("%d transactions could not be verified and were skipped.", summary.Unverified)))
	}
	return strings.Join(lines, "\n")
}

// RenderTransactions formats store transactions for the sandbox commands.
func RenderTransactions(txns []model.Transaction) string {
	if len(txns) == 0 {
		return SubtleStyle.Render("No transactions.")
	}
	lines := make([]string, len(txns))
	for i, t := range txns {
		status := SuccessStyle.Render(string(t.Verification))
		if !t.IsVerified() {
			status = ErrorStyle.Render(string(t.Verification))
		}
		if t.IsRevoked() {
			status = WarningStyle.Render("revoked")
		}
		lines[i] = fmt.Sprintf("%s  %-24s %s  %s",
			t.ID, t.ProductID, status, SubtleStyle.Render(t.PurchasedAt.Local().Format("2006-01-02 15:04")))
	}
	return strings.Join(lines, "\n")
}
