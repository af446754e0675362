package telegram

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"github.com/roelfdiedericks/voxledger/internal/ledger"
	"github.com/roelfdiedericks/voxledger/internal/session"
)

// MessageLimit is Telegram's maximum message length in characters.
const MessageLimit = 4096

// renderAction turns a machine action into message text and an inline
// keyboard. Each option gets its own row.
func renderAction(act session.Action) (string, *tele.ReplyMarkup) {
	text := truncate(act.Message, MessageLimit)
	if text == "" {
		text = "…"
	}
	if len(act.Options) == 0 {
		return text, nil
	}

	rows := make([][]tele.InlineButton, 0, len(act.Options))
	for _, opt := range act.Options {
		rows = append(rows, []tele.InlineButton{{Text: opt.Label, Data: opt.Choice}})
	}
	return text, &tele.ReplyMarkup{InlineKeyboard: rows}
}

// truncate cuts s to at most n runes, ending with an ellipsis when cut.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}

// costReport renders ledger stats as markdown for /costs.
func costReport(st ledger.Stats, week []ledger.DayCost) string {
	var b strings.Builder
	b.WriteString("## Transcription costs\n\n")
	fmt.Fprintf(&b, "Today: **$%.4f**  \nThis month: **$%.4f**  \nTotal: **$%.4f** (%d transactions)\n\n",
		st.Today, st.ThisMonth, st.Total, st.Transactions)

	if len(st.Providers) > 0 {
		names := make([]string, 0, len(st.Providers))
		for name := range st.Providers {
			names = append(names, name)
		}
		sort.Strings(names)

		b.WriteString("| API | Calls | Usage | Cost |\n|---|---|---|---|\n")
		for _, name := range names {
			pc := st.Providers[name]
			fmt.Fprintf(&b, "| %s | %d | %s | $%.4f |\n", name, pc.Calls, usageLabel(pc), pc.Cost)
		}
		b.WriteString("\n")
	}

	if len(st.FreeTier) > 0 {
		names := make([]string, 0, len(st.FreeTier))
		for name := range st.FreeTier {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ft := st.FreeTier[name]
			fmt.Fprintf(&b, "- %s free tier: %d / %d tokens (%.1f%%)\n", name, ft.Used, ft.Limit, ft.Percentage)
		}
		b.WriteString("\n")
	}

	if len(week) > 0 {
		b.WriteString("| Day | Cost |\n|---|---|\n")
		for _, d := range week {
			fmt.Fprintf(&b, "| %s | $%.4f |\n", d.Day, d.Cost)
		}
	}
	return strings.TrimSpace(b.String())
}

func usageLabel(pc ledger.ProviderCounters) string {
	var parts []string
	if pc.Minutes > 0 {
		parts = append(parts, fmt.Sprintf("%.1f min", pc.Minutes))
	}
	if pc.Tokens > 0 {
		parts = append(parts, fmt.Sprintf("%d tok", pc.Tokens))
	}
	if pc.InputTokens > 0 || pc.OutputTokens > 0 {
		parts = append(parts, fmt.Sprintf("%d/%d tok", pc.InputTokens, pc.OutputTokens))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

const helpText = `## VoxLedger

Send a voice message, audio file or text and pick what it should become: a reminder, a task, a meeting record, an interest or a voice note.

- /menu shows the main menu
- /cancel drops whatever is in progress
- /costs shows transcription spending
- /help shows this message`
