package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"yintrade/internal/broadcast"
	"yintrade/internal/game"
	"yintrade/internal/market"
	"yintrade/internal/prefs"

	"github.com/Rhymond/go-money"
	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

// applyTheme swaps the palette for light terminals.
func applyTheme(theme string) {
	if theme == prefs.ThemeLight {
		accent = color.New(color.FgBlue, color.Bold)
		neutral = color.New(color.FgBlack)
		return
	}
	accent = color.New(color.FgCyan, color.Bold)
	neutral = color.New(color.FgHiWhite)
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func printBroadcast(m broadcast.Message) {
	warn.Printf("Admin Broadcast: %s", m.Message)
	neutral.Printf("  (%s)\n", m.SentAt().Local().Format("15:04:05"))
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

// promptPassword hides input on a terminal and falls back to a plain line
// read when stdin is piped.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptSymbol(label string) (string, error) {
	for {
		symbol, err := promptRequired(label)
		if err != nil {
			return "", err
		}
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if err := game.ValidateSymbol(symbol); err != nil {
			printWarn(err.Error())
			continue
		}
		return symbol, nil
	}
}

func promptShares(label string) (int64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		units, err := game.ParseShares(text)
		if err != nil {
			printWarn(err.Error())
			continue
		}
		return units, nil
	}
}

func renderMarket(snap market.Snapshot) {
	accent.Printf("\n== MARKET (%s) ==\n", strings.ToUpper(string(snap.Status)))
	fmt.Printf("Sentiment: %s   Regime: %s   Volatility: %s\n", colorizeSentiment(snap.Sentiment), snap.Regime, snap.Volatility)
	if !snap.TickedAt.IsZero() {
		fmt.Printf("Last tick: %s\n", snap.TickedAt.Local().Format(time.DateTime))
	}
	fmt.Println()
	fmt.Printf("%-8s %-24s %14s %10s\n", "SYMBOL", "NAME", "PRICE", "CHANGE")
	for _, st := range snap.Stocks {
		fmt.Printf("%-8s %-24s %14s %10s\n",
			st.Symbol,
			truncate(st.Name, 24),
			formatMicros(st.PriceMicros),
			colorizePercent(st.ChangePct()),
		)
	}
	fmt.Println()
}

func renderStock(st market.Stock) {
	accent.Printf("\n== %s (%s) ==\n", st.Symbol, st.Name)
	fmt.Printf("Price:  %s\n", formatMicros(st.PriceMicros))
	fmt.Printf("Open:   %s\n", formatMicros(st.OpenMicros))
	fmt.Printf("Change: %s\n", colorizePercent(st.ChangePct()))
	if n := len(st.History); n > 1 {
		fmt.Printf("Trend:  %s over %d ticks\n", colorizeMicros(st.History[n-1]-st.History[0]), n-1)
		fmt.Println()
		accent.Println("Recent Ticks")
		start := n - 8
		if start < 0 {
			start = 0
		}
		for i := n - 1; i >= start; i-- {
			fmt.Printf("  %s\n", formatMicros(st.History[i]))
		}
	}
	fmt.Println()
}

func renderPortfolio(name string, st game.ProfileState, netWorth int64, prices map[string]int64) {
	accent.Printf("\n== PORTFOLIO (%s) ==\n", name)
	fmt.Printf("Cash:        %s\n", formatMicros(st.Portfolio.CashMicros))
	fmt.Printf("Net Worth:   %s\n", formatMicros(netWorth))
	fmt.Printf("P/L vs Start:%s\n", colorizeMicros(netWorth-game.StartingCashMicros))
	fmt.Println()
	accent.Println("Holdings")
	if len(st.Portfolio.Holdings) == 0 {
		printInfo("No open positions yet.")
		fmt.Println()
		return
	}
	symbols := make([]string, 0, len(st.Portfolio.Holdings))
	for sym := range st.Portfolio.Holdings {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	fmt.Printf("%-8s %12s %14s %14s %14s %14s\n", "SYMBOL", "SHARES", "AVG", "NOW", "VALUE", "P/L")
	for _, sym := range symbols {
		h := st.Portfolio.Holdings[sym]
		price := prices[sym]
		value, _ := game.NotionalMicros(price, h.QuantityUnits)
		cost, _ := game.NotionalMicros(h.AvgPriceMicros, h.QuantityUnits)
		fmt.Printf("%-8s %12s %14s %14s %14s %14s\n",
			sym,
			formatShares(h.QuantityUnits),
			formatMicros(h.AvgPriceMicros),
			formatMicros(price),
			formatMicros(value),
			colorizeMicros(value-cost),
		)
	}
	fmt.Println()
}

func renderOrder(o game.Order) {
	accent.Printf("\n== ORDER %s %s ==\n", strings.ToUpper(string(o.Side)), o.Symbol)
	fmt.Printf("ID:     %s\n", o.ID)
	fmt.Printf("Type:   %s\n", o.Type)
	fmt.Printf("Shares: %s\n", formatShares(o.QuantityUnits))
	fmt.Printf("Price:  %s\n", formatMicros(o.PriceMicros))
	fmt.Printf("Status: %s\n", colorizeStatus(o.Status))
	fmt.Println()
}

func renderOrders(title string, list []game.Order) {
	accent.Printf("\n%s\n", title)
	if len(list) == 0 {
		printInfo("None.")
		return
	}
	fmt.Printf("%-36s %-6s %-6s %-8s %12s %14s %-10s\n", "ID", "SIDE", "TYPE", "SYMBOL", "SHARES", "PRICE", "STATUS")
	for _, o := range list {
		fmt.Printf("%-36s %-6s %-6s %-8s %12s %14s %-10s\n",
			o.ID, o.Side, o.Type, o.Symbol,
			formatShares(o.QuantityUnits),
			formatMicros(o.PriceMicros),
			colorizeStatus(o.Status),
		)
	}
}

func colorizeMicros(v int64) string {
	text := formatMicros(v)
	switch {
	case v > 0:
		return success.Sprint("+" + text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizePercent(v float64) string {
	text := fmt.Sprintf("%+.2f%%", v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizeSentiment(s market.Sentiment) string {
	switch s.Label {
	case market.SentimentBullish:
		return success.Sprint(s.Label)
	case market.SentimentBearish:
		return danger.Sprint(s.Label)
	default:
		return neutral.Sprint(s.Label)
	}
}

func colorizeStatus(s game.OrderStatus) string {
	switch s {
	case game.StatusFilled:
		return success.Sprint(s)
	case game.StatusCancelled:
		return danger.Sprint(s)
	default:
		return warn.Sprint(s)
	}
}

// formatMicros renders a dollar amount rounded to cents.
func formatMicros(v int64) string {
	const microsPerCent = game.MicrosPerDollar / 100
	cents := v / microsPerCent
	if rem := v % microsPerCent; rem*2 >= microsPerCent {
		cents++
	} else if rem*2 <= -microsPerCent {
		cents--
	}
	return money.New(cents, money.USD).Display()
}

func formatShares(units int64) string {
	return decimal.New(units, 0).Shift(-4).String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
