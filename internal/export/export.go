// internal/export/export.go

// Package export writes trade-journal snapshots to CSV or JSON files for
// offline analysis and creator reporting.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ursuslabs/agent-launchpad/internal/storage/models"
)

// Format selects the output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Options filters and shapes one export run. Zero times mean no bound;
// empty filters match everything.
type Options struct {
	Format      Format
	StartTime   time.Time
	EndTime     time.Time
	TokenFilter string // mint
	SideFilter  string // "buy" or "sell"
	OutputDir   string
}

// TradeExporter writes journal rows to disk.
type TradeExporter struct {
	logger *zap.Logger
}

func NewTradeExporter(logger *zap.Logger) *TradeExporter {
	return &TradeExporter{logger: logger.Named("export")}
}

// Export filters and sorts the given journal rows, writes them in the
// requested format, and returns the path of the written file.
func (te *TradeExporter) Export(trades []*models.Trade, opts Options) (string, error) {
	filtered := te.filter(trades, opts)
	if len(filtered) == 0 {
		return "", fmt.Errorf("no trades match the export criteria")
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
	})

	outputPath := filepath.Join(opts.OutputDir, te.filename(opts))
	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	switch opts.Format {
	case FormatCSV:
		err = te.writeCSV(filtered, outputPath)
	case FormatJSON:
		err = te.writeJSON(filtered, outputPath)
	default:
		err = fmt.Errorf("unsupported format: %s", opts.Format)
	}
	if err != nil {
		return "", err
	}

	te.logger.Info("Trades exported",
		zap.String("file", outputPath),
		zap.Int("count", len(filtered)),
		zap.String("format", string(opts.Format)))

	return outputPath, nil
}

func (te *TradeExporter) filter(trades []*models.Trade, opts Options) []*models.Trade {
	var filtered []*models.Trade
	for _, trade := range trades {
		if !opts.StartTime.IsZero() && trade.CreatedAt.Before(opts.StartTime) {
			continue
		}
		if !opts.EndTime.IsZero() && trade.CreatedAt.After(opts.EndTime) {
			continue
		}
		if opts.TokenFilter != "" && trade.Mint != opts.TokenFilter {
			continue
		}
		if opts.SideFilter != "" && trade.Side != opts.SideFilter {
			continue
		}
		filtered = append(filtered, trade)
	}
	return filtered
}

func (te *TradeExporter) filename(opts Options) string {
	timestamp := time.Now().Format("20060102_150405")

	prefix := "trades_all"
	if opts.SideFilter != "" {
		prefix = "trades_" + opts.SideFilter
	}
	if opts.TokenFilter != "" {
		mint := opts.TokenFilter
		if len(mint) > 8 {
			mint = mint[:8]
		}
		prefix += "_" + mint
	}

	return fmt.Sprintf("%s_%s.%s", prefix, timestamp, opts.Format)
}

func csvHeaders() []string {
	return []string{
		"trade_id", "mint", "side", "amount_in", "amount_out",
		"platform_fee", "creator_fee", "price_after", "graduated", "created_at",
	}
}

func csvRow(t *models.Trade) []string {
	return []string{
		t.TradeID,
		t.Mint,
		t.Side,
		strconv.FormatUint(t.AmountIn, 10),
		strconv.FormatUint(t.AmountOut, 10),
		strconv.FormatUint(t.PlatformFee, 10),
		strconv.FormatUint(t.CreatorFee, 10),
		strconv.FormatUint(t.PriceAfter, 10),
		strconv.FormatBool(t.Graduated),
		t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (te *TradeExporter) writeCSV(trades []*models.Trade, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write(csvHeaders()); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, trade := range trades {
		if err := writer.Write(csvRow(trade)); err != nil {
			return fmt.Errorf("failed to write trade %s: %w", trade.TradeID, err)
		}
	}
	return nil
}

// TradeRow is the JSON form of one journal row. All amounts are lamports,
// or base token units for the token leg.
type TradeRow struct {
	TradeID     string    `json:"trade_id"`
	Mint        string    `json:"mint"`
	Side        string    `json:"side"`
	AmountIn    uint64    `json:"amount_in"`
	AmountOut   uint64    `json:"amount_out"`
	PlatformFee uint64    `json:"platform_fee"`
	CreatorFee  uint64    `json:"creator_fee"`
	PriceAfter  uint64    `json:"price_after"`
	Graduated   bool      `json:"graduated"`
	CreatedAt   time.Time `json:"created_at"`
}

func toRows(trades []*models.Trade) []TradeRow {
	rows := make([]TradeRow, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, TradeRow{
			TradeID:     t.TradeID,
			Mint:        t.Mint,
			Side:        t.Side,
			AmountIn:    t.AmountIn,
			AmountOut:   t.AmountOut,
			PlatformFee: t.PlatformFee,
			CreatorFee:  t.CreatorFee,
			PriceAfter:  t.PriceAfter,
			Graduated:   t.Graduated,
			CreatedAt:   t.CreatedAt,
		})
	}
	return rows
}

func (te *TradeExporter) writeJSON(trades []*models.Trade, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create JSON file: %w", err)
	}
	defer file.Close()

	exportData := struct {
		ExportTime time.Time  `json:"export_time"`
		TradeCount int        `json:"trade_count"`
		Summary    Summary    `json:"summary"`
		Trades     []TradeRow `json:"trades"`
	}{
		ExportTime: time.Now(),
		TradeCount: len(trades),
		Summary:    te.summarize(trades),
		Trades:     toRows(trades),
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(exportData); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// Summary aggregates the exported rows. The SOL legs of buys and sells are
// counted separately; there is no netting.
type Summary struct {
	TotalTrades  int       `json:"total_trades"`
	BuyCount     int       `json:"buy_count"`
	SellCount    int       `json:"sell_count"`
	UniqueTokens int       `json:"unique_tokens"`
	SolIn        uint64    `json:"sol_in_lamports"`
	SolOut       uint64    `json:"sol_out_lamports"`
	PlatformFees uint64    `json:"platform_fees_lamports"`
	CreatorFees  uint64    `json:"creator_fees_lamports"`
	Graduations  int       `json:"graduations"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
}

func (te *TradeExporter) summarize(trades []*models.Trade) Summary {
	summary := Summary{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return summary
	}

	summary.StartDate = trades[0].CreatedAt
	summary.EndDate = trades[len(trades)-1].CreatedAt

	tokenSet := make(map[string]bool)
	for _, trade := range trades {
		tokenSet[trade.Mint] = true
		summary.PlatformFees += trade.PlatformFee
		summary.CreatorFees += trade.CreatorFee
		if trade.Graduated {
			summary.Graduations++
		}

		switch trade.Side {
		case "buy":
			summary.BuyCount++
			summary.SolIn += trade.AmountIn
		case "sell":
			summary.SellCount++
			summary.SolOut += trade.AmountOut
		}
	}
	summary.UniqueTokens = len(tokenSet)

	return summary
}

// DailyReport is a per-day journal digest with an hourly breakdown.
type DailyReport struct {
	Date            time.Time     `json:"date"`
	TradeCount      int           `json:"trade_count"`
	Summary         Summary       `json:"summary"`
	HourlyBreakdown []HourlyStats `json:"hourly_breakdown"`
	Trades          []TradeRow    `json:"trades"`
}

// HourlyStats covers one hour of the day. SolVolume is the SOL leg of every
// trade in the hour regardless of side.
type HourlyStats struct {
	Hour        int    `json:"hour"`
	TradeCount  int    `json:"trade_count"`
	BuyCount    int    `json:"buy_count"`
	SellCount   int    `json:"sell_count"`
	SolVolume   uint64 `json:"sol_volume_lamports"`
	Graduations int    `json:"graduations"`
}

// ExportDailyReport writes the digest for one calendar day. It returns an
// empty path and no error when the day had no trades.
func (te *TradeExporter) ExportDailyReport(trades []*models.Trade, date time.Time, outputDir string) (string, error) {
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	endOfDay := startOfDay.Add(24 * time.Hour)

	filtered := te.filter(trades, Options{StartTime: startOfDay, EndTime: endOfDay})
	if len(filtered) == 0 {
		te.logger.Info("No trades for daily report", zap.Time("date", startOfDay))
		return "", nil
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
	})

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(outputDir, fmt.Sprintf("daily_report_%s.json", startOfDay.Format("20060102")))

	report := DailyReport{
		Date:            startOfDay,
		TradeCount:      len(filtered),
		Summary:         te.summarize(filtered),
		HourlyBreakdown: te.hourlyBreakdown(filtered),
		Trades:          toRows(filtered),
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	te.logger.Info("Daily report exported",
		zap.String("file", outputPath),
		zap.Time("date", startOfDay),
		zap.Int("trades", len(filtered)))

	return outputPath, nil
}

func (te *TradeExporter) hourlyBreakdown(trades []*models.Trade) []HourlyStats {
	hourlyMap := make(map[int]*HourlyStats)

	for _, trade := range trades {
		hour := trade.CreatedAt.Hour()
		stats, ok := hourlyMap[hour]
		if !ok {
			stats = &HourlyStats{Hour: hour}
			hourlyMap[hour] = stats
		}

		stats.TradeCount++
		if trade.Graduated {
			stats.Graduations++
		}
		switch trade.Side {
		case "buy":
			stats.BuyCount++
			stats.SolVolume += trade.AmountIn
		case "sell":
			stats.SellCount++
			stats.SolVolume += trade.AmountOut
		}
	}

	var breakdown []HourlyStats
	for hour := 0; hour < 24; hour++ {
		if stats, ok := hourlyMap[hour]; ok {
			breakdown = append(breakdown, *stats)
		}
	}
	return breakdown
}
