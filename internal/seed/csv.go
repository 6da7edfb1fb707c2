package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/iago/support-inbox-back/internal/domain"
	"github.com/iago/support-inbox-back/internal/policy"
	"github.com/iago/support-inbox-back/internal/service"
	"go.uber.org/zap"
)

type Ingester interface {
	Ingest(ctx context.Context, input service.IngestInput) (*domain.Email, error)
}

type Result struct {
	Loaded  int
	Skipped int
}

var sentDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// LoadFile ingests a sample dataset from disk. See Load.
func LoadFile(ctx context.Context, path string, ingester Ingester, logger *zap.Logger) (Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open seed file: %w", err)
	}
	defer file.Close()
	return Load(ctx, file, ingester, logger)
}

// Load reads sender,subject,body,sentDate rows after a header row. Seeded
// emails stay pending until a backlog sweep runs. Rows with missing fields,
// an unparsable date or a policy violation are skipped and counted.
func Load(ctx context.Context, r io.Reader, ingester Ingester, logger *zap.Logger) (Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("seed")

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("read seed header: %w", err)
	}

	var result Result
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				result.Skipped++
				logger.Warn("seed row unreadable", zap.Int("line", line), zap.Error(err))
				continue
			}
			return result, fmt.Errorf("read seed row: %w", err)
		}

		input, ok := parseRow(record)
		if !ok {
			result.Skipped++
			logger.Warn("seed row malformed", zap.Int("line", line))
			continue
		}
		if _, err := ingester.Ingest(ctx, input); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Skipped++
			logger.Warn("seed row rejected",
				zap.Int("line", line),
				zap.String("sender", policy.MaskSender(input.Sender)),
				zap.Error(err),
			)
			continue
		}
		result.Loaded++
	}

	logger.Info("seed dataset loaded",
		zap.Int("loaded", result.Loaded),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

func parseRow(record []string) (service.IngestInput, bool) {
	if len(record) < 4 {
		return service.IngestInput{}, false
	}
	sender := strings.TrimSpace(record[0])
	subject := strings.TrimSpace(record[1])
	body := strings.TrimSpace(record[2])
	if sender == "" || subject == "" || body == "" {
		return service.IngestInput{}, false
	}

	sentDate, ok := parseSentDate(record[3])
	if !ok {
		return service.IngestInput{}, false
	}
	return service.IngestInput{
		Sender:   sender,
		Subject:  subject,
		Body:     body,
		SentDate: sentDate,
		Deferred: true,
	}, true
}

func parseSentDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range sentDateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}
