package recorder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/pneumaticqc/internal/models"
	"github.com/zulandar/pneumaticqc/internal/qcerr"
)

// IngestStats summarises one Ingest run.
type IngestStats struct {
	Recorded int
	Passed   int
	Failed   int
	Degraded int
	Skipped  int
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseReading parses a sensor line of the form "peak[,timestamp]". A
// missing timestamp yields the zero time.
func ParseReading(line string) (float64, time.Time, error) {
	peakText, tsText, _ := strings.Cut(line, ",")
	peak, err := strconv.ParseFloat(strings.TrimSpace(peakText), 64)
	if err != nil || math.IsNaN(peak) || math.IsInf(peak, 0) {
		return 0, time.Time{}, qcerr.Invalid("peak %q", strings.TrimSpace(peakText))
	}
	tsText = strings.TrimSpace(tsText)
	if tsText == "" {
		return peak, time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, tsText, time.Local); err == nil {
			return peak, ts, nil
		}
	}
	return 0, time.Time{}, qcerr.Invalid("timestamp %q", tsText)
}

// Ingest records one cycle per reading from a sensor feed. Blank lines and
// lines starting with '#' are ignored; malformed readings are skipped. fn, if
// set, is called for every recorded cycle. Ingest stops at the first error
// that is neither a malformed line nor a degraded recording, such as no
// active model.
func (r *Recorder) Ingest(ctx context.Context, in io.Reader, fn func(models.Cycle)) (IngestStats, error) {
	var stats IngestStats
	sc := bufio.NewScanner(in)
	lineNo := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		peak, ts, err := ParseReading(line)
		if err != nil {
			log.Printf("recorder: ingest line %d: %v", lineNo, err)
			stats.Skipped++
			continue
		}

		c, err := r.RecordCycle(ctx, peak, ts)
		var degraded *DegradedError
		switch {
		case err == nil:
		case errors.As(err, &degraded):
			stats.Degraded++
		default:
			return stats, fmt.Errorf("recorder: ingest line %d: %w", lineNo, err)
		}

		stats.Recorded++
		if c.Passed() {
			stats.Passed++
		} else {
			stats.Failed++
		}
		if fn != nil {
			fn(*c)
		}
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("recorder: ingest: %w", err)
	}
	return stats, nil
}
