package archive

import (
	"context"
	"time"

	"github.com/zulandar/pneumaticqc/internal/config"
)

// MinRetention is the shortest retention a table may be configured with.
const MinRetention = time.Hour

// Retention is how long rows of each table stay live.
type Retention struct {
	Cycles time.Duration
	QR     time.Duration
	Sms    time.Duration
}

// RetentionFrom reads retention settings from the archive config.
func RetentionFrom(cfg config.ArchiveConfig) Retention {
	return Retention{Cycles: cfg.CyclesRetention, QR: cfg.QRRetention, Sms: cfg.SmsRetention}
}

func clampRetention(d time.Duration) time.Duration {
	if d < MinRetention {
		return MinRetention
	}
	return d
}

// Cutoffs returns the per-table cutoffs at now. Print logs follow their
// cycles.
func (r Retention) Cutoffs(now time.Time) Cutoffs {
	cycles := now.Add(-clampRetention(r.Cycles))
	return Cutoffs{
		Sms:      now.Add(-clampRetention(r.Sms)),
		QRCodes:  now.Add(-clampRetention(r.QR)),
		PrintLog: cycles,
		Cycles:   cycles,
	}
}

// BatchID returns the purge batch id for a run started at now.
func BatchID(now time.Time) string {
	return now.Format(BatchIDLayout)
}

// RunRetention archives according to retention, under a batch id derived
// from now.
func (e *Engine) RunRetention(ctx context.Context, now time.Time, r Retention) (*Report, error) {
	return e.Run(ctx, r.Cutoffs(now), BatchID(now))
}
