package archive

import (
	"time"

	"github.com/zulandar/pneumaticqc/internal/models"
	"github.com/zulandar/pneumaticqc/internal/qcerr"
)

// stamp is what every archived row of one batch carries.
type stamp struct {
	at    time.Time
	batch string
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func archiveCycle(c models.Cycle, st stamp) (models.CycleArchive, error) {
	if c.ModelName == "" {
		return models.CycleArchive{}, qcerr.Integrity("cycle %d has no model name", c.ID)
	}
	if c.QRCode == nil && c.PassFail == models.PassFailPass {
		return models.CycleArchive{}, qcerr.Integrity("PASS cycle %d has no traceability code", c.ID)
	}
	var modelID uint
	if c.ModelID != nil {
		modelID = *c.ModelID
	}
	return models.CycleArchive{
		ID:           c.ID,
		Timestamp:    c.Timestamp,
		ModelID:      modelID,
		ModelName:    c.ModelName,
		ModelType:    c.ModelType,
		PeakHeight:   c.PeakHeight,
		PassFail:     c.PassFail,
		QRCode:       deref(c.QRCode),
		Printed:      c.Printed,
		ArchivedAt:   st.at,
		PurgeBatchID: st.batch,
	}, nil
}

func archiveQRCode(q models.QRCode, st stamp) (models.QRCodeArchive, error) {
	if q.Filename == nil || *q.Filename == "" {
		return models.QRCodeArchive{}, qcerr.Integrity("code %s (id %d) has no rendered image", q.QRData, q.ID)
	}
	return models.QRCodeArchive{
		ID:           q.ID,
		QRData:       q.QRData,
		CreatedAt:    q.CreatedAt,
		Filename:     *q.Filename,
		ArchivedAt:   st.at,
		PurgeBatchID: st.batch,
	}, nil
}

func archivePrintLog(l models.CyclePrintLog, st stamp) (models.CyclePrintLogArchive, error) {
	if l.Reason == nil && l.PrintType != models.PrintTypeAuto {
		return models.CyclePrintLogArchive{}, qcerr.Integrity("%s print log %d has no reason", l.PrintType, l.ID)
	}
	return models.CyclePrintLogArchive{
		ID:           l.ID,
		CycleID:      l.CycleID,
		PrintType:    l.PrintType,
		PrintedAt:    l.PrintedAt,
		PrintedBy:    deref(l.PrintedBy),
		Reason:       deref(l.Reason),
		ArchivedAt:   st.at,
		PurgeBatchID: st.batch,
	}, nil
}

func archiveSms(e models.SmsQueueEntry, st stamp) (models.SmsQueueArchive, error) {
	if e.Phone == "" {
		return models.SmsQueueArchive{}, qcerr.Integrity("sms entry %d has no phone", e.ID)
	}
	return models.SmsQueueArchive{
		ID:           e.ID,
		Timestamp:    e.Timestamp,
		Phone:        e.Phone,
		Name:         deref(e.Name),
		Message:      e.Message,
		Status:       e.Status,
		RetryCount:   e.RetryCount,
		LastError:    deref(e.LastError),
		ArchivedAt:   st.at,
		PurgeBatchID: st.batch,
	}, nil
}
