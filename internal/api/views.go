package api

import (
	"time"

	"github.com/zulandar/pneumaticqc/internal/models"
)

type modelView struct {
	ID         uint    `json:"id"`
	Name       string  `json:"name"`
	ModelType  string  `json:"model_type"`
	LowerLimit float64 `json:"lower_limit"`
	UpperLimit float64 `json:"upper_limit"`
}

func toModelView(m models.ProductModel) modelView {
	return modelView{ID: m.ID, Name: m.Name, ModelType: m.ModelType, LowerLimit: m.LowerLimit, UpperLimit: m.UpperLimit}
}

type cycleView struct {
	ID         uint      `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	ModelID    *uint     `json:"model_id"`
	ModelName  string    `json:"model_name"`
	ModelType  string    `json:"model_type"`
	PeakHeight float64   `json:"peak_height"`
	PassFail   string    `json:"pass_fail"`
	QRCode     string    `json:"qr_code,omitempty"`
	Printed    bool      `json:"printed"`
}

func toCycleView(c models.Cycle) cycleView {
	return cycleView{
		ID:         c.ID,
		Timestamp:  c.Timestamp,
		ModelID:    c.ModelID,
		ModelName:  c.ModelName,
		ModelType:  c.ModelType,
		PeakHeight: c.PeakHeight,
		PassFail:   c.PassFail,
		QRCode:     c.QR(),
		Printed:    c.Printed,
	}
}

func toCycleViews(cs []models.Cycle) []cycleView {
	out := make([]cycleView, len(cs))
	for i, c := range cs {
		out[i] = toCycleView(c)
	}
	return out
}

type smsView struct {
	ID         uint      `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Phone      string    `json:"phone"`
	Name       string    `json:"name,omitempty"`
	Message    string    `json:"message"`
	Status     string    `json:"status"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error,omitempty"`
}

func toSmsView(e models.SmsQueueEntry) smsView {
	v := smsView{
		ID:         e.ID,
		Timestamp:  e.Timestamp,
		Phone:      e.Phone,
		Message:    e.Message,
		Status:     e.Status,
		RetryCount: e.RetryCount,
	}
	if e.Name != nil {
		v.Name = *e.Name
	}
	if e.LastError != nil {
		v.LastError = *e.LastError
	}
	return v
}
