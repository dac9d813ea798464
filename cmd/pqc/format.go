package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/zulandar/pneumaticqc/internal/models"
)

func passFail(result string) string {
	switch result {
	case models.PassFailPass:
		return color.New(color.FgHiGreen, color.Bold).Sprint(result)
	case models.PassFailFail:
		return color.New(color.FgRed, color.Bold).Sprint(result)
	default:
		return result
	}
}

func smsStatus(status string) string {
	switch status {
	case models.SmsSent:
		return color.New(color.FgGreen).Sprint(status)
	case models.SmsFailed:
		return color.New(color.FgRed).Sprint(status)
	case models.SmsPending:
		return color.New(color.FgYellow).Sprint(status)
	default:
		return status
	}
}

func warn(format string, args ...interface{}) string {
	return color.New(color.FgYellow).Sprintf(format, args...)
}

func formatCycle(c models.Cycle) string {
	code := c.QR()
	if code == "" {
		code = "-"
	}
	printed := ""
	if c.Passed() && !c.Printed {
		printed = warn(" [not printed]")
	}
	return fmt.Sprintf("#%-6d %s  %-12s %-6s %8.3fmm  %-4s  %s%s",
		c.ID, c.Timestamp.Format("2006-01-02 15:04:05"), c.ModelName, c.ModelType,
		c.PeakHeight, passFail(c.PassFail), code, printed)
}
