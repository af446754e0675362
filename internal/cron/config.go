package cron

// Config configures the maintenance jobs. Schedules are 5-field cron
// expressions; an empty schedule disables that job.
type Config struct {
	Enabled           bool   `json:"enabled"`
	Timezone          string `json:"timezone,omitempty"`
	SweepSchedule     string `json:"sweepSchedule"`
	SweepMaxAgeHours  int    `json:"sweepMaxAgeHours" validate:"gte=0"`
	IdleResetSchedule string `json:"idleResetSchedule"`
	SummarySchedule   string `json:"summarySchedule"`
	JobTimeoutMinutes int    `json:"jobTimeoutMinutes" validate:"gte=0"` // 0 = no timeout
	HistoryDir        string `json:"historyDir,omitempty"`
}

// DefaultConfig sweeps the work dir hourly, resets idle sessions every
// 10 minutes and logs a cost summary just before midnight UTC.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		Timezone:          "UTC",
		SweepSchedule:     "15 * * * *",
		SweepMaxAgeHours:  24,
		IdleResetSchedule: "*/10 * * * *",
		SummarySchedule:   "55 23 * * *",
		JobTimeoutMinutes: 5,
	}
}
