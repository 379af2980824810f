package ota

import "time"

// ScheduleTimeLayout is the minute-precision layout IoT expects for scheduling times.
const ScheduleTimeLayout = "2006-01-02T15:04"

// Schedule is the rollout window of a scheduled job.
type Schedule struct {
	Start       time.Time
	End         time.Time
	EndBehavior string
}

// NewSchedule opens the rollout delay after now and keeps it open for window.
func NewSchedule(now time.Time, delay, window time.Duration, endBehavior string) Schedule {
	start := now.UTC().Add(delay)

	return Schedule{
		Start:       start,
		End:         start.Add(window),
		EndBehavior: endBehavior,
	}
}

// StartString formats Start for CreateJob.
func (s Schedule) StartString() string {
	return s.Start.UTC().Format(ScheduleTimeLayout)
}

// EndString formats End for CreateJob.
func (s Schedule) EndString() string {
	return s.End.UTC().Format(ScheduleTimeLayout)
}
