package schedule

import (
	"time"

	"content-autopilot/internal/domain"
)

const (
	fallbackHour   = 9
	fallbackMinute = 0
)

var thriceWeeklyDays = map[time.Weekday]bool{
	time.Monday:    true,
	time.Wednesday: true,
	time.Friday:    true,
}

// ComputeNextRun возвращает ближайший запуск по правилу строго после from.
// Время суток вычисляется в часовом поясе правила, результат возвращается в UTC.
func ComputeNextRun(rule domain.CadenceRule, from time.Time) time.Time {
	loc := ruleLocation(rule.Timezone)
	local := from.In(loc)
	hour, minute := parseTimeOfDay(rule.TimeOfDay)

	var next time.Time
	switch rule.Frequency {
	case domain.FrequencyDaily:
		next = slot(local, 0, hour, minute, loc)
		if !next.After(from) {
			next = slot(local, 1, hour, minute, loc)
		}
	case domain.FrequencyThriceWeekly:
		next = nextThriceWeekly(local, from, hour, minute, loc)
	case domain.FrequencyWeekly:
		offset := (rule.DayOfWeek - int(local.Weekday()) + 7) % 7
		next = slot(local, offset, hour, minute, loc)
		if !next.After(from) {
			next = slot(local, offset+7, hour, minute, loc)
		}
	case domain.FrequencyMonthly:
		next = monthlySlot(local.Year(), local.Month(), rule.DayOfMonth, hour, minute, loc)
		if !next.After(from) {
			next = monthlySlot(local.Year(), local.Month()+1, rule.DayOfMonth, hour, minute, loc)
		}
	default:
		next = from.Add(24 * time.Hour)
	}

	// переход на летнее время может сдвинуть слот назад
	for !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next.UTC()
}

func nextThriceWeekly(local, from time.Time, hour, minute int, loc *time.Location) time.Time {
	for i := 0; i < 7; i++ {
		day := local.AddDate(0, 0, i)
		if !thriceWeeklyDays[day.Weekday()] {
			continue
		}
		candidate := slot(local, i, hour, minute, loc)
		if candidate.After(from) {
			return candidate
		}
	}
	offset := (int(time.Monday) - int(local.Weekday()) + 7) % 7
	if offset == 0 {
		offset = 7
	}
	return slot(local, offset, hour, minute, loc)
}

func slot(local time.Time, addDays, hour, minute int, loc *time.Location) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day()+addDays, hour, minute, 0, 0, loc)
}

// monthlySlot ограничивает день последним днём месяца.
func monthlySlot(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	last := first.AddDate(0, 1, -1).Day()
	if day < 1 {
		day = 1
	}
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, hour, minute, 0, 0, loc)
}

func parseTimeOfDay(raw string) (int, int) {
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return fallbackHour, fallbackMinute
	}
	return t.Hour(), t.Minute()
}

func ruleLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
