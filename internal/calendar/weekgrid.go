package calendar

import (
	"time"
)

// The panel week grid is 5 weekdays by 4 fixed time blocks.
const (
	WeekDays  = 5
	DayBlocks = 4
)

// blockHours are the start/end hours of the four display blocks.
var blockHours = [DayBlocks][2]int{
	{8, 10},
	{10, 12},
	{13, 15},
	{15, 17},
}

// WeekGrid marks, per weekday and block, whether the teacher has any busy
// window overlapping that block.
type WeekGrid [WeekDays][DayBlocks]bool

// WeekStart returns the Monday 00:00 of the week containing t, in t's
// location.
func WeekStart(t time.Time) time.Time {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday belongs to the preceding Monday
	}
	day := t.AddDate(0, 0, -(weekday - 1))
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, t.Location())
}

// WeekSchedule computes the display grid for a teacher's calendar email for
// the week starting at weekStart. A cell is true if any cached event
// overlaps that block.
func (s *Service) WeekSchedule(email string, weekStart time.Time) (WeekGrid, error) {
	var grid WeekGrid
	if email == "" {
		return grid, nil
	}

	weekEnd := weekStart.AddDate(0, 0, WeekDays)
	schedules, err := s.ds.SchedulesForTeacherBetween(email, weekStart, weekEnd)
	if err != nil {
		return grid, err
	}

	for day := 0; day < WeekDays; day++ {
		dayStart := weekStart.AddDate(0, 0, day)
		for block := 0; block < DayBlocks; block++ {
			blockStart := dayStart.Add(time.Duration(blockHours[block][0]) * time.Hour)
			blockEnd := dayStart.Add(time.Duration(blockHours[block][1]) * time.Hour)
			for i := range schedules {
				if schedules[i].StartTime.Before(blockEnd) && schedules[i].EndTime.After(blockStart) {
					grid[day][block] = true
					break
				}
			}
		}
	}

	return grid, nil
}
