package lunar

import (
	"errors"
	"fmt"
	"time"
)

// ErrOutOfRange is returned for dates outside the years covered by yearInfo.
var ErrOutOfRange = errors.New("date outside supported lunar range")

const firstYear = 1900

// base is lunar 1900-01-01.
var base = time.Date(1900, time.January, 31, 0, 0, 0, 0, time.UTC)

// yearInfo describes lunar years 1900-2049. Bits 15..4 flag months 1..12
// as long (30 days) or short (29). The low nibble is the leap month (0 for
// none) and bit 16 makes that leap month long.
var yearInfo = [...]uint32{
	0x04bd8, 0x04ae0, 0x0a570, 0x054d5, 0x0d260, 0x0d950, 0x16554, 0x056a0, 0x09ad0, 0x055d2,
	0x04ae0, 0x0a5b6, 0x0a4d0, 0x0d250, 0x1d255, 0x0b540, 0x0d6a0, 0x0ada2, 0x095b0, 0x14977,
	0x04970, 0x0a4b0, 0x0b4b5, 0x06a50, 0x06d40, 0x1ab54, 0x02b60, 0x09570, 0x052f2, 0x04970,
	0x06566, 0x0d4a0, 0x0ea50, 0x06e95, 0x05ad0, 0x02b60, 0x186e3, 0x092e0, 0x1c8d7, 0x0c950,
	0x0d4a0, 0x1d8a6, 0x0b550, 0x056a0, 0x1a5b4, 0x025d0, 0x092d0, 0x0d2b2, 0x0a950, 0x0b557,
	0x06ca0, 0x0b550, 0x15355, 0x04da0, 0x0a5d0, 0x14573, 0x052d0, 0x0a9a8, 0x0e950, 0x06aa0,
	0x0aea6, 0x0ab50, 0x04b60, 0x0aae4, 0x0a570, 0x05260, 0x0f263, 0x0d950, 0x05b57, 0x056a0,
	0x096d0, 0x04dd5, 0x04ad0, 0x0a4d0, 0x0d4d4, 0x0d250, 0x0d558, 0x0b540, 0x0b5a0, 0x195a6,
	0x095b0, 0x049b0, 0x0a974, 0x0a4b0, 0x0b27a, 0x06a50, 0x06d40, 0x0af46, 0x0ab60, 0x09570,
	0x04af5, 0x04970, 0x064b0, 0x074a3, 0x0ea50, 0x06b58, 0x055c0, 0x0ab60, 0x096d5, 0x092e0,
	0x0c960, 0x0d954, 0x0d4a0, 0x0da50, 0x07552, 0x056a0, 0x0abb7, 0x025d0, 0x092d0, 0x0cab5,
	0x0a950, 0x0b4a0, 0x0baa4, 0x0ad50, 0x055d9, 0x04ba0, 0x0a5b0, 0x15176, 0x052b0, 0x0a930,
	0x07954, 0x06aa0, 0x0ad50, 0x05b52, 0x04b60, 0x0a6e6, 0x0a4e0, 0x0d260, 0x0ea65, 0x0d530,
	0x05aa0, 0x076a3, 0x096d0, 0x04bd7, 0x04ad0, 0x0a4d0, 0x1d0b6, 0x0d250, 0x0d520, 0x0dd45,
	0x0b5a0, 0x056d0, 0x055b2, 0x049b0, 0x0a577, 0x0a4b0, 0x0aa50, 0x1b255, 0x06d20, 0x0ada0,
}

var (
	monthNames = [...]string{"正月", "二月", "三月", "四月", "五月", "六月", "七月", "八月", "九月", "十月", "冬月", "腊月"}
	dayNames   = [...]string{
		"初一", "初二", "初三", "初四", "初五", "初六", "初七", "初八", "初九", "初十",
		"十一", "十二", "十三", "十四", "十五", "十六", "十七", "十八", "十九", "二十",
		"廿一", "廿二", "廿三", "廿四", "廿五", "廿六", "廿七", "廿八", "廿九", "三十",
	}
	zodiac = [...]string{"鼠", "牛", "虎", "兔", "龙", "蛇", "马", "羊", "猴", "鸡", "狗", "猪"}
)

// Date is a day of the Chinese lunisolar calendar.
type Date struct {
	Year  int
	Month int // 1..12
	Day   int // 1..30
	Leap  bool
}

// String renders the month and day, e.g. "正月初一" or "闰六月初一".
func (d Date) String() string {
	if d.Month < 1 || d.Month > 12 || d.Day < 1 || d.Day > 30 {
		return fmt.Sprintf("%d-%d-%d", d.Year, d.Month, d.Day)
	}
	s := monthNames[d.Month-1] + dayNames[d.Day-1]
	if d.Leap {
		s = "闰" + s
	}
	return s
}

// DayName is the day part alone, e.g. "初一".
func (d Date) DayName() string {
	if d.Day < 1 || d.Day > 30 {
		return ""
	}
	return dayNames[d.Day-1]
}

// Zodiac is the animal of the lunar year.
func (d Date) Zodiac() string {
	return zodiac[((d.Year-4)%12+12)%12]
}

// FromSolar converts the calendar date of t (in t's own location).
func FromSolar(t time.Time) (Date, error) {
	y, m, d := t.Date()
	offset := int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Sub(base) / (24 * time.Hour))
	if offset < 0 {
		return Date{}, ErrOutOfRange
	}

	year, days := firstYear, 0
	for ; year < firstYear+len(yearInfo) && offset > 0; year++ {
		days = yearDays(year)
		offset -= days
	}
	if offset < 0 {
		offset += days
		year--
	}
	if year >= firstYear+len(yearInfo) {
		return Date{}, ErrOutOfRange
	}

	leap := leapMonth(year)
	isLeap := false
	month := 1
	for ; month < 13 && offset > 0; month++ {
		if leap > 0 && month == leap+1 && !isLeap {
			month--
			isLeap = true
			days = leapDays(year)
		} else {
			days = monthDays(year, month)
		}
		if isLeap && month == leap+1 {
			isLeap = false
		}
		offset -= days
	}
	if offset == 0 && leap > 0 && month == leap+1 {
		if isLeap {
			isLeap = false
		} else {
			isLeap = true
			month--
		}
	}
	if offset < 0 {
		offset += days
		month--
	}

	return Date{Year: year, Month: month, Day: offset + 1, Leap: isLeap}, nil
}

// MonthDays is the length of a regular (non-leap) lunar month.
func MonthDays(year, month int) int {
	if year < firstYear || year >= firstYear+len(yearInfo) || month < 1 || month > 12 {
		return 0
	}
	return monthDays(year, month)
}

func monthDays(year, month int) int {
	if yearInfo[year-firstYear]&(0x10000>>month) != 0 {
		return 30
	}
	return 29
}

func leapMonth(year int) int {
	return int(yearInfo[year-firstYear] & 0xf)
}

func leapDays(year int) int {
	if leapMonth(year) == 0 {
		return 0
	}
	if yearInfo[year-firstYear]&0x10000 != 0 {
		return 30
	}
	return 29
}

func yearDays(year int) int {
	sum := 348
	for bit := uint32(0x8000); bit > 0x8; bit >>= 1 {
		if yearInfo[year-firstYear]&bit != 0 {
			sum++
		}
	}
	return sum + leapDays(year)
}
