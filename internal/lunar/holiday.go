package lunar

import "time"

type monthDay struct{ month, day int }

var solarHolidays = map[monthDay]string{
	{1, 1}:   "元旦",
	{2, 14}:  "情人节",
	{5, 1}:   "劳动节",
	{6, 1}:   "儿童节",
	{10, 1}:  "国庆节",
	{12, 25}: "圣诞节",
}

// Lunar holidays never fall in a leap month.
var lunarHolidays = map[monthDay]string{
	{1, 1}:   "春节",
	{1, 15}:  "元宵节",
	{2, 2}:   "龙抬头",
	{3, 3}:   "上巳节",
	{5, 5}:   "端午节",
	{7, 7}:   "七夕节",
	{7, 15}:  "中元节",
	{8, 15}:  "中秋节",
	{9, 9}:   "重阳节",
	{10, 1}:  "寒衣节",
	{12, 8}:  "腊八节",
	{12, 23}: "北方小年",
	{12, 24}: "南方小年",
}

const newYearsEve = "除夕"

// SolarHoliday names a Gregorian holiday on t's date, or "".
// Thanksgiving is the fourth Thursday of November.
func SolarHoliday(t time.Time) string {
	y, m, d := t.Date()
	if name, ok := solarHolidays[monthDay{int(m), d}]; ok {
		return name
	}
	if m == time.November && d == thanksgiving(y) {
		return "感恩节"
	}
	return ""
}

func thanksgiving(year int) int {
	first := time.Date(year, time.November, 1, 0, 0, 0, 0, time.UTC).Weekday()
	return 1 + (int(time.Thursday)-int(first)+7)%7 + 21
}

// Holiday names the lunar holiday of ld, including New Year's Eve on the
// last day of the twelfth month, or "".
func Holiday(ld Date) string {
	if ld.Leap {
		return ""
	}
	if ld.Month == 12 && ld.Day == MonthDays(ld.Year, 12) {
		return newYearsEve
	}
	return lunarHolidays[monthDay{ld.Month, ld.Day}]
}

// DisplayText is the label of a calendar day: a Gregorian holiday wins over
// a lunar one, which wins over the plain lunar day name.
func DisplayText(t time.Time) (string, error) {
	if name := SolarHoliday(t); name != "" {
		return name, nil
	}
	ld, err := FromSolar(t)
	if err != nil {
		return "", err
	}
	if name := Holiday(ld); name != "" {
		return name, nil
	}
	return ld.DayName(), nil
}
