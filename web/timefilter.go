package web

import (
	"regexp"
	"strconv"
	"time"

	"github.com/nhytera/ragline/types"
)

// 短窗口（≤24h）走严格校验：发布时间必须在窗内，
// 且正文不能明确提到窗外日期。长窗口只看发布时间。
const strictWindow = 24 * time.Hour

var (
	// "November 5, 2025" / "Nov 5, 2025"
	monthDayYear = regexp.MustCompile(`(?i)\b(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:tember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
	// "2025-11-05"
	isoDate = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
)

var monthNumbers = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// extractContentDates 抽取正文中明确提到的日期。
func extractContentDates(content string) []time.Time {
	var dates []time.Time

	for _, m := range monthDayYear.FindAllStringSubmatch(content, -1) {
		month, ok := monthNumbers[lower3(m[1])]
		if !ok {
			continue
		}
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if day >= 1 && day <= 31 {
			dates = append(dates, time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
		}
	}

	for _, m := range isoDate.FindAllStringSubmatch(content, -1) {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if month >= 1 && month <= 12 && day >= 1 && day <= 31 {
			dates = append(dates, time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC))
		}
	}
	return dates
}

func lower3(s string) string {
	b := []byte(s[:3])
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

// passesTimeFilter 判定一条结果是否满足时间过滤。
// 严格窗口要求可信发布时间落在窗内，且正文中没有任何明确
// 落在窗外的日期（防止 provider 返回内容自证过期的陈旧结果）；
// 长窗口只要求发布时间（若有）在窗内。
func passesTimeFilter(publishedAt *time.Time, content string, tr types.TimeRange) bool {
	if tr.IsZero() {
		return true
	}

	strict := tr.Window() <= strictWindow
	if publishedAt == nil {
		return !strict
	}
	if !tr.Contains(*publishedAt) {
		return false
	}
	if !strict {
		return true
	}

	for _, d := range extractContentDates(content) {
		// 正文日期按天粒度比较：整天与窗口无交集才算窗外
		dayEnd := d.Add(24*time.Hour - time.Nanosecond)
		if dayEnd.Before(tr.Start) || d.After(tr.End) {
			return false
		}
	}
	return true
}
