package lending

import (
	"strings"
	"time"

	"github.com/hitoshi/apollo/internal/model"
)

// dueLayouts は返却期限として受け付けるISO-8601形式。
var dueLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

// ParseDue は返却期限の文字列を解析する。
// 空の場合は NewDueRequiredError、解析できない場合は NewInvalidDueError を返す。
// タイムゾーンを含まない形式はUTCとして扱う。
func ParseDue(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, model.NewDueRequiredError()
	}
	for _, layout := range dueLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, model.NewInvalidDueError()
}
