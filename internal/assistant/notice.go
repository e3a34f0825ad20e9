package assistant

import (
	"regexp"
	"strings"
	"time"
)

const (
	defaultNoticeSubject = "重要事项"
	noticeSignature      = "四川农业大学学生处\n"
	noticeDateLayout     = "2006年01月02日"
)

var noticeSubjectPattern = regexp.MustCompile(`关于(.+?)的通知`)

// noticeBodies is checked in order; the first keyword present selects the
// body. The entry with an empty keyword is the fallback.
var noticeBodies = []struct {
	keyword string
	body    string
}{
	{"会议", "学校将于近期召开相关会议，请各位老师和同学准时参加。具体时间地点另行通知。\n    "},
	{"放假", "根据学校安排，现将放假相关事项通知如下，请大家提前做好准备，注意假期安全。\n    "},
	{"考试", "期末考试即将开始，请同学们认真复习，遵守考试纪律，诚信应考。\n    "},
	{"", "为了更好地开展学校工作，现将相关事项通知如下，请大家知悉并配合执行。\n    "},
}

// composeNotice renders a school notice for the request in content. hits is
// the intent keyword scan of content.
func composeNotice(content string, hits map[string]bool, now time.Time) string {
	subject := defaultNoticeSubject
	if m := noticeSubjectPattern.FindStringSubmatch(content); m != nil {
		subject = m[1]
	}

	var b strings.Builder
	b.WriteString("关于" + subject + "的通知\n")
	b.WriteString("全校师生：\n    ")
	for _, nb := range noticeBodies {
		if nb.keyword == "" || hits[nb.keyword] {
			b.WriteString(nb.body)
			break
		}
	}
	b.WriteString(noticeSignature)
	b.WriteString(now.Format(noticeDateLayout))
	return b.String()
}
