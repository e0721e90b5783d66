package hls

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TemplateVars supplies the substitution values for FormatTemplate.
// Any placeholder not present here is left in the output literally, so
// operators can template paths that also contain shell-style brackets.
type TemplateVars struct {
	Vhost     string
	App       string
	Stream    string
	Seq       uint64
	Duration  float64 // seconds, segment duration
	Timestamp time.Time
}

// FormatTemplate expands [vhost] [app] [stream] [seq] [duration]
// [timestamp] [year] [month] [day] [hour] [minute] [second] placeholders
// in tmpl against v. The timestamp fields use the stream's wall-clock time
// at segment-open, matching the teacher's filename layout conventions.
func FormatTemplate(tmpl string, v TemplateVars) string {
	ts := v.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	r := strings.NewReplacer(
		"[vhost]", orDefault(v.Vhost, "__defaultVhost__"),
		"[app]", v.App,
		"[stream]", v.Stream,
		"[seq]", strconv.FormatUint(v.Seq, 10),
		"[duration]", formatDuration(v.Duration),
		"[timestamp]", strconv.FormatInt(ts.Unix(), 10),
		"[year]", fmt.Sprintf("%04d", ts.Year()),
		"[month]", fmt.Sprintf("%02d", ts.Month()),
		"[day]", fmt.Sprintf("%02d", ts.Day()),
		"[hour]", fmt.Sprintf("%02d", ts.Hour()),
		"[minute]", fmt.Sprintf("%02d", ts.Minute()),
		"[second]", fmt.Sprintf("%02d", ts.Second()),
	)
	return r.Replace(tmpl)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func formatDuration(seconds float64) string {
	return strconv.FormatInt(int64(seconds+0.5), 10)
}
