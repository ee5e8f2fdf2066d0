package watchdog

import (
	"fmt"
	"strings"
	"time"
)

// Trigger is one externally scheduled firing.
type Trigger struct {
	Source string
	Every  time.Duration
}

// Triggers are redundant on purpose: either one alone restarts capture.
var Triggers = []Trigger{
	{Source: "timer-5m", Every: 5 * time.Minute},
	{Source: "timer-15m", Every: 15 * time.Minute},
}

// CronLine renders t as a crontab entry running command with --source.
func (t Trigger) CronLine(command []string) string {
	minutes := int(t.Every / time.Minute)
	args := append(append([]string{}, command...), "watchdog", "--source", t.Source)
	for i, a := range args {
		if strings.ContainsAny(a, " \t'\"") {
			args[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		}
	}
	return fmt.Sprintf("*/%d * * * * %s", minutes, strings.Join(args, " "))
}
