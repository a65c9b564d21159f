package async

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

var (
	parser5 = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	parser6 = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
)

// ParseCron validates a cron expression with 5 or 6 fields (the first one
// being seconds) or a descriptor like @hourly or @every 5m. It returns the
// number of fields gocron needs to know about.
func ParseCron(expr string) (int, error) {
	e := strings.TrimSpace(expr)
	if e == "" {
		return 0, errors.New("empty cron expression")
	}

	if strings.HasPrefix(e, "@") {
		if _, err := cron.ParseStandard(e); err != nil {
			return 0, err
		}
		return 5, nil
	}

	switch n := len(strings.Fields(e)); n {
	case 5:
		if _, err := parser5.Parse(e); err != nil {
			return 0, err
		}
		return 5, nil
	case 6:
		if _, err := parser6.Parse(e); err != nil {
			return 0, err
		}
		return 6, nil
	default:
		return 0, fmt.Errorf("invalid field count: got %d (want 5 or 6)", n)
	}
}
