package schema

import (
	"fmt"
	"net"
	"regexp"
)

var hostnameRe = regexp.MustCompile(
	`^([a-zA-Z0-9]|[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9])` +
		`(\.([a-zA-Z0-9]|[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]))*$`)

func validateHostOrIP(v any) error {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	if net.ParseIP(s) != nil {
		return nil
	}
	if len(s) <= 253 && hostnameRe.MatchString(s) {
		return nil
	}
	return fmt.Errorf("%q is not a hostname or IP address", s)
}
