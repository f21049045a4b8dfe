package cache

import "fmt"

func WorksheetStateKey(id string) string {
	return fmt.Sprintf("worksheet:%s", id)
}

func RateLimitKey(remoteAddr string) string {
	return fmt.Sprintf("ratelimit:%s", remoteAddr)
}
