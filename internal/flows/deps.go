package flows

import "time"

// Device describes the client presenting or receiving a refresh token.
type Device struct {
	Description string
	IPAddress   string
	UserAgent   string
}

func nowOrDefault(now func() time.Time) time.Time {
	if now == nil {
		return time.Now()
	}
	return now()
}
