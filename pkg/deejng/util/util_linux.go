package util

import "errors"

// foreground-window process detection is only meaningful on desktop Windows
func getCurrentWindowProcessNames() ([]string, error) {
	return nil, errors.New("current window detection not implemented on linux")
}
