//go:build !windows

package deejng

import "errors"

// the volume OSD flyout is a Windows shell feature
func showAudioFlyout() error {
	return errors.New("audio flyout not supported on this platform")
}
