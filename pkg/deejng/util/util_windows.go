package util

import (
	"fmt"
	"syscall"
	"time"
	"unsafe"

	"github.com/lxn/win"
	"github.com/mitchellh/go-ps"
)

const getCurrentWindowInternalCooldown = time.Millisecond * 350

var (
	lastGetCurrentWindowResult []string
	lastGetCurrentWindowCall   = time.Now()
)

func getCurrentWindowProcessNames() ([]string, error) {
	// apply an internal cooldown on this function to avoid calling windows
	// API functions too frequently. return a cached value during that cooldown
	now := time.Now()
	if lastGetCurrentWindowCall.Add(getCurrentWindowInternalCooldown).After(now) {
		return lastGetCurrentWindowResult, nil
	}

	lastGetCurrentWindowCall = now

	// the logic of this implementation is a bit convoluted because of the way
	// UWP apps work. these are rendered in a parent container,
	// ApplicationFrameHost.exe. when GetForegroundWindow is called, it
	// returns the window owned by that parent process, so we need to look
	// through its child windows until we find one with a different PID.
	// the same applies to any "container" process (steam, the league client),
	// so we return a slice of every process name that could be the right one.
	result := []string{}

	enumChildWindowsCallback := func(childHWND uintptr, lParam uintptr) uintptr {
		ownerPID := (*uint32)(unsafe.Pointer(lParam))

		var childPID uint32
		win.GetWindowThreadProcessId(win.HWND(childHWND), &childPID)

		// compare against the parent's pid - if they're different, add the
		// child window's process to our list of process names
		if childPID != *ownerPID {
			actualProcess, err := ps.FindProcess(int(childPID))
			if err == nil && actualProcess != nil {
				result = append(result, actualProcess.Executable())
			}
		}

		// indicates to the system to keep iterating
		return 1
	}

	hwnd := win.GetForegroundWindow()

	var ownerPID uint32
	win.GetWindowThreadProcessId(hwnd, &ownerPID)

	// check for system PID (0)
	if ownerPID == 0 {
		return nil, nil
	}

	process, err := ps.FindProcess(int(ownerPID))
	if err != nil || process == nil {
		return nil, fmt.Errorf("get parent process for pid %d: %w", ownerPID, err)
	}

	result = append(result, process.Executable())

	// iterate child windows, adding their process names too
	win.EnumChildWindows(hwnd,
		syscall.NewCallback(enumChildWindowsCallback),
		uintptr(unsafe.Pointer(&ownerPID)))

	// cache & return whichever executable names we ended up with
	lastGetCurrentWindowResult = result
	return result, nil
}
