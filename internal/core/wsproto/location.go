package wsproto

import (
	"runtime"
	"strconv"
)

// CallerLocation renders "file:line" for the caller skip frames up the
// stack. The original threads a source location into every error variant
// (`error_location::ErrorLocation::from(Location::caller())`); Go has no
// equivalent caller-info facility that survives past the call, so this is
// treated purely as a logging concern, not a type field, per spec.md §9.
func CallerLocation(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown"
	}
	return shortenPath(file) + ":" + strconv.Itoa(line)
}

func shortenPath(file string) string {
	depth := 0
	for i := len(file) - 1; i >= 0; i-- {
		if file[i] == '/' {
			depth++
			if depth == 2 {
				return file[i+1:]
			}
		}
	}
	return file
}
