package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseLine extracts the digital line number from a channel spec such as
// "line5", "port0/line5" or "cDAQ1Mod4/port0/line5".
func ParseLine(spec string) (int, error) {
	return parseIndex(spec, "line")
}

// ParseAnalog extracts the analog input number from a channel spec such as
// "ai2" or "cDAQ1Mod2/ai2".
func ParseAnalog(spec string) (int, error) {
	return parseIndex(spec, "ai")
}

func parseIndex(spec, prefix string) (int, error) {
	last := spec
	if i := strings.LastIndexByte(spec, '/'); i >= 0 {
		last = spec[i+1:]
	}
	num, ok := strings.CutPrefix(strings.ToLower(last), prefix)
	if !ok {
		return 0, fmt.Errorf("channel %q: expected %s<n>", spec, prefix)
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("channel %q: invalid %s number", spec, prefix)
	}
	return n, nil
}
