package term

import "strings"

// parseOSC interprets the body of an OSC sequence (everything between
// "ESC ]" and its terminator) and maps the subset of codes the shim cares
// about to a ShellEvent:
//
//   - OSC 133;A           prompt start
//   - OSC 133;B           prompt end / command submitted
//   - OSC 133;C           command execution start (preexec)
//   - OSC 133;D[;<code>]  command execution end, optional exit code
//   - OSC 7;file://host/path  current working directory report
//   - OSC 1337;Alias=<name>=<expansion>  shell alias expansion announce
//
// Every other OSC code (window title, color palette queries, and so on) is
// parsed but discarded; it has no bearing on shell edit-buffer state.
func parseOSC(body string) (ShellEvent, bool) {
	code, rest, ok := splitOSCCode(body)
	if !ok {
		return ShellEvent{}, false
	}

	switch code {
	case "133":
		return parsePromptMarker(rest)
	case "7":
		return parseCwdReport(rest)
	case "1337":
		return parseAliasAnnounce(rest)
	default:
		return ShellEvent{}, false
	}
}

func splitOSCCode(body string) (code, rest string, ok bool) {
	idx := strings.IndexByte(body, ';')
	if idx < 0 {
		return body, "", body != ""
	}
	return body[:idx], body[idx+1:], true
}

func parsePromptMarker(rest string) (ShellEvent, bool) {
	if rest == "" {
		return ShellEvent{}, false
	}
	fields := strings.SplitN(rest, ";", 2)
	switch fields[0] {
	case "A":
		return ShellEvent{Kind: MarkerPromptStart}, true
	case "B":
		return ShellEvent{Kind: MarkerPromptEnd}, true
	case "C":
		return ShellEvent{Kind: MarkerPreexecStart}, true
	case "D":
		exitCode := ""
		if len(fields) > 1 {
			exitCode = fields[1]
		}
		return ShellEvent{Kind: MarkerPreexecEnd, Value: exitCode}, true
	default:
		return ShellEvent{}, false
	}
}

func parseCwdReport(rest string) (ShellEvent, bool) {
	// rest is typically "file://hostname/absolute/path"; strip the scheme
	// and host, keeping just the path the shell reported.
	const scheme = "file://"
	if !strings.HasPrefix(rest, scheme) {
		if rest == "" {
			return ShellEvent{}, false
		}
		return ShellEvent{Kind: MarkerCwd, Value: rest}, true
	}
	trimmed := rest[len(scheme):]
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		return ShellEvent{Kind: MarkerCwd, Value: trimmed[idx:]}, true
	}
	return ShellEvent{Kind: MarkerCwd, Value: trimmed}, true
}

func parseAliasAnnounce(rest string) (ShellEvent, bool) {
	const prefix = "Alias="
	if !strings.HasPrefix(rest, prefix) {
		return ShellEvent{}, false
	}
	return ShellEvent{Kind: MarkerAlias, Value: rest[len(prefix):]}, true
}
