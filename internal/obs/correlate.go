package obs

import "context"

// AddRunID attaches an agentic-loop run identifier to ctx.
func AddRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// GetRunID retrieves the run identifier, or "" if absent.
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(RunIDKey).(string); ok {
		return id
	}
	return ""
}

// AddSessionID attaches a chat session identifier to ctx.
func AddSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// GetSessionID retrieves the session identifier, or "" if absent.
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(SessionIDKey).(string); ok {
		return id
	}
	return ""
}

// AddToolCallID attaches the in-flight tool call identifier to ctx.
func AddToolCallID(ctx context.Context, toolCallID string) context.Context {
	return context.WithValue(ctx, ToolCallIDKey, toolCallID)
}

// GetToolCallID retrieves the tool call identifier, or "" if absent.
func GetToolCallID(ctx context.Context) string {
	if id, ok := ctx.Value(ToolCallIDKey).(string); ok {
		return id
	}
	return ""
}

// AddProfile attaches the active context profile name to ctx.
func AddProfile(ctx context.Context, profile string) context.Context {
	return context.WithValue(ctx, ProfileKey, profile)
}

// GetProfile retrieves the active profile name, or "" if absent.
func GetProfile(ctx context.Context) string {
	if p, ok := ctx.Value(ProfileKey).(string); ok {
		return p
	}
	return ""
}
